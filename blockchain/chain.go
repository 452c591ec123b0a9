// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"time"

	"github.com/decred/slog"

	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/walletcrypto"
)

// log is the subsystem logger for package blockchain.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by blockchain.
func UseLogger(logger slog.Logger) {
	log = logger
}

// BlockStore is the block-store contract the chain engine needs. It is
// declared here, not imported from package store, so that
// store (which depends on blockchain for its types) never has to be
// imported back -- package store's concrete *store.BlockStore satisfies
// this interface structurally.
type BlockStore interface {
	Latest() *Block
	Height() uint64
	GetByHeight(height uint64) (*Block, bool)
	GetByHash(hash string) (*Block, bool)
	AddBlock(b *Block) error
	ReplaceBlocksFrom(startPos int, received []Block) ([]Block, error)
	Flush() error
}

// TxStore is the transaction-store contract the chain engine needs,
// including TxLookup.
type TxStore interface {
	TxLookup
	AddTx(tx *Transaction, blockHeight uint64, position int) error
	RemoveTx(tx *Transaction) error
	AddPending(ptx PendingTransaction) bool
	GetPendingByID(id string) (*PendingTransaction, bool)
	GetPendingSorted(max int) []PendingTransaction
	CollectPendingForBlock(b *Block, minerAddress string) error
	CollectUTXOsForAddress(addr string) ([]UnspentTxOut, []TxOut, error)
	Flush() error
}

// Status is the outcome of AddBlocksFromPeer.
type Status int

const (
	Empty Status = iota
	NothingChanged
	NeedMore
	NeedMoreShouldStore
	AddedSingleBlock
	AddedMultipleBlocks
	RejectedInvalidSingleBlock
	RejectedInvalidMultipleBlocks
	RejectedShorterChain
	ReplacedMultipleBlocks
)

// Result is the full outcome of AddBlocksFromPeer: a status plus, for the
// Need_More* variants, the height the caller should resume requesting
// from.
type Result struct {
	Status     Status
	StartIndex uint64
}

// MempoolStatus is the outcome of AddPending. SoftRejected is defined by
// the enum but never actually returned by this implementation: there is
// currently no admission outcome distinct enough from MempoolAdded to
// warrant it.
type MempoolStatus int

const (
	MempoolEmpty MempoolStatus = iota
	MempoolAdded
	MempoolSoftRejected
	MempoolHardRejected
)

// Sentinel errors for send().
var (
	ErrSendWrongKey      = errors.New("private key does not match source address")
	ErrSendTooManyInputs = errors.New("too many inputs required")
	ErrSendInsufficient  = errors.New("insufficient funds")
)

// Chain is the chain engine: it owns no storage itself, instead
// orchestrating a BlockStore and a TxStore under a single chain-wide
// lock (the lock itself belongs to the caller -- package protocol --
// since only it knows when network I/O must not be interleaved with a
// held lock).
type Chain struct {
	Blocks   BlockStore
	Txs      TxStore
	SigCache *SigCache

	// Now returns the current time in milliseconds since the Unix epoch.
	// Overridable so tests can pin the clock.
	Now func() int64
}

// New creates a Chain engine wired to the given stores.
func New(blocks BlockStore, txs TxStore) *Chain {
	cache, _ := NewSigCache(100000)
	return &Chain{
		Blocks:   blocks,
		Txs:      txs,
		SigCache: cache,
		Now:      func() int64 { return time.Now().UnixMilli() },
	}
}

func (c *Chain) now() int64 {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UnixMilli()
}

func clampStart(h uint64, step uint64) uint64 {
	if h < step {
		return 0
	}
	return h - step
}

// commitAppend validates nothing itself; it assumes b has already passed
// ValidateBlock and simply commits it and indexes its transactions,
// dropping any mempool entries that were just mined.
func (c *Chain) commitAppend(b *Block) error {
	if err := c.Blocks.AddBlock(b); err != nil {
		return err
	}
	for i := range b.Transactions {
		if err := c.Txs.AddTx(&b.Transactions[i], b.Height, i); err != nil {
			return err
		}
	}
	return c.Blocks.Flush()
}

// commitReplacement replaces blocks[startPos:] worth of local chain state
// with the corresponding suffix of received, de-indexing transactions
// from removed blocks and indexing transactions from the received blocks
// that took their place.
func (c *Chain) commitReplacement(startPos int, received []Block) error {
	removed, err := c.Blocks.ReplaceBlocksFrom(startPos, received)
	if err != nil {
		return err
	}
	for i := range removed {
		for j := range removed[i].Transactions {
			if err := c.Txs.RemoveTx(&removed[i].Transactions[j]); err != nil {
				return err
			}
		}
	}
	for i := startPos; i < len(received); i++ {
		for j := range received[i].Transactions {
			if err := c.Txs.AddTx(&received[i].Transactions[j], received[i].Height, j); err != nil {
				return err
			}
		}
	}
	return c.Blocks.Flush()
}

// AddNewBlock validates and commits a single block that extends the
// current tip -- the path used for both locally mined blocks and a
// directly-extending block delivered by a peer.
func (c *Chain) AddNewBlock(b *Block) error {
	latest := c.Blocks.Latest()
	receivedTxMap := make(map[string]*Transaction)
	spent := make(map[string]bool)
	if err := ValidateBlock(b, latest, c.Txs, receivedTxMap, spent, c.SigCache, c.now()); err != nil {
		return err
	}
	return c.commitAppend(b)
}

// AddBlocksFromPeer reconciles a batch of blocks announced by a peer
// against the local chain, choosing among direct extension, fork
// replacement, a request for more history, or rejection.
func (c *Chain) AddBlocksFromPeer(blocks []Block, peerHeight uint64) (Result, error) {
	if len(blocks) == 0 {
		return Result{Status: Empty}, nil
	}

	latest := c.Blocks.Latest()
	L := latest.Height

	if blocks[0].Height > L+1 {
		return Result{Status: NeedMore, StartIndex: L + 1}, nil
	}

	if len(blocks) == 1 {
		b := blocks[0]
		switch {
		case b.Height == L && b.Equal(latest):
			return Result{Status: NothingChanged}, nil
		case b.Height == L+1:
			if b.PrevHash != latest.Hash {
				return Result{Status: NeedMoreShouldStore, StartIndex: clampStart(L, chaincfg.ConflictResolutionSteps)}, nil
			}
			receivedTxMap := make(map[string]*Transaction)
			spent := make(map[string]bool)
			if err := ValidateBlock(&b, latest, c.Txs, receivedTxMap, spent, c.SigCache, c.now()); err != nil {
				return Result{Status: RejectedInvalidSingleBlock}, err
			}
			blocks[0] = b
			if err := c.commitAppend(&blocks[0]); err != nil {
				return Result{Status: RejectedInvalidSingleBlock}, err
			}
			return Result{Status: AddedSingleBlock}, nil
		case b.Height == 0 && b.Equal(GenesisBlock()):
			return Result{Status: NothingChanged}, nil
		default:
			return Result{Status: RejectedShorterChain}, nil
		}
	}

	// Multi-block batch.
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Height != blocks[i-1].Height+1 {
			return Result{Status: RejectedInvalidMultipleBlocks}, errors.New("received blocks are not contiguous")
		}
	}

	last := blocks[len(blocks)-1]

	var startPos int
	var rollingPrev *Block

	switch {
	case blocks[0].Height == L+1 && blocks[0].PrevHash == latest.Hash:
		startPos = 0
		rollingPrev = latest

	case last.Height <= L:
		if peerHeight > L {
			return Result{Status: NeedMoreShouldStore, StartIndex: last.Height + 1}, nil
		}
		return Result{Status: RejectedShorterChain}, nil

	default:
		pos, prev, result, err := c.findDivergence(blocks, L)
		if result != nil {
			return *result, err
		}
		startPos, rollingPrev = pos, prev
	}

	receivedTxMap := make(map[string]*Transaction)
	spent := make(map[string]bool)
	prev := rollingPrev
	for i := startPos; i < len(blocks); i++ {
		if err := ValidateBlock(&blocks[i], prev, c.Txs, receivedTxMap, spent, c.SigCache, c.now()); err != nil {
			return Result{Status: RejectedInvalidMultipleBlocks}, err
		}
		prev = &blocks[i]
	}

	if startPos == 0 {
		if err := c.commitReplacement(0, blocks); err != nil {
			return Result{Status: RejectedInvalidMultipleBlocks}, err
		}
		return Result{Status: AddedMultipleBlocks}, nil
	}
	if err := c.commitReplacement(startPos, blocks); err != nil {
		return Result{Status: RejectedInvalidMultipleBlocks}, err
	}
	return Result{Status: ReplacedMultipleBlocks}, nil
}

// findDivergence walks the overlapping (height <= L) prefix of a received
// batch to find where it parts ways with the local chain, covering the
// case where the tail extends above L but the head overlaps or
// mismatches. On success it returns the index to start replacing
// from and the block the first replacement must attach to. If the walk
// itself resolves the request (NothingChanged / a Need_More* / an invalid
// batch), result is non-nil and the caller should return it directly.
func (c *Chain) findDivergence(blocks []Block, L uint64) (int, *Block, *Result, error) {
	genesis := GenesisBlock()

	for i := range blocks {
		b := &blocks[i]
		if b.Height > L {
			break
		}
		local, ok := c.Blocks.GetByHeight(b.Height)
		if !ok {
			return 0, nil, &Result{Status: RejectedInvalidMultipleBlocks}, errors.New("local chain missing expected height")
		}
		if b.Equal(local) {
			continue
		}

		if b.Height == 0 {
			if b.Equal(genesis) {
				if len(blocks) == 1 {
					return 0, nil, &Result{Status: NothingChanged}, nil
				}
				return i + 1, genesis, nil, nil
			}
			return 0, nil, &Result{Status: RejectedInvalidMultipleBlocks}, errors.New("received genesis does not match local genesis")
		}

		if i == 0 {
			start := clampStart(b.Height, chaincfg.ConflictResolutionSteps)
			return 0, nil, &Result{Status: NeedMoreShouldStore, StartIndex: start}, nil
		}

		prevLocal, _ := c.Blocks.GetByHeight(blocks[i-1].Height)
		return i, prevLocal, nil, nil
	}

	// The entire height <= L prefix matched; the divergence, if any, is
	// where the batch first exceeds L.
	idx := 0
	for idx < len(blocks) && blocks[idx].Height <= L {
		idx++
	}
	latest := c.Blocks.Latest()
	if idx == len(blocks) {
		return 0, nil, &Result{Status: NothingChanged}, nil
	}
	if blocks[idx].PrevHash != latest.Hash {
		start := clampStart(L, chaincfg.ConflictResolutionSteps)
		return 0, nil, &Result{Status: NeedMoreShouldStore, StartIndex: start}, nil
	}
	return idx, latest, nil, nil
}

// AddPending validates a batch of incoming transactions and admits
// whichever ones pass into the mempool, skipping any whose parent
// outputs are not yet known rather than hard-rejecting them.
func (c *Chain) AddPending(txs []Transaction) (MempoolStatus, error) {
	if len(txs) == 0 {
		return MempoolEmpty, nil
	}

	type accepted struct {
		tx      Transaction
		ignored bool
	}
	results := make([]accepted, 0, len(txs))
	receivedTxMap := make(map[string]*Transaction)

	for i := range txs {
		tx := &txs[i]

		if got := ComputeTxID(tx.TxIn, tx.TxOut); got != tx.ID {
			return MempoolHardRejected, ruleError(ErrBadTxID, "transaction id does not match recomputed id")
		}
		if c.Txs.HasTx(tx.ID) {
			continue
		}
		if _, ok := c.Txs.GetPendingByID(tx.ID); ok {
			continue
		}

		err := validateNonCoinbaseTx(tx, c.Txs, receivedTxMap, nil, c.SigCache, false)
		if err != nil {
			var rerr RuleError
			if errors.As(err, &rerr) && rerr.ErrorCode == ErrMissingParent {
				results = append(results, accepted{tx: *tx, ignored: true})
				continue
			}
			return MempoolHardRejected, err
		}
		results = append(results, accepted{tx: *tx})
	}

	added := false
	for _, r := range results {
		if r.ignored {
			continue
		}
		if c.Txs.AddPending(PendingTransaction{ArrivedAt: c.now(), Tx: r.tx}) {
			added = true
		}
	}
	if err := c.Txs.Flush(); err != nil {
		return MempoolAdded, err
	}
	if added {
		return MempoolAdded, nil
	}
	return MempoolAdded, nil
}

// PrepareBlockTemplate assembles an unmined block extending the current
// tip: the mempool's oldest pending transactions plus a coinbase paying
// minerAddress.
func (c *Chain) PrepareBlockTemplate(minerAddress string) (*Block, error) {
	latest := c.Blocks.Latest()
	b := &Block{
		Height:    latest.Height + 1,
		Timestamp: c.now(),
		PrevHash:  latest.Hash,
	}
	if err := c.Txs.CollectPendingForBlock(b, minerAddress); err != nil {
		return nil, err
	}
	return b, nil
}

// Send assembles, signs, and enqueues a transaction moving amount from
// from to to, spending only from's confirmed UTXOs; unconfirmed outputs
// paying from are not used as inputs.
func (c *Chain) Send(from, to string, amount chaincfg.Amount, privKey []byte) (*Transaction, error) {
	derived, err := walletcrypto.DeriveAddress(privKey)
	if err != nil {
		return nil, err
	}
	if derived != from {
		return nil, ErrSendWrongKey
	}

	utxos, pendingOutputs, err := c.Txs.CollectUTXOsForAddress(from)
	if err != nil {
		return nil, err
	}

	need := amount + chaincfg.FeePerTx
	var accumulated chaincfg.Amount
	var inputs []TxIn

	for _, u := range utxos {
		if accumulated >= need {
			break
		}
		tx, ok := c.Txs.GetTx(u.TxID)
		if !ok || int(u.Index) >= len(tx.TxOut) {
			continue
		}
		out := tx.TxOut[u.Index]
		inputs = append(inputs, TxIn{PrevTxID: u.TxID, PrevTxIndex: u.Index})
		accumulated += out.Amount
	}
	// pendingOutputs are outputs not yet confirmed but already directed
	// at `from`. They carry no (txid, index) of their own usable as an
	// input reference here because they have not been indexed yet, so
	// they are not spent directly; only confirmed UTXOs fund a new send.
	_ = pendingOutputs

	if len(inputs) > chaincfg.MaxTxInputs {
		return nil, ErrSendTooManyInputs
	}
	if accumulated < need {
		return nil, ErrSendInsufficient
	}

	outputs := []TxOut{{Amount: amount, Address: to}}
	if change := accumulated - need; change > 0 {
		outputs = append(outputs, TxOut{Amount: change, Address: from})
	}

	tx := &Transaction{TxIn: inputs, TxOut: outputs}
	tx.ID = ComputeTxID(tx.TxIn, tx.TxOut)

	signature, err := walletcrypto.Sign(privKey, tx.ID)
	if err != nil {
		return nil, err
	}
	for i := range tx.TxIn {
		tx.TxIn[i].Signature = signature
	}

	c.Txs.AddPending(PendingTransaction{ArrivedAt: c.now(), Tx: *tx})
	if err := c.Txs.Flush(); err != nil {
		return nil, err
	}
	return tx, nil
}
