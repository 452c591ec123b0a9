// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/alexanderdna/ameowcoin/chaincfg"
)

// memBlockStore is a minimal in-memory BlockStore used only to exercise
// Chain's decision tree without pulling in package store.
type memBlockStore struct {
	blocks []Block
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{blocks: []Block{*GenesisBlock()}}
}

func (s *memBlockStore) Latest() *Block { return &s.blocks[len(s.blocks)-1] }
func (s *memBlockStore) Height() uint64 { return s.blocks[len(s.blocks)-1].Height }

func (s *memBlockStore) GetByHeight(h uint64) (*Block, bool) {
	if h >= uint64(len(s.blocks)) {
		return nil, false
	}
	return &s.blocks[h], true
}

func (s *memBlockStore) GetByHash(hash string) (*Block, bool) {
	for i := range s.blocks {
		if s.blocks[i].Hash == hash {
			return &s.blocks[i], true
		}
	}
	return nil, false
}

func (s *memBlockStore) AddBlock(b *Block) error {
	s.blocks = append(s.blocks, *b)
	return nil
}

func (s *memBlockStore) ReplaceBlocksFrom(startPos int, received []Block) ([]Block, error) {
	removed := append([]Block(nil), s.blocks[startPos:]...)
	s.blocks = append(append([]Block(nil), s.blocks[:startPos]...), received[startPos:]...)
	return removed, nil
}

func (s *memBlockStore) Flush() error { return nil }

// memTxStore is a minimal in-memory TxStore.
type memTxStore struct {
	byID    map[string]*Transaction
	pending map[string]PendingTransaction
}

func newMemTxStore() *memTxStore {
	return &memTxStore{byID: make(map[string]*Transaction), pending: make(map[string]PendingTransaction)}
}

func (s *memTxStore) HasTx(id string) bool { _, ok := s.byID[id]; return ok }
func (s *memTxStore) GetTx(id string) (*Transaction, bool) {
	tx, ok := s.byID[id]
	return tx, ok
}
func (s *memTxStore) AddTx(tx *Transaction, blockHeight uint64, position int) error {
	cp := *tx
	s.byID[tx.ID] = &cp
	delete(s.pending, tx.ID)
	return nil
}
func (s *memTxStore) RemoveTx(tx *Transaction) error {
	delete(s.byID, tx.ID)
	return nil
}
func (s *memTxStore) AddPending(ptx PendingTransaction) bool {
	if _, ok := s.pending[ptx.Tx.ID]; ok {
		return false
	}
	s.pending[ptx.Tx.ID] = ptx
	return true
}
func (s *memTxStore) GetPendingByID(id string) (*PendingTransaction, bool) {
	p, ok := s.pending[id]
	return &p, ok
}
func (s *memTxStore) GetPendingSorted(max int) []PendingTransaction {
	out := make([]PendingTransaction, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	if max >= 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
func (s *memTxStore) CollectPendingForBlock(b *Block, minerAddress string) error {
	var count int
	for _, p := range s.pending {
		b.Transactions = append(b.Transactions, p.Tx)
		count++
		if count >= chaincfg.MaxTxInBlock-1 {
			break
		}
	}
	reward := chaincfg.BaseReward(b.Height) + chaincfg.FeePerTx*chaincfg.Amount(len(b.Transactions))
	coinbase := NewCoinbaseTx(b.Height, reward, minerAddress)
	b.Transactions = append([]Transaction{*coinbase}, b.Transactions...)
	b.MerkleRoot = ComputeMerkleRoot(b.Transactions)
	return nil
}
func (s *memTxStore) CollectUTXOsForAddress(addr string) ([]UnspentTxOut, []TxOut, error) {
	return nil, nil, nil
}
func (s *memTxStore) Flush() error { return nil }

func mineOnto(t *testing.T, prev *Block, txs []Transaction) *Block {
	t.Helper()
	b := &Block{
		Height:       prev.Height + 1,
		Timestamp:    prev.Timestamp + chaincfg.MinDistance(prev.Height+1) + 1,
		Transactions: txs,
		PrevHash:     prev.Hash,
	}
	b.MerkleRoot = ComputeMerkleRoot(b.Transactions)
	// On success Mine writes the winning nonce and hash into b itself.
	result, _ := Mine(b, 0, 10_000_000)
	if result != MineSuccess {
		t.Fatalf("failed to mine test block at height %d", b.Height)
	}
	return b
}

func newTestChain() (*Chain, *memBlockStore, *memTxStore) {
	bs := newMemBlockStore()
	ts := newMemTxStore()
	c := New(bs, ts)
	return c, bs, ts
}

func TestAddBlocksFromPeerExtendsTip(t *testing.T) {
	c, bs, _ := newTestChain()
	coinbase := NewCoinbaseTx(1, chaincfg.BaseReward(1), "miner-address")
	b1 := mineOnto(t, bs.Latest(), []Transaction{*coinbase})

	result, err := c.AddBlocksFromPeer([]Block{*b1}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != AddedSingleBlock {
		t.Fatalf("expected AddedSingleBlock, got %v", result.Status)
	}
	if bs.Height() != 1 {
		t.Fatalf("expected chain height 1, got %d", bs.Height())
	}
}

func TestAddBlocksFromPeerEmptyBatch(t *testing.T) {
	c, _, _ := newTestChain()
	result, err := c.AddBlocksFromPeer(nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != Empty {
		t.Fatalf("expected Empty, got %v", result.Status)
	}
}

func TestAddBlocksFromPeerAheadOfTip(t *testing.T) {
	c, _, _ := newTestChain()
	coinbase := NewCoinbaseTx(5, chaincfg.BaseReward(5), "miner-address")
	farBlock := &Block{Height: 5, Transactions: []Transaction{*coinbase}}

	result, err := c.AddBlocksFromPeer([]Block{*farBlock}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != NeedMore || result.StartIndex != 1 {
		t.Fatalf("expected NeedMore at index 1, got %v/%d", result.Status, result.StartIndex)
	}
}

func TestAddBlocksFromPeerResendOfAcceptedGenesisIsNoop(t *testing.T) {
	c, bs, _ := newTestChain()
	coinbase1 := NewCoinbaseTx(1, chaincfg.BaseReward(1), "miner-address")
	b1 := mineOnto(t, bs.Latest(), []Transaction{*coinbase1})
	if _, err := c.AddBlocksFromPeer([]Block{*b1}, 1); err != nil {
		t.Fatalf("setup: %v", err)
	}

	result, err := c.AddBlocksFromPeer([]Block{*GenesisBlock()}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != NothingChanged {
		t.Fatalf("expected NothingChanged for a resend of the already-accepted genesis, got %v", result.Status)
	}
}

func TestAddPendingIgnoresUnknownParent(t *testing.T) {
	c, _, _ := newTestChain()
	tx := Transaction{
		TxIn:  []TxIn{{PrevTxID: "does-not-exist", PrevTxIndex: 0, Signature: "00.00"}},
		TxOut: []TxOut{{Amount: 1, Address: "addr"}},
	}
	tx.ID = ComputeTxID(tx.TxIn, tx.TxOut)

	status, err := c.AddPending([]Transaction{tx})
	if err != nil {
		t.Fatalf("unexpected hard error: %v", err)
	}
	if status != MempoolAdded {
		t.Fatalf("expected MempoolAdded (addPending only hard-fails on malformed entries, never on unresolved parents), got %v", status)
	}
	if _, ok := c.Txs.GetPendingByID(tx.ID); ok {
		t.Fatalf("transaction with unresolved parent should not have entered the mempool")
	}
}

func TestAddPendingRejectsBadTxID(t *testing.T) {
	c, _, _ := newTestChain()
	tx := Transaction{
		ID:    "not-the-real-id",
		TxIn:  nil,
		TxOut: []TxOut{{Amount: 1, Address: "addr"}},
	}

	status, err := c.AddPending([]Transaction{tx})
	if err == nil {
		t.Fatalf("expected an error for a transaction with a forged id")
	}
	if status != MempoolHardRejected {
		t.Fatalf("expected MempoolHardRejected, got %v", status)
	}
}

func TestPrepareBlockTemplateIncludesCoinbase(t *testing.T) {
	c, bs, _ := newTestChain()
	b, err := c.PrepareBlockTemplate("miner-address")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Height != bs.Height()+1 {
		t.Fatalf("expected template height %d, got %d", bs.Height()+1, b.Height)
	}
	if len(b.Transactions) != 1 || !b.Transactions[0].IsCoinbase(b.Height) {
		t.Fatalf("expected template's only transaction to be a coinbase")
	}
}
