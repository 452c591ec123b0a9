// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
)

func txIndexPath(dir string) string {
	return filepath.Join(dir, "txindex.json")
}

type txIndexDocument struct {
	TxIndices map[string]blockchain.TransactionIndexEntry `json:"tx_indices"`
	UTXO      []blockchain.UnspentTxOut                   `json:"utxo"`
	Mempool   []blockchain.PendingTransaction              `json:"mempool"`
}

// TxStore persists the transaction index, the UTXO set, and the
// mempool. Full transaction bodies are not persisted here, since the
// index document only ever needs (height, position); the in-memory cache
// holds bodies indexed by AddTx and is otherwise filled lazily from the
// block store on lookup.
type TxStore struct {
	dir    string
	blocks *BlockStore

	index   map[string]blockchain.TransactionIndexEntry
	cache   map[string]*blockchain.Transaction
	utxo    []blockchain.UnspentTxOut
	mempool []blockchain.PendingTransaction
}

// NewTxStore opens (or initializes) a transaction store rooted at dir,
// backed by blocks for lazily resolving transaction bodies.
func NewTxStore(dir string, blocks *BlockStore) (*TxStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &TxStore{
		dir:    dir,
		blocks: blocks,
		index:  make(map[string]blockchain.TransactionIndexEntry),
		cache:  make(map[string]*blockchain.Transaction),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TxStore) load() error {
	raw, err := os.ReadFile(txIndexPath(s.dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc txIndexDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc.TxIndices != nil {
		s.index = doc.TxIndices
	}
	s.utxo = doc.UTXO
	s.mempool = doc.Mempool
	return nil
}

// Flush writes the transaction index document to disk.
func (s *TxStore) Flush() error {
	doc := txIndexDocument{TxIndices: s.index, UTXO: s.utxo, Mempool: s.mempool}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(txIndexPath(s.dir), raw, 0o644)
}

// HasTx reports whether id is indexed as a confirmed transaction.
func (s *TxStore) HasTx(id string) bool {
	_, ok := s.index[id]
	return ok
}

// GetTx resolves a transaction body by id, consulting the lazy cache and
// falling back to the block store.
func (s *TxStore) GetTx(id string) (*blockchain.Transaction, bool) {
	if tx, ok := s.cache[id]; ok {
		return tx, true
	}
	entry, ok := s.index[id]
	if !ok {
		return nil, false
	}
	b, ok := s.blocks.GetByHeight(entry.Height)
	if !ok || entry.Position >= len(b.Transactions) {
		return nil, false
	}
	tx := b.Transactions[entry.Position]
	s.cache[id] = &tx
	return &tx, true
}

func utxoKey(txID string, index uint32) string {
	return fmt.Sprintf("%s:%d", txID, index)
}

// AddTx indexes a confirmed transaction: the spent inputs leave the
// UTXO list, the new outputs join it, and any mempool entry for the
// same id is dropped.
func (s *TxStore) AddTx(tx *blockchain.Transaction, blockHeight uint64, position int) error {
	if _, ok := s.index[tx.ID]; ok {
		return fmt.Errorf("store: transaction %s already indexed", tx.ID)
	}
	s.index[tx.ID] = blockchain.TransactionIndexEntry{Height: blockHeight, Position: position}
	cp := *tx
	s.cache[tx.ID] = &cp

	for _, in := range tx.TxIn {
		s.removeUTXO(in.PrevTxID, in.PrevTxIndex)
	}
	for i, out := range tx.TxOut {
		s.utxo = append(s.utxo, blockchain.UnspentTxOut{TxID: tx.ID, Index: uint32(i), Address: out.Address})
	}
	for i, p := range s.mempool {
		if p.Tx.ID == tx.ID {
			s.mempool = append(s.mempool[:i], s.mempool[i+1:]...)
			break
		}
	}
	return nil
}

func (s *TxStore) removeUTXO(txID string, index uint32) {
	for i, u := range s.utxo {
		if u.TxID == txID && u.Index == index {
			s.utxo = append(s.utxo[:i], s.utxo[i+1:]...)
			return
		}
	}
}

// RemoveTx reverses AddTx, restoring the UTXOs consumed by tx's inputs
// and removing the UTXOs it produced.
func (s *TxStore) RemoveTx(tx *blockchain.Transaction) error {
	delete(s.index, tx.ID)
	delete(s.cache, tx.ID)

	for i := range tx.TxOut {
		s.removeUTXO(tx.ID, uint32(i))
	}
	for _, in := range tx.TxIn {
		prev, ok := s.GetTx(in.PrevTxID)
		if !ok || int(in.PrevTxIndex) >= len(prev.TxOut) {
			continue
		}
		out := prev.TxOut[in.PrevTxIndex]
		s.utxo = append(s.utxo, blockchain.UnspentTxOut{TxID: in.PrevTxID, Index: in.PrevTxIndex, Address: out.Address})
	}
	return nil
}

// AddPending adds a transaction to the mempool, returning false if it is
// already present (by id) either in the mempool or the confirmed index.
func (s *TxStore) AddPending(ptx blockchain.PendingTransaction) bool {
	if s.HasTx(ptx.Tx.ID) {
		return false
	}
	for _, p := range s.mempool {
		if p.Tx.ID == ptx.Tx.ID {
			return false
		}
	}
	s.mempool = append(s.mempool, ptx)
	return true
}

// GetPendingByID looks up a mempool entry by transaction id.
func (s *TxStore) GetPendingByID(id string) (*blockchain.PendingTransaction, bool) {
	for i := range s.mempool {
		if s.mempool[i].Tx.ID == id {
			return &s.mempool[i], true
		}
	}
	return nil, false
}

// GetPendingSorted returns up to max mempool entries, oldest-arrival
// first.
func (s *TxStore) GetPendingSorted(max int) []blockchain.PendingTransaction {
	sorted := append([]blockchain.PendingTransaction(nil), s.mempool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ArrivedAt < sorted[j].ArrivedAt })
	if max >= 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

// CollectPendingForBlock selects up to MaxTxInBlock oldest mempool
// entries, inserts a coinbase paying BaseReward(height) plus the fee
// from each selected transaction at position 0, and sets the block's
// Merkle root.
func (s *TxStore) CollectPendingForBlock(b *blockchain.Block, minerAddress string) error {
	selected := s.GetPendingSorted(chaincfg.MaxTxInBlock)
	totalFee := chaincfg.FeePerTx * chaincfg.Amount(len(selected))
	coinbase := blockchain.NewCoinbaseTx(b.Height, chaincfg.BaseReward(b.Height)+totalFee, minerAddress)

	b.Transactions = make([]blockchain.Transaction, 0, len(selected)+1)
	b.Transactions = append(b.Transactions, *coinbase)
	for _, p := range selected {
		b.Transactions = append(b.Transactions, p.Tx)
	}
	b.MerkleRoot = blockchain.ComputeMerkleRoot(b.Transactions)
	return nil
}

// CollectUTXOsForAddress gathers addr's UTXOs, re-verifying each against
// its actual output, and walks the mempool to drop UTXOs already
// consumed there and to surface any not-yet-confirmed outputs paying
// addr.
func (s *TxStore) CollectUTXOsForAddress(addr string) ([]blockchain.UnspentTxOut, []blockchain.TxOut, error) {
	var gathered []blockchain.UnspentTxOut
	for _, u := range s.utxo {
		if u.Address != addr {
			continue
		}
		tx, ok := s.GetTx(u.TxID)
		if !ok || int(u.Index) >= len(tx.TxOut) {
			return nil, nil, fmt.Errorf("store: inconsistent utxo %s:%d", u.TxID, u.Index)
		}
		if tx.TxOut[u.Index].Address != addr {
			return nil, nil, fmt.Errorf("store: utxo %s:%d address hint mismatch", u.TxID, u.Index)
		}
		gathered = append(gathered, u)
	}

	spentInMempool := make(map[string]bool)
	var pendingOutputs []blockchain.TxOut
	for _, p := range s.mempool {
		for _, in := range p.Tx.TxIn {
			spentInMempool[utxoKey(in.PrevTxID, in.PrevTxIndex)] = true
		}
		for _, out := range p.Tx.TxOut {
			if out.Address == addr {
				pendingOutputs = append(pendingOutputs, out)
			}
		}
	}

	var result []blockchain.UnspentTxOut
	for _, u := range gathered {
		if !spentInMempool[utxoKey(u.TxID, u.Index)] {
			result = append(result, u)
		}
	}
	return result, pendingOutputs, nil
}
