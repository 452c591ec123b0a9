// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/protocol"
)

type memBlockStore struct {
	blocks []blockchain.Block
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{blocks: []blockchain.Block{*blockchain.GenesisBlock()}}
}

func (s *memBlockStore) Latest() *blockchain.Block { return &s.blocks[len(s.blocks)-1] }
func (s *memBlockStore) Height() uint64            { return s.blocks[len(s.blocks)-1].Height }
func (s *memBlockStore) GetByHeight(h uint64) (*blockchain.Block, bool) {
	if h >= uint64(len(s.blocks)) {
		return nil, false
	}
	return &s.blocks[h], true
}
func (s *memBlockStore) GetByHash(hash string) (*blockchain.Block, bool) {
	for i := range s.blocks {
		if s.blocks[i].Hash == hash {
			return &s.blocks[i], true
		}
	}
	return nil, false
}
func (s *memBlockStore) AddBlock(b *blockchain.Block) error {
	s.blocks = append(s.blocks, *b)
	return nil
}
func (s *memBlockStore) ReplaceBlocksFrom(startPos int, received []blockchain.Block) ([]blockchain.Block, error) {
	removed := append([]blockchain.Block(nil), s.blocks[startPos:]...)
	s.blocks = append(append([]blockchain.Block(nil), s.blocks[:startPos]...), received[startPos:]...)
	return removed, nil
}
func (s *memBlockStore) Flush() error { return nil }

type memTxStore struct {
	byID    map[string]*blockchain.Transaction
	pending map[string]blockchain.PendingTransaction
}

func newMemTxStore() *memTxStore {
	return &memTxStore{
		byID:    make(map[string]*blockchain.Transaction),
		pending: make(map[string]blockchain.PendingTransaction),
	}
}

func (s *memTxStore) HasTx(id string) bool { _, ok := s.byID[id]; return ok }
func (s *memTxStore) GetTx(id string) (*blockchain.Transaction, bool) {
	tx, ok := s.byID[id]
	return tx, ok
}
func (s *memTxStore) AddTx(tx *blockchain.Transaction, blockHeight uint64, position int) error {
	return nil
}
func (s *memTxStore) RemoveTx(tx *blockchain.Transaction) error { return nil }
func (s *memTxStore) AddPending(ptx blockchain.PendingTransaction) bool {
	s.pending[ptx.Tx.ID] = ptx
	return true
}
func (s *memTxStore) GetPendingByID(id string) (*blockchain.PendingTransaction, bool) {
	p, ok := s.pending[id]
	return &p, ok
}
func (s *memTxStore) GetPendingSorted(max int) []blockchain.PendingTransaction {
	out := make([]blockchain.PendingTransaction, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	if max >= 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
func (s *memTxStore) CollectPendingForBlock(b *blockchain.Block, minerAddress string) error {
	return nil
}
func (s *memTxStore) CollectUTXOsForAddress(addr string) ([]blockchain.UnspentTxOut, []blockchain.TxOut, error) {
	return nil, nil, nil
}
func (s *memTxStore) Flush() error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	chain := blockchain.New(newMemBlockStore(), newMemTxStore())
	node := protocol.NewNode(chain, "test-nonce")
	return New(Config{
		Chain: chain,
		Node:  node,
		IBD:   ibd.New(),
	})
}

func doRPC(t *testing.T, s *Server, method string, params interface{}) rpcResponse {
	t.Helper()
	var paramsRaw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		paramsRaw = b
	}
	reqBody, err := json.Marshal(rpcRequest{ID: json.RawMessage(`1`), Method: method, Params: paramsRaw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestGetInfoReportsGenesisHeight(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "getinfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %v", resp.Error)
	}

	var info getInfoResult
	b, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(b, &info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Height != 0 {
		t.Fatalf("expected genesis height 0, got %d", info.Height)
	}
	if info.IBDPhase != "none" {
		t.Fatalf("expected ibd phase none, got %s", info.IBDPhase)
	}
}

func TestGetBlockByHeight(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "getblock", getBlockParams{Height: heightPtr(0)})
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %v", resp.Error)
	}

	var b blockchain.Block
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Hash != blockchain.GenesisBlock().Hash {
		t.Fatalf("expected genesis block, got height %d hash %s", b.Height, b.Hash)
	}
}

func TestGetBlockUnknownHeightIsError(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "getblock", getBlockParams{Height: heightPtr(999)})
	if resp.Error == nil {
		t.Fatalf("expected an error for an unknown height")
	}
}

func TestGetRawMempoolEmptyByDefault(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "getrawmempool", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %v", resp.Error)
	}
	var txs []blockchain.PendingTransaction
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &txs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected an empty mempool, got %d entries", len(txs))
	}
}

func TestUnknownMethodIsError(t *testing.T) {
	s := newTestServer(t)
	resp := doRPC(t, s, "notarealmethod", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected a method-not-found error, got %v", resp.Error)
	}
}

func TestRequiresAuthWhenConfigured(t *testing.T) {
	chain := blockchain.New(newMemBlockStore(), newMemTxStore())
	node := protocol.NewNode(chain, "test-nonce")
	s := New(Config{Chain: chain, Node: node, IBD: ibd.New(), Username: "user", Password: "pass"})

	reqBody, _ := json.Marshal(rpcRequest{ID: json.RawMessage(`1`), Method: "getinfo"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func heightPtr(h uint64) *uint64 { return &h }
