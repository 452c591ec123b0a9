// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package protocol

import (
	"net"
	"testing"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/peerconn"
	"github.com/alexanderdna/ameowcoin/wire"
)

// memBlockStore and memTxStore are minimal in-memory doubles for
// blockchain.BlockStore/blockchain.TxStore, local to package protocol's
// tests so they don't need package store wired in just to exercise the
// dispatcher's handshake and sequencing rules.
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
	cp := *tx
	s.byID[tx.ID] = &cp
	delete(s.pending, tx.ID)
	return nil
}
func (s *memTxStore) RemoveTx(tx *blockchain.Transaction) error {
	delete(s.byID, tx.ID)
	return nil
}
func (s *memTxStore) AddPending(ptx blockchain.PendingTransaction) bool {
	if _, ok := s.pending[ptx.Tx.ID]; ok {
		return false
	}
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
	reward := chaincfg.BaseReward(b.Height)
	coinbase := blockchain.NewCoinbaseTx(b.Height, reward, minerAddress)
	b.Transactions = append([]blockchain.Transaction{*coinbase}, b.Transactions...)
	b.MerkleRoot = blockchain.ComputeMerkleRoot(b.Transactions)
	return nil
}
func (s *memTxStore) CollectUTXOsForAddress(addr string) ([]blockchain.UnspentTxOut, []blockchain.TxOut, error) {
	return nil, nil, nil
}
func (s *memTxStore) Flush() error { return nil }

func newTestNode(t *testing.T) *Node {
	t.Helper()
	chain := blockchain.New(newMemBlockStore(), newMemTxStore())
	return NewNode(chain, "local-node-nonce")
}

func newTestPeer(t *testing.T) *peerconn.Peer {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return peerconn.New("remote", server, true)
}

func envelope(t *testing.T, mt wire.MessageType, payload interface{}) *wire.Envelope {
	t.Helper()
	env, err := wire.NewEnvelope(mt, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return env
}

func TestSelfLoopRejection(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: n.Nonce}))
	if !p.ShouldDisconnect() {
		t.Fatalf("expected a peer whose nonce equals ours to be disconnected")
	}
}

func TestHandshakeClosureBeforeVersion(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.GetLatestBlock, struct{}{}))
	if !p.ShouldDisconnect() {
		t.Fatalf("expected a message before Version to cause disconnection")
	}
}

func TestHandshakeClosureAfterVersionBeforeAck(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"}))
	if p.ShouldDisconnect() {
		t.Fatalf("did not expect disconnection after a valid Version")
	}

	n.HandleEnvelope(p, envelope(t, wire.GetLatestBlock, struct{}{}))
	if !p.ShouldDisconnect() {
		t.Fatalf("expected a non-handshake message before VersionAck to cause disconnection")
	}
}

func TestHandshakeCompletesOnVersionAck(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"}))
	n.HandleEnvelope(p, envelope(t, wire.VersionAck, wire.VersionAckPayload{}))
	if p.ShouldDisconnect() {
		t.Fatalf("did not expect disconnection after a valid handshake")
	}
	if !p.HasHandshake() {
		t.Fatalf("expected handshake to be marked complete")
	}
}

func TestDuplicateVersionDisconnects(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"}))
	n.HandleEnvelope(p, envelope(t, wire.VersionAck, wire.VersionAckPayload{}))
	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"}))
	if !p.ShouldDisconnect() {
		t.Fatalf("expected a second Version after handshake to cause disconnection")
	}
}

func TestChecksumMismatchIsSilentlyDropped(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	env := envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"})
	env.Checksum = env.Checksum + 1

	n.HandleEnvelope(p, env)
	if p.ShouldDisconnect() {
		t.Fatalf("a checksum mismatch must be dropped silently, not cause disconnection")
	}
	if p.Version() != 0 {
		t.Fatalf("expected the malformed Version to have been ignored")
	}
}

func TestGetLatestBlockAnsweredBeforeIBDCompletes(t *testing.T) {
	n := newTestNode(t)
	p := newTestPeer(t)

	n.HandleEnvelope(p, envelope(t, wire.Version, wire.VersionPayload{Ver: ProtocolVersion, Height: 0, Nonce: "remote-nonce"}))
	n.HandleEnvelope(p, envelope(t, wire.VersionAck, wire.VersionAckPayload{}))
	if n.ibdDone() {
		t.Fatalf("test setup invariant broken: IBD should not be done yet")
	}

	n.HandleEnvelope(p, envelope(t, wire.GetLatestBlock, struct{}{}))
	if p.ShouldDisconnect() {
		t.Fatalf("GetLatestBlock must be answered even while our own IBD is incomplete, to avoid a bootstrap deadlock")
	}
}
