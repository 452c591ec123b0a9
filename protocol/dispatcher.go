// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package protocol

import (
	"sync"
	"time"

	"github.com/decred/dcrd/lru"
	"github.com/decred/slog"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/peerconn"
	"github.com/alexanderdna/ameowcoin/wire"
)

// log is the subsystem logger for package protocol.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by protocol.
func UseLogger(logger slog.Logger) {
	log = logger
}

// ProtocolVersion is this node's advertised wire protocol version.
const ProtocolVersion = 1

// recentTxCacheLimit bounds the recently-relayed transaction id cache
// used to stop mempool gossip from looping.
const recentTxCacheLimit = 5000

// Notifier receives callbacks for inventory this node newly accepted --
// package rpcserver implements one to push websocket notifications.
type Notifier interface {
	NotifyBlock(b *blockchain.Block)
	NotifyTransaction(tx *blockchain.Transaction)
}

type noopNotifier struct{}

func (noopNotifier) NotifyBlock(*blockchain.Block)             {}
func (noopNotifier) NotifyTransaction(*blockchain.Transaction) {}

// Node owns the chain engine, the peer set, the IBD controller, and the
// chain lock that serializes access to them.
type Node struct {
	Chain     *blockchain.Chain
	ChainLock *TimedMutex
	IBD       *ibd.Controller
	Nonce     string
	Notifier  Notifier

	Now func() int64

	recentTxIDs *lru.Cache

	peersMu sync.Mutex
	peers   []*peerconn.Peer
}

// NewNode creates a Node wired to chain, with an empty peer set and IBD
// in phase None.
func NewNode(chain *blockchain.Chain, nonce string) *Node {
	return &Node{
		Chain:       chain,
		ChainLock:   NewTimedMutex(),
		IBD:         ibd.New(),
		Nonce:       nonce,
		Notifier:    noopNotifier{},
		Now:         func() int64 { return time.Now().UnixMilli() },
		recentTxIDs: lru.NewCache(recentTxCacheLimit),
	}
}

func (n *Node) now() int64 {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now().UnixMilli()
}

// RegisterPeer adds p to the house-keeping-guarded peer list.
func (n *Node) RegisterPeer(p *peerconn.Peer) {
	n.peersMu.Lock()
	n.peers = append(n.peers, p)
	n.peersMu.Unlock()
}

// UnregisterPeer removes p from the peer list.
func (n *Node) UnregisterPeer(p *peerconn.Peer) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	for i, existing := range n.peers {
		if existing == p {
			n.peers = append(n.peers[:i], n.peers[i+1:]...)
			return
		}
	}
}

// Peers returns a snapshot of the currently registered peers.
func (n *Node) Peers() []*peerconn.Peer {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	return append([]*peerconn.Peer(nil), n.peers...)
}

// broadcastExcept sends payload of type t to every registered peer other
// than except.
func (n *Node) broadcastExcept(t wire.MessageType, payload interface{}, except *peerconn.Peer) {
	for _, p := range n.Peers() {
		if p == except {
			continue
		}
		p.Send(t, payload)
	}
}

func (n *Node) versionPayload() wire.VersionPayload {
	return wire.VersionPayload{Ver: ProtocolVersion, Height: n.Chain.Blocks.Height(), Nonce: n.Nonce}
}

// sendVersion sends our Version message to p.
func (n *Node) sendVersion(p *peerconn.Peer) {
	p.Send(wire.Version, n.versionPayload())
}

// handleVersion performs the Version arm of the handshake.
func (n *Node) handleVersion(p *peerconn.Peer, env *wire.Envelope) {
	if p.Version() > 0 {
		p.Disconnect()
		return
	}
	var payload wire.VersionPayload
	if err := env.Unmarshal(&payload); err != nil {
		p.Disconnect()
		return
	}
	if payload.Nonce == n.Nonce {
		p.Disconnect()
		return
	}
	if payload.Ver < ProtocolVersion {
		p.Disconnect()
		return
	}

	p.SetVersion(payload.Ver)
	p.SetLastHeight(payload.Height)

	if p.IsOutbound {
		n.sendVersion(p)
	} else {
		p.Send(wire.VersionAck, wire.VersionAckPayload{})
	}
}

// handleVersionAck performs the VersionAck arm of the handshake.
func (n *Node) handleVersionAck(p *peerconn.Peer, env *wire.Envelope) {
	if p.HasHandshake() {
		return
	}
	p.SetHandshakeComplete()
	p.Send(wire.VersionAck, wire.VersionAckPayload{})
	n.onHandshakeComplete(p)
	if !p.IsOutbound {
		p.RequestedAt = time.Now()
		p.Send(wire.GetLatestBlock, struct{}{})
	}
}

// ibdDone reports whether IBD has reached a terminal, successful phase.
func (n *Node) ibdDone() bool {
	return n.IBD.Phase() == ibd.Succeeded
}

// handleGetLatestBlock always answers, even before our own IBD has
// finished: the handshake rules have the inbound side send GetLatestBlock
// specifically "to seed IBD" on both ends, so gating this on our own IBD
// completion would deadlock two freshly connected nodes against each
// other.
func (n *Node) handleGetLatestBlock(p *peerconn.Peer) {
	if !n.ChainLock.TryLock(ChainLockTimeout) {
		log.Warnf("chain lock timeout handling GetLatestBlock from %s", p.Addr)
		return
	}
	latest := *n.Chain.Blocks.Latest()
	n.ChainLock.Unlock()
	p.Send(wire.LatestBlock, wire.LatestBlockPayload{Block: latest})
}

// handleLatestBlock covers both the Preparing phase (recording an
// announcement) and steady-state operation (fork resolution via
// AddBlocksFromPeer).
func (n *Node) handleLatestBlock(p *peerconn.Peer, env *wire.Envelope) {
	var payload wire.LatestBlockPayload
	if err := env.Unmarshal(&payload); err != nil {
		p.Disconnect()
		return
	}
	if payload.Block.Hash == "" || !blockchain.CheckProofOfWork(payload.Block.Hash, payload.Block.Height) {
		p.Disconnect()
		return
	}
	p.SetLastHeight(payload.Block.Height)

	if n.IBD.Phase() == ibd.Preparing {
		if n.IBD.RecordAnnouncement(p, &payload.Block, time.Now()) {
			n.startIBDRunning()
		}
		return
	}

	merged := p.GetStoredAndNewBlocks([]blockchain.Block{payload.Block})
	n.processBlocks(p, merged, payload.Block.Height, false)
}

func (n *Node) handleGetBlocks(p *peerconn.Peer, env *wire.Envelope) {
	if !n.ibdDone() {
		return
	}
	var payload wire.GetBlocksPayload
	if err := env.Unmarshal(&payload); err != nil {
		p.Disconnect()
		return
	}
	if payload.MaxCount < 1 || payload.MaxCount > chaincfg.MaxGetBlocks {
		return
	}

	if !n.ChainLock.TryLock(ChainLockTimeout) {
		log.Warnf("chain lock timeout handling GetBlocks from %s", p.Addr)
		return
	}
	var blocks []blockchain.Block
	height := n.Chain.Blocks.Height()
	for h := payload.StartIndex; h <= height && len(blocks) < payload.MaxCount; h++ {
		b, ok := n.Chain.Blocks.GetByHeight(h)
		if !ok {
			break
		}
		blocks = append(blocks, *b)
	}
	n.ChainLock.Unlock()

	p.Send(wire.Blocks, wire.BlocksPayload{Blocks: blocks})
}

// handleBlocks performs the Blocks arm of the protocol.
func (n *Node) handleBlocks(p *peerconn.Peer, env *wire.Envelope) {
	running := n.IBD.Phase() == ibd.Running
	if running {
		if selected, ok := n.IBD.SelectedPeer(); !ok || selected != p {
			return
		}
	}

	var payload wire.BlocksPayload
	if err := env.Unmarshal(&payload); err != nil {
		p.Disconnect()
		return
	}

	peerHeight := p.LastHeight()
	merged := p.GetStoredAndNewBlocks(payload.Blocks)
	n.processBlocks(p, merged, peerHeight, running)
}

// processBlocks applies AddBlocksFromPeer under the chain lock and acts
// on the result, shared by the LatestBlock and Blocks handlers.
func (n *Node) processBlocks(p *peerconn.Peer, blocks []blockchain.Block, peerHeight uint64, ibdRunning bool) {
	if !n.ChainLock.TryLock(ChainLockTimeout) {
		log.Warnf("chain lock timeout processing blocks from %s", p.Addr)
		return
	}
	result, err := n.Chain.AddBlocksFromPeer(blocks, peerHeight)
	latest := *n.Chain.Blocks.Latest()
	n.ChainLock.Unlock()

	if err != nil {
		log.Debugf("%s: %v", p.Addr, err)
	}

	switch result.Status {
	case blockchain.Empty, blockchain.NothingChanged:
		// no-op

	case blockchain.AddedSingleBlock, blockchain.AddedMultipleBlocks, blockchain.ReplacedMultipleBlocks:
		p.ClearStoredBlocks()
		n.Notifier.NotifyBlock(&latest)
		n.broadcastExcept(wire.LatestBlock, wire.LatestBlockPayload{Block: latest}, p)
		if ibdRunning {
			n.advanceIBDRange(p)
		}

	case blockchain.NeedMore, blockchain.NeedMoreShouldStore:
		for _, b := range blocks {
			p.StoreBlock(b)
		}
		p.Send(wire.GetBlocks, wire.GetBlocksPayload{StartIndex: result.StartIndex, MaxCount: chaincfg.MaxGetBlocks})

	case blockchain.RejectedShorterChain:
		// no-op, no disconnect

	case blockchain.RejectedInvalidSingleBlock, blockchain.RejectedInvalidMultipleBlocks:
		p.Disconnect()
		if ibdRunning {
			n.advanceIBDPeer()
		}
	}
}

func (n *Node) handleGetMempool(p *peerconn.Peer) {
	if !n.ibdDone() {
		return
	}
	txs := n.Chain.Txs.GetPendingSorted(chaincfg.MaxPendingToSend)
	p.Send(wire.Mempool, wire.MempoolPayload{Relayed: false, Transactions: txs})
}

// handleMempool performs the Mempool arm of the protocol. AddPending
// reports MempoolAdded whether or not any transaction was actually new,
// so relaying is gated on recentTxIDs rather than on the status alone --
// otherwise a mempool reply carrying only transactions every peer has
// already seen would be re-broadcast network-wide on every hop.
func (n *Node) handleMempool(p *peerconn.Peer, env *wire.Envelope) {
	if !n.ibdDone() {
		return
	}
	var payload wire.MempoolPayload
	if err := env.Unmarshal(&payload); err != nil {
		p.Disconnect()
		return
	}

	var freshTxs []blockchain.Transaction
	var freshPending []blockchain.PendingTransaction
	for _, pt := range payload.Transactions {
		if n.recentTxIDs.Contains(pt.Tx.ID) {
			continue
		}
		freshTxs = append(freshTxs, pt.Tx)
		freshPending = append(freshPending, pt)
	}
	if len(freshTxs) == 0 {
		return
	}

	if !n.ChainLock.TryLock(ChainLockTimeout) {
		log.Warnf("chain lock timeout processing mempool from %s", p.Addr)
		return
	}
	status, _ := n.Chain.AddPending(freshTxs)
	n.ChainLock.Unlock()

	switch status {
	case blockchain.MempoolAdded:
		for i := range freshTxs {
			n.recentTxIDs.Add(freshTxs[i].ID)
			n.Notifier.NotifyTransaction(&freshTxs[i])
		}
		n.broadcastExcept(wire.Mempool, wire.MempoolPayload{Relayed: true, Transactions: freshPending}, p)
	case blockchain.MempoolHardRejected:
		p.Disconnect()
	}
}

func (n *Node) handlePing(p *peerconn.Peer, env *wire.Envelope) {
	var payload wire.PingPayload
	if err := env.Unmarshal(&payload); err == nil {
		p.Send(wire.Pong, wire.PongPayload{Nonce: payload.Nonce})
	}
}

func (n *Node) handlePong(p *peerconn.Peer) {
	p.TouchPing(n.now())
}

// HandleEnvelope verifies env's checksum, enforces the handshake
// sequencing rules, and dispatches to the per-type handler.
func (n *Node) HandleEnvelope(p *peerconn.Peer, env *wire.Envelope) {
	if err := env.Verify(); err != nil {
		return
	}
	p.TouchMessageIn(n.now())

	if env.Type != wire.Version && p.Version() == 0 {
		p.Disconnect()
		return
	}
	if env.Type != wire.Version && env.Type != wire.VersionAck && !p.HasHandshake() {
		p.Disconnect()
		return
	}

	switch env.Type {
	case wire.Version:
		n.handleVersion(p, env)
	case wire.VersionAck:
		n.handleVersionAck(p, env)
	case wire.GetLatestBlock:
		n.handleGetLatestBlock(p)
	case wire.LatestBlock:
		n.handleLatestBlock(p, env)
	case wire.GetBlocks:
		n.handleGetBlocks(p, env)
	case wire.Blocks:
		n.handleBlocks(p, env)
	case wire.GetMempool:
		n.handleGetMempool(p)
	case wire.Mempool:
		n.handleMempool(p, env)
	case wire.Ping:
		n.handlePing(p, env)
	case wire.Pong:
		n.handlePong(p)
	default:
		p.Disconnect()
	}
}
