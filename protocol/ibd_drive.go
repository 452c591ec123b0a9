// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package protocol

import (
	"time"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/peerconn"
	"github.com/alexanderdna/ameowcoin/wire"
)

// BeginIBD enters the Preparing phase over peers: each is registered and
// sent our Version.
func (n *Node) BeginIBD(peers []*peerconn.Peer) {
	n.IBD.Begin(peers, time.Now())
	for _, p := range peers {
		n.sendVersion(p)
	}
}

// onHandshakeComplete is called by the handshake handlers once a peer's
// handshake finishes; during Preparing it records the GetLatestBlock
// request time used for round-trip ranking.
func (n *Node) onHandshakeComplete(p *peerconn.Peer) {
	if n.IBD.Phase() == ibd.Preparing {
		n.IBD.RecordHandshakeComplete(p, time.Now())
	}
}

// startIBDRunning ranks peers and drives the first Running round.
func (n *Node) startIBDRunning() {
	ranked := n.IBD.Rank()
	if len(ranked) == 0 {
		n.IBD.MarkFailed()
		return
	}
	n.runIBDRound()
}

// runIBDRound evaluates the currently-selected peer step by step,
// advancing to the next peer on a rejection and repeating until a peer
// drives progress or peers are exhausted.
func (n *Node) runIBDRound() {
	for {
		p, ok := n.IBD.SelectedPeer()
		if !ok {
			n.IBD.MarkFailed()
			return
		}

		announced, _ := n.IBD.AnnouncedBlock(p)
		localHeight := n.Chain.Blocks.Height()
		peerHeight := uint64(0)
		if announced != nil {
			peerHeight = announced.Height
		}

		switch {
		case peerHeight <= localHeight:
			n.succeedIBD(nil)
			return

		case peerHeight == localHeight+1:
			merged := p.GetStoredAndNewBlocks(nil)
			if len(merged) == 0 && announced != nil {
				merged = []blockchain.Block{*announced}
			}
			if !n.ChainLock.TryLock(ChainLockTimeout) {
				log.Warnf("chain lock timeout starting IBD round with %s", p.Addr)
				return
			}
			result, err := n.Chain.AddBlocksFromPeer(merged, peerHeight)
			n.ChainLock.Unlock()
			if err != nil {
				log.Debugf("IBD direct-extension from %s: %v", p.Addr, err)
			}
			switch result.Status {
			case blockchain.AddedSingleBlock, blockchain.AddedMultipleBlocks, blockchain.ReplacedMultipleBlocks, blockchain.NothingChanged:
				n.succeedIBD(nil)
				return
			case blockchain.NeedMore, blockchain.NeedMoreShouldStore:
				p.Send(wire.GetBlocks, wire.GetBlocksPayload{StartIndex: result.StartIndex, MaxCount: chaincfg.MaxGetBlocks})
				return
			default:
				if _, ok := n.IBD.AdvancePeer(); !ok {
					return
				}
				continue
			}

		default:
			n.IBD.PlanRanges(localHeight+1, peerHeight)
			r, ok := n.IBD.CurrentRange()
			if !ok {
				n.succeedIBD(nil)
				return
			}
			p.Send(wire.GetBlocks, wire.GetBlocksPayload{StartIndex: r.Start, MaxCount: r.Max})
			return
		}
	}
}

// advanceIBDRange is called after a successful Blocks response while
// Running: it moves to the next planned range or, once ranges are
// exhausted, succeeds IBD.
func (n *Node) advanceIBDRange(p *peerconn.Peer) {
	if n.IBD.RangesExhausted() {
		n.succeedIBD(p)
		return
	}
	r, ok := n.IBD.AdvanceRange()
	if !ok {
		n.succeedIBD(p)
		return
	}
	p.Send(wire.GetBlocks, wire.GetBlocksPayload{StartIndex: r.Start, MaxCount: r.Max})
}

// advanceIBDPeer is called after an invalid Blocks response while
// Running: the offending peer is already disconnected by the caller, so
// this only needs to move selection and resume the decision tree.
func (n *Node) advanceIBDPeer() {
	if _, ok := n.IBD.AdvancePeer(); !ok {
		return
	}
	n.runIBDRound()
}

// succeedIBD marks IBD Succeeded, broadcasts our tip, and requests the
// mempool from the given peer (or, if nil, every peer).
func (n *Node) succeedIBD(from *peerconn.Peer) {
	n.IBD.MarkSucceeded()
	latest := *n.Chain.Blocks.Latest()
	if from != nil {
		n.broadcastExcept(wire.LatestBlock, wire.LatestBlockPayload{Block: latest}, nil)
		from.Send(wire.GetMempool, wire.GetMempoolPayload{})
		return
	}
	for _, p := range n.Peers() {
		p.Send(wire.LatestBlock, wire.LatestBlockPayload{Block: latest})
		p.Send(wire.GetMempool, wire.GetMempoolPayload{})
	}
}
