// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ibd implements the Initial Block Download phase state machine
// and peer ranking.
package ibd

import (
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/peerconn"
)

// log is the subsystem logger for package ibd.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by ibd.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Phase is one state of the IBD state machine: None -> Preparing ->
// Running -> {Succeeded, Failed}.
type Phase int

const (
	None Phase = iota
	Preparing
	Running
	Succeeded
	Failed
)

// Range is a single planned GetBlocks request: start height and the
// maximum block count to request.
type Range struct {
	Start uint64
	Max   int
}

type peerRecord struct {
	peer        *peerconn.Peer
	requestedAt time.Time
	respondedAt time.Time
	announced   *blockchain.Block
	responded   bool
}

// Controller tracks IBD phase, peer responses, peer ranking, and the
// range plan for the currently-selected peer.
type Controller struct {
	mu sync.Mutex

	phase    Phase
	records  []*peerRecord
	ranked   []*peerconn.Peer
	rankIdx  int
	ranges   []Range
	rangeIdx int
}

// New creates a Controller in phase None.
func New() *Controller {
	return &Controller{}
}

// Phase returns the current IBD phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Begin enters Preparing and registers each connected peer with its
// Version-request time.
func (c *Controller) Begin(peers []*peerconn.Peer, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = Preparing
	c.records = make([]*peerRecord, 0, len(peers))
	for _, p := range peers {
		c.records = append(c.records, &peerRecord{peer: p, requestedAt: now})
	}
}

// RecordHandshakeComplete records the time a registered peer completed
// its handshake, which the dispatcher uses as the GetLatestBlock request
// time for round-trip measurement.
func (c *Controller) RecordHandshakeComplete(p *peerconn.Peer, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.peer == p {
			r.requestedAt = now
			return
		}
	}
}

// RecordAnnouncement records a peer's LatestBlock response while
// Preparing and reports whether every still-connected registered peer
// has now responded.
func (c *Controller) RecordAnnouncement(p *peerconn.Peer, b *blockchain.Block, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.peer == p {
			r.announced = b
			r.respondedAt = now
			r.responded = true
		}
	}
	for _, r := range c.records {
		if r.peer.ShouldDisconnect() {
			continue
		}
		if !r.responded {
			return false
		}
	}
	return true
}

// Rank sorts still-responded, still-connected peers by announced height
// descending, then round-trip time ascending, and transitions to
// Running.
func (c *Controller) Rank() []*peerconn.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := make([]*peerRecord, 0, len(c.records))
	for _, r := range c.records {
		if r.responded && !r.peer.ShouldDisconnect() {
			live = append(live, r)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		hi, hj := live[i].announced.Height, live[j].announced.Height
		if hi != hj {
			return hi > hj
		}
		return live[i].respondedAt.Sub(live[i].requestedAt) < live[j].respondedAt.Sub(live[j].requestedAt)
	})

	c.ranked = make([]*peerconn.Peer, len(live))
	for i, r := range live {
		c.ranked[i] = r.peer
	}
	c.rankIdx = 0
	c.phase = Running
	return c.ranked
}

// AnnouncedBlock returns the block a given registered peer announced
// during Preparing, if any.
func (c *Controller) AnnouncedBlock(p *peerconn.Peer) (*blockchain.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.peer == p {
			return r.announced, r.announced != nil
		}
	}
	return nil, false
}

// SelectedPeer returns the peer currently being iterated in Running, if
// any remain.
func (c *Controller) SelectedPeer() (*peerconn.Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rankIdx >= len(c.ranked) {
		return nil, false
	}
	return c.ranked[c.rankIdx], true
}

// AdvancePeer moves selection to the next ranked peer, returning it, or
// reports false (and marks Failed) once peers are exhausted.
func (c *Controller) AdvancePeer() (*peerconn.Peer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rankIdx++
	if c.rankIdx >= len(c.ranked) {
		c.phase = Failed
		return nil, false
	}
	return c.ranked[c.rankIdx], true
}

// PlanRanges builds the GetBlocks range list for [from, to] stepping by
// MaxGetBlocks.
func (c *Controller) PlanRanges(from, to uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = nil
	step := uint64(chaincfg.MaxGetBlocks)
	for h := from; h <= to; h += step {
		c.ranges = append(c.ranges, Range{Start: h, Max: chaincfg.MaxGetBlocks})
	}
	c.rangeIdx = 0
}

// CurrentRange returns the range currently being requested, if any.
func (c *Controller) CurrentRange() (Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rangeIdx >= len(c.ranges) {
		return Range{}, false
	}
	return c.ranges[c.rangeIdx], true
}

// AdvanceRange moves to the next planned range, reporting false once
// ranges are exhausted.
func (c *Controller) AdvanceRange() (Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rangeIdx++
	if c.rangeIdx >= len(c.ranges) {
		return Range{}, false
	}
	return c.ranges[c.rangeIdx], true
}

// RangesExhausted reports whether every planned range has been consumed.
func (c *Controller) RangesExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rangeIdx >= len(c.ranges)
}

// MarkSucceeded transitions to Succeeded.
func (c *Controller) MarkSucceeded() {
	c.mu.Lock()
	c.phase = Succeeded
	c.mu.Unlock()
}

// MarkFailed transitions to Failed.
func (c *Controller) MarkFailed() {
	c.mu.Lock()
	c.phase = Failed
	c.mu.Unlock()
}
