// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peerconn implements per-connection state and byte-stream
// framing: each Peer owns a newline-JSON transport, a handshake state
// machine's bookkeeping fields, and a thread-safe outbound queue that
// any task may enqueue onto.
package peerconn

import (
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/wire"
)

// log is the subsystem logger for package peerconn.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by peerconn.
func UseLogger(logger slog.Logger) {
	log = logger
}

// outboundQueueSize bounds the number of messages SendMessage may buffer;
// once the queue is full, SendMessage disconnects the peer instead of
// blocking the caller.
const outboundQueueSize = 64

// Peer is a single P2P connection and the bookkeeping it needs.
type Peer struct {
	Addr       string
	Conn       net.Conn
	IsOutbound bool

	reader *wire.Reader
	out    chan *wire.Envelope

	mu               sync.Mutex
	version          int
	hasHandshake     bool
	lastMessageIn    int64
	lastPing         int64
	lastHeight       uint64
	storedBlocks     map[uint64]blockchain.Block
	shouldDisconnect bool
	done             chan struct{}

	// RequestedAt is set by the dispatcher when it sends GetLatestBlock
	// after a handshake. IBD peer ranking does not read it; the ibd
	// controller measures round-trip time from its own records.
	RequestedAt time.Time
	// AnnouncedLatest and AnnouncedAt are not written by this package or
	// by the dispatcher; LatestBlock announcements received while IBD is
	// Preparing are recorded by the ibd controller instead.
	AnnouncedLatest *blockchain.Block
	AnnouncedAt     time.Time

	closeOnce sync.Once
}

// New wraps conn as a Peer.
func New(addr string, conn net.Conn, isOutbound bool) *Peer {
	return &Peer{
		Addr:         addr,
		Conn:         conn,
		IsOutbound:   isOutbound,
		reader:       wire.NewReader(conn),
		out:          make(chan *wire.Envelope, outboundQueueSize),
		storedBlocks: make(map[uint64]blockchain.Block),
		done:         make(chan struct{}),
	}
}

// Version reports the peer's advertised protocol version; 0 until a
// Version message has been received.
func (p *Peer) Version() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// SetVersion records the peer's advertised protocol version.
func (p *Peer) SetVersion(v int) {
	p.mu.Lock()
	p.version = v
	p.mu.Unlock()
}

// HasHandshake reports whether VersionAck has been exchanged both ways.
func (p *Peer) HasHandshake() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasHandshake
}

// SetHandshakeComplete marks the handshake as finished.
func (p *Peer) SetHandshakeComplete() {
	p.mu.Lock()
	p.hasHandshake = true
	p.mu.Unlock()
}

// LastMessageIn returns the Unix-millisecond timestamp of the last
// message received from this peer.
func (p *Peer) LastMessageIn() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMessageIn
}

// TouchMessageIn records that a message was just received.
func (p *Peer) TouchMessageIn(now int64) {
	p.mu.Lock()
	p.lastMessageIn = now
	p.mu.Unlock()
}

// LastPing returns the Unix-millisecond timestamp this peer was last
// pinged.
func (p *Peer) LastPing() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPing
}

// TouchPing records that a ping was just sent.
func (p *Peer) TouchPing(now int64) {
	p.mu.Lock()
	p.lastPing = now
	p.mu.Unlock()
}

// LastHeight returns the highest chain height this peer has announced.
func (p *Peer) LastHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeight
}

// SetLastHeight records the highest chain height this peer has
// announced.
func (p *Peer) SetLastHeight(h uint64) {
	p.mu.Lock()
	p.lastHeight = h
	p.mu.Unlock()
}

// ShouldDisconnect reports whether this connection has been marked for
// closure.
func (p *Peer) ShouldDisconnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldDisconnect
}

// Disconnect marks this connection for closure and closes the underlying
// socket, unblocking its read loop.
func (p *Peer) Disconnect() {
	p.mu.Lock()
	p.shouldDisconnect = true
	p.mu.Unlock()
	p.closeOnce.Do(func() {
		close(p.done)
		p.Conn.Close()
	})
}

// StoreBlock buffers a block received mid multi-range fetch, indexed by
// height to prevent duplicates.
func (p *Peer) StoreBlock(b blockchain.Block) {
	p.mu.Lock()
	p.storedBlocks[b.Height] = b
	p.mu.Unlock()
}

// ClearStoredBlocks discards all buffered blocks.
func (p *Peer) ClearStoredBlocks() {
	p.mu.Lock()
	p.storedBlocks = make(map[uint64]blockchain.Block)
	p.mu.Unlock()
}

// GetStoredAndNewBlocks returns the union of buffered and newly-received
// blocks, de-duplicated by height (new blocks win) and sorted by height
// ascending.
func (p *Peer) GetStoredAndNewBlocks(fresh []blockchain.Block) []blockchain.Block {
	p.mu.Lock()
	merged := make(map[uint64]blockchain.Block, len(p.storedBlocks)+len(fresh))
	for h, b := range p.storedBlocks {
		merged[h] = b
	}
	p.mu.Unlock()
	for _, b := range fresh {
		merged[b.Height] = b
	}

	out := make([]blockchain.Block, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// SendMessage enqueues env on the outbound queue; it is the only
// connection-state accessor safe to call from any task.
func (p *Peer) SendMessage(env *wire.Envelope) {
	select {
	case p.out <- env:
	default:
		log.Warnf("%s: outbound queue full, disconnecting", p.Addr)
		p.Disconnect()
	}
}

// Send marshals payload as t and enqueues it.
func (p *Peer) Send(t wire.MessageType, payload interface{}) {
	env, err := wire.NewEnvelope(t, payload)
	if err != nil {
		log.Errorf("%s: failed to build envelope for type %d: %v", p.Addr, t, err)
		return
	}
	p.SendMessage(env)
}

// WriteLoop drains the outbound queue to the connection until the
// connection is marked for disconnection.
func (p *Peer) WriteLoop() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.out:
			if err := wire.WriteEnvelope(p.Conn, env); err != nil {
				log.Debugf("%s: write error: %v", p.Addr, err)
				p.Disconnect()
				return
			}
		}
	}
}

// ReadLoop reads framed envelopes and invokes handle for each one until
// the connection closes, a frame exceeds the size limit, or JSON
// parsing fails -- all of which mark the peer for disconnection.
func (p *Peer) ReadLoop(handle func(*wire.Envelope)) {
	for {
		env, err := p.reader.ReadEnvelope()
		if err != nil {
			if err != io.EOF {
				log.Debugf("%s: read error: %v", p.Addr, err)
			}
			p.Disconnect()
			return
		}
		handle(env)
		if p.ShouldDisconnect() {
			return
		}
	}
}

// Close marks the connection for disconnection and closes the underlying
// socket, unblocking ReadLoop and WriteLoop.
func (p *Peer) Close() {
	p.Disconnect()
}
