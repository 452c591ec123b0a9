// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package protocol

import (
	"context"
	"time"

	"github.com/alexanderdna/ameowcoin/wire"
)

const (
	houseKeepingWarmup  = 10 * time.Second
	houseKeepingPeriod  = 30 * time.Second
	outboundPeerTimeout = 600 * time.Second
	pingPeriod          = 120 * time.Second
)

// RunHouseKeeping guards the peer list, closing peers that have gone
// silent past outboundPeerTimeout and pinging peers every pingPeriod.
// It runs until ctx is cancelled.
func (n *Node) RunHouseKeeping(ctx context.Context) {
	timer := time.NewTimer(houseKeepingWarmup)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n.houseKeepingCycle()
			timer.Reset(houseKeepingPeriod)
		}
	}
}

func (n *Node) houseKeepingCycle() {
	now := n.now()
	for _, p := range n.Peers() {
		if p.IsOutbound && now-p.LastMessageIn() > outboundPeerTimeout.Milliseconds() {
			log.Infof("%s: outbound peer silent past timeout, disconnecting", p.Addr)
			p.Disconnect()
			n.UnregisterPeer(p)
			continue
		}
		if now-p.LastPing() > pingPeriod.Milliseconds() {
			p.Send(wire.Ping, wire.PingPayload{Nonce: now})
			p.TouchPing(now)
		}
	}
}
