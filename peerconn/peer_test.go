// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peerconn

import (
	"net"
	"testing"

	"github.com/alexanderdna/ameowcoin/blockchain"
)

func pipePeer(t *testing.T) (*Peer, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return New("test-peer", server, true), client
}

func TestGetStoredAndNewBlocksDeduplicatesAndSorts(t *testing.T) {
	p, _ := pipePeer(t)
	p.StoreBlock(blockchain.Block{Height: 2, Hash: "stored-2"})
	p.StoreBlock(blockchain.Block{Height: 0, Hash: "stored-0"})

	fresh := []blockchain.Block{
		{Height: 1, Hash: "fresh-1"},
		{Height: 2, Hash: "fresh-2"},
	}
	merged := p.GetStoredAndNewBlocks(fresh)

	if len(merged) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Height <= merged[i-1].Height {
			t.Fatalf("expected ascending heights, got %+v", merged)
		}
	}
	if merged[2].Hash != "fresh-2" {
		t.Fatalf("expected fresh block to win over stored at the same height, got %s", merged[2].Hash)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	p, _ := pipePeer(t)
	p.Disconnect()
	p.Disconnect()
	if !p.ShouldDisconnect() {
		t.Fatalf("expected ShouldDisconnect to be true")
	}
}

func TestSendMessageDropsOnFullQueueByDisconnecting(t *testing.T) {
	p, _ := pipePeer(t)
	for i := 0; i < outboundQueueSize+1; i++ {
		p.Send(1, struct{}{})
	}
	if !p.ShouldDisconnect() {
		t.Fatalf("expected peer to be disconnected once its outbound queue saturates")
	}
}
