// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"time"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/protocol"
	"github.com/alexanderdna/ameowcoin/wire"
)

// runMiner repeatedly assembles a block template extending the current tip
// and searches for a winning nonce, yielding back to check for
// cancellation and a possibly-advanced tip between batches.
func runMiner(ctx context.Context, node *protocol.Node, minerAddr string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch node.IBD.Phase() {
		case ibd.Succeeded, ibd.None:
		default:
			time.Sleep(time.Second)
			continue
		}

		if !node.ChainLock.TryLock(protocol.ChainLockTimeout) {
			time.Sleep(time.Second)
			continue
		}
		template, err := node.Chain.PrepareBlockTemplate(minerAddr)
		node.ChainLock.Unlock()
		if err != nil {
			log.Errorf("failed to prepare block template: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if !mineBlock(ctx, template) {
			continue
		}

		if !node.ChainLock.TryLock(protocol.ChainLockTimeout) {
			continue
		}
		err = node.Chain.AddNewBlock(template)
		node.ChainLock.Unlock()
		if err != nil {
			log.Debugf("mined block at height %d was no longer valid: %v", template.Height, err)
			continue
		}

		log.Infof("mined block %d (%s)", template.Height, template.Hash)
		node.Notifier.NotifyBlock(template)
		for _, p := range node.Peers() {
			p.Send(wire.LatestBlock, wire.LatestBlockPayload{Block: *template})
		}
	}
}

// mineBlock searches the nonce space for template in bounded batches,
// checking ctx between batches so mining never blocks shutdown. It
// returns false if the search was cancelled or the nonce space was
// exhausted without finding a winner.
func mineBlock(ctx context.Context, template *blockchain.Block) bool {
	var nonce uint32
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		result, next := blockchain.Mine(template, nonce, chaincfg.DefaultMiningBatch)
		switch result {
		case blockchain.MineSuccess:
			return true
		case blockchain.MineExhausted:
			return false
		default:
			nonce = next
		}
	}
}
