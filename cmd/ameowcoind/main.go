// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command ameowcoind runs a full node: it maintains the chain and mempool,
// serves and drives the peer-to-peer protocol, performs initial block
// download against its seed peers, optionally mines, and exposes a
// read-only status RPC.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/chainhash"
	"github.com/alexanderdna/ameowcoin/peerconn"
	"github.com/alexanderdna/ameowcoin/protocol"
	"github.com/alexanderdna/ameowcoin/rpcserver"
	"github.com/alexanderdna/ameowcoin/store"
	"github.com/alexanderdna/ameowcoin/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ameowcoind: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.NoLogFile {
		if err := initLogRotator(filepath.Join(cfg.DataDir, defaultLogFilename)); err != nil {
			return err
		}
	}
	useLoggers()
	if err := setLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	blocks, err := store.NewBlockStore(filepath.Join(cfg.DataDir, "blocks"))
	if err != nil {
		return fmt.Errorf("failed to open block store: %w", err)
	}
	txs, err := store.NewTxStore(filepath.Join(cfg.DataDir, "txs"), blocks)
	if err != nil {
		return fmt.Errorf("failed to open transaction store: %w", err)
	}

	chain := blockchain.New(blocks, txs)
	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("failed to generate node nonce: %w", err)
	}
	node := protocol.NewNode(chain, nonce)

	rpcSrv := rpcserver.New(rpcserver.Config{
		Chain:      chain,
		Node:       node,
		IBD:        node.IBD,
		MiningOn:   func() bool { return cfg.Mine },
		MinerAddr:  func() string { return cfg.MinerAddr },
		Username:   cfg.RPCUser,
		Password:   cfg.RPCPassword,
		MaxClients: defaultMaxPeers,
	})
	node.Notifier = rpcSrv
	if err := rpcSrv.Start(cfg.RPCListen); err != nil {
		return fmt.Errorf("failed to start RPC server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptInbound(ctx, ln, node)
	}()

	dial := cfg.proxyDialer()
	var seedPeers []*peerconn.Peer
	for _, addr := range cfg.AddPeers {
		p, err := dialPeer(dial, addr, node)
		if err != nil {
			log.Warnf("failed to connect to seed peer %s: %v", addr, err)
			continue
		}
		seedPeers = append(seedPeers, p)
	}
	if len(seedPeers) > 0 {
		node.BeginIBD(seedPeers)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		node.RunHouseKeeping(ctx)
	}()

	if cfg.Mine {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runMiner(ctx, node, cfg.MinerAddr)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutdown signal received, closing peers and flushing stores")
	cancel()
	ln.Close()
	for _, p := range node.Peers() {
		p.Disconnect()
	}
	wg.Wait()

	if err := blocks.Flush(); err != nil {
		log.Errorf("failed to flush block store: %v", err)
	}
	if err := txs.Flush(); err != nil {
		log.Errorf("failed to flush transaction store: %v", err)
	}
	if logRotator != nil {
		logRotator.Close()
	}
	return nil
}

// acceptInbound accepts inbound connections until ctx is cancelled,
// registering each as an inbound Peer.
func acceptInbound(ctx context.Context, ln net.Listener, node *protocol.Node) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warnf("accept error: %v", err)
				continue
			}
		}
		p := peerconn.New(conn.RemoteAddr().String(), conn, false)
		node.RegisterPeer(p)
		go p.WriteLoop()
		go runPeer(p, node)
	}
}

// dialPeer opens an outbound connection to addr and registers it,
// triggering our side of the handshake.
func dialPeer(dial func(network, addr string) (net.Conn, error), addr string, node *protocol.Node) (*peerconn.Peer, error) {
	conn, err := dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := peerconn.New(addr, conn, true)
	node.RegisterPeer(p)
	go p.WriteLoop()
	go runPeer(p, node)
	return p, nil
}

// runPeer drives a peer's read loop, unregistering it from node once the
// connection closes.
func runPeer(p *peerconn.Peer, node *protocol.Node) {
	p.ReadLoop(func(env *wire.Envelope) { node.HandleEnvelope(p, env) })
	node.UnregisterPeer(p)
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return chainhash.HashH(buf).String(), nil
}
