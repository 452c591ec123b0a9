// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexanderdna/ameowcoin/blockchain"
)

// notifyQueueSize bounds the number of pending pushes a slow websocket
// client tolerates before being dropped.
const notifyQueueSize = 64

// notification is one event pushed down the websocket feed: a newly
// accepted block or a newly admitted mempool transaction.
type notification struct {
	Type  string                  `json:"type"`
	Block *blockchain.Block       `json:"block,omitempty"`
	Tx    *blockchain.Transaction `json:"tx,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	out  chan notification
	done chan struct{}
	once sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		out:  make(chan notification, notifyQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case n := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteJSON(n); err != nil {
				log.Debugf("websocket client write error: %v", err)
				c.close()
				return
			}
		}
	}
}

// readLoop discards any client-sent frames (this feed is push-only) and
// exits when the client disconnects.
func (c *wsClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.close()
			return
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := newWSClient(conn)
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go client.writeLoop()
	client.readLoop()

	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

func (s *Server) broadcast(n notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- n:
		default:
			log.Warnf("websocket client queue full, dropping")
			go c.close()
		}
	}
}

// NotifyBlock implements protocol.Notifier, pushing a "block" event to
// every connected websocket client.
func (s *Server) NotifyBlock(b *blockchain.Block) {
	s.broadcast(notification{Type: "block", Block: b})
}

// NotifyTransaction implements protocol.Notifier, pushing a "tx" event to
// every connected websocket client.
func (s *Server) NotifyTransaction(tx *blockchain.Transaction) {
	s.broadcast(notification{Type: "tx", Tx: tx})
}
