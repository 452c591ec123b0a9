// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import "github.com/alexanderdna/ameowcoin/blockchain"

// VersionPayload is carried by a Version message, sent immediately by
// both sides of a new connection as the first step of the handshake.
// Nonce is a 32-byte SHA-256 hex string identifying the sending node
// instance, used to detect self-connections.
type VersionPayload struct {
	Ver    int    `json:"ver"`
	Height uint64 `json:"height"`
	Nonce  string `json:"nonce"`
}

// VersionAckPayload is carried by a VersionAck message; it is empty on
// the wire but kept as a named type so dispatch code has something
// concrete to decode into.
type VersionAckPayload struct{}

// GetBlocksPayload requests a contiguous run of blocks starting at
// StartIndex, at most MaxCount of them.
type GetBlocksPayload struct {
	StartIndex uint64 `json:"start_index"`
	MaxCount   int    `json:"max_count"`
}

// LatestBlockPayload carries the sender's current chain tip.
type LatestBlockPayload struct {
	Block blockchain.Block `json:"block"`
}

// BlocksPayload carries a contiguous run of blocks in response to
// GetBlocks.
type BlocksPayload struct {
	Blocks []blockchain.Block `json:"blocks"`
}

// GetMempoolPayload requests the receiver's oldest pending transactions,
// at most MaxPendingToSend of them; it carries no fields.
type GetMempoolPayload struct{}

// MempoolPayload carries a snapshot of pending transactions. Relayed is
// true iff this mempool message is being relayed on behalf of another
// peer rather than freshly submitted here.
type MempoolPayload struct {
	Relayed      bool                            `json:"rel"`
	Transactions []blockchain.PendingTransaction `json:"txs"`
}

// PingPayload and PongPayload carry a nonce; a Pong echoes the nonce of
// the Ping it answers. The dispatcher does not use it to measure
// round-trip time.
type PingPayload struct {
	Nonce int64 `json:"nonce"`
}

type PongPayload struct {
	Nonce int64 `json:"nonce"`
}
