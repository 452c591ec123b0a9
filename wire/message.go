// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements the peer-to-peer wire protocol: a
// newline-delimited JSON envelope, each line carrying a checksummed,
// type-tagged payload.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/alexanderdna/ameowcoin/chainhash"
)

// MessageType identifies the kind of payload carried by an Envelope.
type MessageType int

const (
	Version        MessageType = 1
	VersionAck     MessageType = 2
	GetLatestBlock MessageType = 10
	GetBlocks      MessageType = 11
	LatestBlock    MessageType = 15
	Blocks         MessageType = 16
	GetMempool     MessageType = 50
	Mempool        MessageType = 55
	Ping           MessageType = 1000
	Pong           MessageType = 1001
)

// MaxFrameSize is the largest single newline-framed line this
// implementation will read off the wire before disconnecting the peer.
const MaxFrameSize = 4 * 1024 * 1024

// ErrChecksumMismatch indicates an Envelope's checksum did not match its
// payload. This is not a disconnect condition; the message is simply
// dropped.
var ErrChecksumMismatch = errors.New("wire: checksum mismatch")

// ErrFrameTooLarge indicates a received frame exceeded MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Envelope is the outer JSON object carried by every framed line: "t" is
// the MessageType, "c" is the signed 32-bit checksum of the raw bytes of
// "d", and "d" is the JSON-encoded payload re-encoded as a string.
type Envelope struct {
	Type     MessageType `json:"t"`
	Checksum int32       `json:"c"`
	Data     string      `json:"d"`
}

// Checksum computes the integer formed from the first four bytes,
// big-endian, of SHA-256(data).
func Checksum(data []byte) int32 {
	sum := chainhash.HashB(data)
	return int32(binary.BigEndian.Uint32(sum[:4]))
}

// NewEnvelope marshals payload to JSON, wraps it as the "d" string, and
// computes a matching checksum.
func NewEnvelope(t MessageType, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Checksum: Checksum(data), Data: string(data)}, nil
}

// Verify reports whether e's checksum matches its payload bytes.
func (e *Envelope) Verify() error {
	if Checksum([]byte(e.Data)) != e.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// Unmarshal decodes e's payload into v.
func (e *Envelope) Unmarshal(v interface{}) error {
	return json.Unmarshal([]byte(e.Data), v)
}
