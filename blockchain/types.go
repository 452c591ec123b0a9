// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockchain implements the chain engine: the Block and
// Transaction data model, validation under the UTXO model, fork
// resolution, mining assembly, and send-transaction construction.
package blockchain

import (
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/chainhash"
)

// TxOut is a single output of a transaction: an amount and the address
// that may spend it.
type TxOut struct {
	Amount  chaincfg.Amount `json:"c"`
	Address string          `json:"a"`
}

// TxIn is a single input of a transaction, referencing a prior output by
// transaction id and output index. Coinbase inputs reference the 8-hex
// big-endian height of their own containing block, at output index 0,
// with an empty signature.
type TxIn struct {
	PrevTxID    string `json:"t"`
	PrevTxIndex uint32 `json:"i"`
	Signature   string `json:"s"`
}

// IsCoinbase reports whether in is shaped like a coinbase input for the
// given block height; the caller must still verify it is positioned as
// the sole input of the block's first transaction.
func (in *TxIn) IsCoinbase(height uint64) bool {
	return in.PrevTxIndex == 0 && in.Signature == "" &&
		in.PrevTxID == chainhash.EncodeUint32(uint32(height))
}

// Transaction is an ordered list of inputs and outputs identified by the
// hash of their canonical encoding (ComputeTxID).
type Transaction struct {
	ID      string  `json:"id"`
	TxIn    []TxIn  `json:"i"`
	TxOut   []TxOut `json:"o"`
}

// IsCoinbase reports whether tx is shaped like the coinbase of a block at
// the given height: exactly one input and one output, with the input
// matching the coinbase pattern.
func (tx *Transaction) IsCoinbase(height uint64) bool {
	return len(tx.TxIn) == 1 && len(tx.TxOut) == 1 && tx.TxIn[0].IsCoinbase(height)
}

// ComputeTxID recomputes the canonical transaction id: SHA-256 over, for
// each input in order, (prev tx id, 8-hex prev output index), then for
// each output in order, (recipient address, 16-hex amount).
func ComputeTxID(inputs []TxIn, outputs []TxOut) string {
	var buf []byte
	for _, in := range inputs {
		buf = append(buf, in.PrevTxID...)
		buf = append(buf, chainhash.EncodeUint32(in.PrevTxIndex)...)
	}
	for _, out := range outputs {
		buf = append(buf, out.Address...)
		buf = append(buf, chainhash.EncodeUint64(uint64(out.Amount))...)
	}
	return chainhash.HashH(buf).String()
}

// NewCoinbaseTx builds the coinbase transaction for a block at the given
// height paying the given amount to the given address.
func NewCoinbaseTx(height uint64, amount chaincfg.Amount, toAddress string) *Transaction {
	tx := &Transaction{
		TxIn: []TxIn{{
			PrevTxID:    chainhash.EncodeUint32(uint32(height)),
			PrevTxIndex: 0,
			Signature:   "",
		}},
		TxOut: []TxOut{{Amount: amount, Address: toAddress}},
	}
	tx.ID = ComputeTxID(tx.TxIn, tx.TxOut)
	return tx
}

// Block is a single link in the chain: a height, a timestamp, its
// transactions, the Merkle root of their ids, the previous block's hash,
// its own hash, and the nonce that satisfies the proof-of-work target for
// its height. Difficulty itself is derived from height and never stored.
type Block struct {
	Height       uint64        `json:"i"`
	Timestamp    int64         `json:"t"`
	Transactions []Transaction `json:"txs"`
	MerkleRoot   string        `json:"merkle"`
	PrevHash     string        `json:"prev"`
	Hash         string        `json:"h"`
	Nonce        uint32        `json:"n"`
}

// Equal reports whether b and other are equal: every field except
// Transactions must match, and transactions are compared only via
// MerkleRoot (which is itself one of the compared fields).
func (b *Block) Equal(other *Block) bool {
	if other == nil {
		return false
	}
	return b.Height == other.Height &&
		b.Timestamp == other.Timestamp &&
		b.MerkleRoot == other.MerkleRoot &&
		b.PrevHash == other.PrevHash &&
		b.Hash == other.Hash &&
		b.Nonce == other.Nonce
}

// PendingTransaction is a transaction held in the mempool together with
// the time it arrived, used for oldest-first selection.
type PendingTransaction struct {
	ArrivedAt int64       `json:"t"`
	Tx        Transaction `json:"tx"`
}

// UnspentTxOut is an entry in the UTXO set: a reference to an output plus
// a cached address hint. The hint is purely an optimization -- callers
// must reconsult the actual output before trusting it.
type UnspentTxOut struct {
	TxID    string `json:"tx"`
	Index   uint32 `json:"index"`
	Address string `json:"addr"`
}

// BlockIndexEntry records the height and hash of one block in the chain's
// index.
type BlockIndexEntry struct {
	Height uint64 `json:"i"`
	Hash   string `json:"h"`
}

// TransactionIndexEntry locates a transaction within the chain: the
// height of its containing block and its position within that block.
type TransactionIndexEntry struct {
	Height   uint64 `json:"block"`
	Position int    `json:"index"`
}
