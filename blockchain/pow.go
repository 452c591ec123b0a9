// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/alexanderdna/ameowcoin/chaincfg"
	"github.com/alexanderdna/ameowcoin/chainhash"
)

// HeaderBytes returns the canonical byte sequence hashed for proof of
// work: 8-hex-digit big-endian height, 16-hex-digit big-endian timestamp,
// Merkle root, previous-block hash, 8-hex-digit big-endian nonce, all
// concatenated as their hex text.
func HeaderBytes(height uint64, timestamp int64, merkleRoot, prevHash string, nonce uint32) []byte {
	var buf []byte
	buf = append(buf, chainhash.EncodeUint32(uint32(height))...)
	buf = append(buf, chainhash.EncodeUint64(uint64(timestamp))...)
	buf = append(buf, merkleRoot...)
	buf = append(buf, prevHash...)
	buf = append(buf, chainhash.EncodeUint32(nonce)...)
	return buf
}

// ComputeBlockHash returns the SHA-256 digest, as lowercase hex, of the
// canonical header for the given fields.
func ComputeBlockHash(height uint64, timestamp int64, merkleRoot, prevHash string, nonce uint32) string {
	return chainhash.HashH(HeaderBytes(height, timestamp, merkleRoot, prevHash, nonce)).String()
}

// CheckProofOfWork reports whether hash satisfies the difficulty required
// at the given height.
func CheckProofOfWork(hash string, height uint64) bool {
	digest, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return false
	}
	return uint(chainhash.LeadingZeroBits(digest[:])) >= chaincfg.Difficulty(height)
}

// MineResult is the outcome of a single bounded mining attempt.
type MineResult int

const (
	// MineSuccess indicates a winning nonce was found and written into
	// the block.
	MineSuccess MineResult = iota
	// MineContinue indicates the batch was exhausted with no winner; the
	// caller should call Mine again to continue from where it left off.
	MineContinue
	// MineExhausted indicates the nonce space (up to chaincfg.MaxNonce)
	// was exhausted without finding a winner.
	MineExhausted
)

// Mine iterates up to batchSize nonce values starting at startNonce,
// looking for one that makes the block's header hash satisfy the height's
// difficulty. On success it writes the winning nonce and hash into the
// block and returns (MineSuccess, 0). Otherwise it returns the next nonce
// to resume from.
//
// The header is otherwise unchanged across calls: the block is prepared
// once and only the nonce field is rewritten on every attempt.
func Mine(b *Block, startNonce uint32, batchSize int) (MineResult, uint32) {
	difficulty := chaincfg.Difficulty(b.Height)
	nonce := startNonce
	for i := 0; i < batchSize; i++ {
		hash := ComputeBlockHash(b.Height, b.Timestamp, b.MerkleRoot, b.PrevHash, nonce)
		digest, err := chainhash.NewHashFromStr(hash)
		if err == nil && uint(chainhash.LeadingZeroBits(digest[:])) >= difficulty {
			b.Nonce = nonce
			b.Hash = hash
			return MineSuccess, 0
		}
		if nonce >= chaincfg.MaxNonce {
			return MineExhausted, 0
		}
		nonce++
	}
	return MineContinue, nonce
}
