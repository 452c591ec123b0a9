// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the consensus parameters shared by the chain
// engine, the block store, and the miner: difficulty, minimum inter-block
// distance, block subsidy, and the fixed genesis block.
//
// Unlike difficulty-retargeting networks, which derive target work from a
// rolling window of observed block times, this network's difficulty is a
// pure, unconditional function of height -- there is exactly one set of
// parameters and no per-network variants.
package chaincfg

import "github.com/alexanderdna/ameowcoin/chainhash"

// Amount is a quantity of coin expressed in the smallest unit (1/1e8).
type Amount int64

const (
	// AmountPerCoin is the number of smallest units in one coin.
	AmountPerCoin Amount = 1e8

	// FeePerTx is the flat fee, in smallest units, every non-coinbase
	// transaction pays.
	FeePerTx Amount = AmountPerCoin / 2

	// MaxTxInputs is the maximum number of inputs the send path will
	// assemble into a single transaction.
	MaxTxInputs = 32

	// MaxTxInBlock is the maximum number of non-coinbase transactions a
	// mined block may contain.
	MaxTxInBlock = 32

	// MaxGetBlocks is the maximum number of blocks that may be requested
	// in a single GetBlocks message.
	MaxGetBlocks = 32

	// MaxPendingToSend is the maximum number of mempool entries returned
	// in response to a GetMempool message.
	MaxPendingToSend = 32

	// ConflictResolutionSteps is how many blocks a single Need_More round
	// walks back when probing for a fork's divergence point.
	ConflictResolutionSteps = 4

	// MaxFutureDriftMs is how far into the future, in milliseconds, a
	// block's timestamp is allowed to be relative to the local clock.
	MaxFutureDriftMs = int64(30 * 60 * 60 * 1000)

	// DefaultMiningBatch is the number of nonce values a single mining
	// attempt iterates before yielding back to the caller.
	DefaultMiningBatch = 100000

	// MaxNonce is the last nonce value the miner will try before giving
	// up on a block.
	MaxNonce = 1<<31 - 1
)

// Difficulty returns the minimum number of leading zero bits a block hash
// at the given height must have. It is a step function of height alone;
// this network does not retarget based on observed block times.
func Difficulty(height uint64) uint {
	switch {
	case height == 0:
		return 0
	case height < 50:
		return 20
	case height < 100:
		return 24
	case height < 1000:
		return 28
	case height < 10000:
		return 32
	default:
		return 36
	}
}

// MinDistance returns the minimum number of milliseconds that must elapse
// between the timestamp of the block at the given height and its parent.
func MinDistance(height uint64) int64 {
	if height <= 100 {
		return 30000
	}
	d := 600000 - 60000*int64(height/10000)
	if d < 60000 {
		d = 60000
	}
	return d
}

// BaseReward returns the block subsidy, in smallest units, at the given
// height. The reward halves every 10,000 blocks.
func BaseReward(height uint64) Amount {
	const initial = 64 * int64(AmountPerCoin)
	shift := height / 10000
	if shift >= 63 {
		return 0
	}
	return Amount(initial >> shift)
}

// Genesis block constants. These are fixed network constants, not
// derived values, and every node must agree on them bit for bit.
var (
	// GenesisTimestamp is the genesis block's timestamp, in milliseconds
	// since the Unix epoch.
	GenesisTimestamp int64 = 1610998200000

	// GenesisPrevHash is the (non-existent) previous-block hash recorded
	// in the genesis block.
	GenesisPrevHash = mustHash("4f571e9b08717e7627336808d26ea36958ccea7ff341cc2d218c3df61bd04d08")

	// GenesisHash is the genesis block's own hash.
	GenesisHash = mustHash("4fd2d32ca7af3219af42639d740781fa75ca956a5e100e0de2579731d120e9f2")
)

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return h
}
