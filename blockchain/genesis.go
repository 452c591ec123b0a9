// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "github.com/alexanderdna/ameowcoin/chaincfg"

// GenesisBlock returns the fixed genesis block. It is a fresh copy on
// every call so callers may not mutate a shared value by accident.
func GenesisBlock() *Block {
	return &Block{
		Height:       0,
		Timestamp:    chaincfg.GenesisTimestamp,
		Transactions: nil,
		MerkleRoot:   "",
		PrevHash:     chaincfg.GenesisPrevHash.String(),
		Hash:         chaincfg.GenesisHash.String(),
		Nonce:        0,
	}
}
