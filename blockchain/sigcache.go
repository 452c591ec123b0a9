// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"
)

// sigCacheKeySize is the size of the byte array required for key material
// for the SipHash keyed short-signature function.
const sigCacheKeySize = 16

// SigCache is a verification cache: a transaction's signature is checked
// once, while it sits in the mempool, and re-verifying it when the same
// transaction is later validated as part of a block is wasted CPU. Only
// confirmed-valid (txid, signature) pairs are ever stored. Entries are
// evicted at random once the cache is full.
type SigCache struct {
	mu         sync.RWMutex
	valid      map[uint64]struct{}
	maxEntries uint
	key        [sigCacheKeySize]byte
}

// NewSigCache creates a SigCache bounded to at most maxEntries
// verifications.
func NewSigCache(maxEntries uint) (*SigCache, error) {
	var key [sigCacheKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	return &SigCache{
		valid:      make(map[uint64]struct{}, maxEntries),
		maxEntries: maxEntries,
		key:        key,
	}, nil
}

func (c *SigCache) shortKey(txID, signature string) uint64 {
	k0 := binary.LittleEndian.Uint64(c.key[0:8])
	k1 := binary.LittleEndian.Uint64(c.key[8:16])
	return siphash.Hash(k0, k1, []byte(txID+"|"+signature))
}

// Exists reports whether (txID, signature) was previously recorded as a
// verified signature.
func (c *SigCache) Exists(txID, signature string) bool {
	if c == nil {
		return false
	}
	key := c.shortKey(txID, signature)
	c.mu.RLock()
	_, ok := c.valid[key]
	c.mu.RUnlock()
	return ok
}

// Add records (txID, signature) as having passed verification.
func (c *SigCache) Add(txID, signature string) {
	if c == nil || c.maxEntries == 0 {
		return
	}
	key := c.shortKey(txID, signature)

	c.mu.Lock()
	defer c.mu.Unlock()
	if uint(len(c.valid)+1) > c.maxEntries {
		for k := range c.valid {
			delete(c.valid, k)
			break
		}
	}
	c.valid[key] = struct{}{}
}
