// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements the bucketed JSON persistence layer for
// blocks and transactions. It depends on package blockchain for its
// data types; blockchain in turn depends only on the small
// BlockStore/TxStore interfaces it declares itself, so this import runs
// one way only.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/decred/slog"

	"github.com/alexanderdna/ameowcoin/blockchain"
)

// bucketSize is the number of blocks grouped into a single bucket
// document.
const bucketSize = 100

// log is the subsystem logger for package store, wired up by
// cmd/ameowcoind's UseLogger call.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by store.
func UseLogger(logger slog.Logger) {
	log = logger
}

// ErrCorruptIndex indicates the on-disk index failed the load-time
// consistency check.
var ErrCorruptIndex = errors.New("store: block index is corrupt")

type blockBucket struct {
	StartIndex uint64             `json:"start_index"`
	EndIndex   uint64             `json:"end_index"`
	Blocks     []blockchain.Block `json:"blocks"`
	dirty      bool
}

type indexDocument struct {
	BlockIndices []blockchain.BlockIndexEntry `json:"block_indices"`
}

// BlockStore persists the chain as a sequence of 100-block buckets plus
// a flat (height, hash) index.
type BlockStore struct {
	dir     string
	index   []blockchain.BlockIndexEntry
	buckets map[uint64]*blockBucket
}

func bucketPath(dir string, bucket uint64) string {
	return filepath.Join(dir, fmt.Sprintf("blk%05d.json", bucket))
}

func indexPath(dir string) string {
	return filepath.Join(dir, "blockindex.json")
}

// NewBlockStore opens (or initializes) a block store rooted at dir.
func NewBlockStore(dir string) (*BlockStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &BlockStore{dir: dir, buckets: make(map[uint64]*blockBucket)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the index document, validating each entry's height
// ordering and proof-of-work, or initializes an empty chain with the
// fixed genesis block when no index exists yet.
func (s *BlockStore) load() error {
	raw, err := os.ReadFile(indexPath(s.dir))
	if errors.Is(err, os.ErrNotExist) {
		genesis := blockchain.GenesisBlock()
		s.index = []blockchain.BlockIndexEntry{{Height: 0, Hash: genesis.Hash}}
		if err := s.putBlock(genesis); err != nil {
			return err
		}
		return s.Flush()
	}
	if err != nil {
		return err
	}

	var doc indexDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	for i, entry := range doc.BlockIndices {
		if entry.Height != uint64(i) {
			return ErrCorruptIndex
		}
		if !blockchain.CheckProofOfWork(entry.Hash, entry.Height) {
			return ErrCorruptIndex
		}
	}
	s.index = doc.BlockIndices
	return nil
}

// Flush writes the index document and every dirty bucket to disk.
func (s *BlockStore) Flush() error {
	raw, err := json.Marshal(indexDocument{BlockIndices: s.index})
	if err != nil {
		return err
	}
	if err := os.WriteFile(indexPath(s.dir), raw, 0o644); err != nil {
		return err
	}
	for num, b := range s.buckets {
		if !b.dirty {
			continue
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if err := os.WriteFile(bucketPath(s.dir, num), raw, 0o644); err != nil {
			return err
		}
		b.dirty = false
	}
	return nil
}

func (s *BlockStore) loadBucket(num uint64) (*blockBucket, error) {
	if b, ok := s.buckets[num]; ok {
		return b, nil
	}
	raw, err := os.ReadFile(bucketPath(s.dir, num))
	if errors.Is(err, os.ErrNotExist) {
		b := &blockBucket{StartIndex: num * bucketSize, EndIndex: num * bucketSize}
		s.buckets[num] = b
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	var b blockBucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	s.buckets[num] = &b
	return &b, nil
}

// putBlock writes b into its bucket, creating or extending the bucket as
// needed, without touching the index.
func (s *BlockStore) putBlock(b *blockchain.Block) error {
	num := b.Height / bucketSize
	bucket, err := s.loadBucket(num)
	if err != nil {
		return err
	}
	pos := int(b.Height - bucket.StartIndex)
	for len(bucket.Blocks) <= pos {
		bucket.Blocks = append(bucket.Blocks, blockchain.Block{})
	}
	bucket.Blocks[pos] = *b
	if b.Height >= bucket.EndIndex {
		bucket.EndIndex = b.Height + 1
	}
	bucket.dirty = true
	return nil
}

// Height returns the current tip height.
func (s *BlockStore) Height() uint64 {
	return uint64(len(s.index) - 1)
}

// Latest returns the current tip block.
func (s *BlockStore) Latest() *blockchain.Block {
	b, _ := s.GetByHeight(s.Height())
	return b
}

// GetByHeight returns the block at the given height, loading its bucket
// from disk if it is not already cached.
func (s *BlockStore) GetByHeight(height uint64) (*blockchain.Block, bool) {
	if height >= uint64(len(s.index)) {
		return nil, false
	}
	bucket, err := s.loadBucket(height / bucketSize)
	if err != nil {
		log.Errorf("failed to load block bucket for height %d: %v", height, err)
		return nil, false
	}
	pos := int(height - bucket.StartIndex)
	if pos < 0 || pos >= len(bucket.Blocks) {
		return nil, false
	}
	b := bucket.Blocks[pos]
	return &b, true
}

// GetByHash performs a linear scan over the index.
func (s *BlockStore) GetByHash(hash string) (*blockchain.Block, bool) {
	for _, entry := range s.index {
		if entry.Hash == hash {
			return s.GetByHeight(entry.Height)
		}
	}
	return nil, false
}

// AddBlock appends b as the new tip.
func (s *BlockStore) AddBlock(b *blockchain.Block) error {
	if b.Height != s.Height()+1 {
		return fmt.Errorf("store: block height %d does not follow tip %d", b.Height, s.Height())
	}
	if err := s.putBlock(b); err != nil {
		return err
	}
	s.index = append(s.index, blockchain.BlockIndexEntry{Height: b.Height, Hash: b.Hash})
	return nil
}

// ReplaceBlocksFrom overwrites or extends the local chain at
// received[startPos:]'s heights. It returns the previously-stored
// blocks that were overwritten, in ascending height order, so the
// caller can de-index their transactions.
func (s *BlockStore) ReplaceBlocksFrom(startPos int, received []blockchain.Block) ([]blockchain.Block, error) {
	var removed []blockchain.Block
	for i := startPos; i < len(received); i++ {
		b := received[i]
		if b.Height < uint64(len(s.index)) {
			if old, ok := s.GetByHeight(b.Height); ok {
				removed = append(removed, *old)
			}
		} else if b.Height != uint64(len(s.index)) {
			return nil, fmt.Errorf("store: cannot replace at height %d past tip+1 %d", b.Height, len(s.index))
		}
		if err := s.putBlock(&b); err != nil {
			return nil, err
		}
		if b.Height < uint64(len(s.index)) {
			s.index[b.Height] = blockchain.BlockIndexEntry{Height: b.Height, Hash: b.Hash}
		} else {
			s.index = append(s.index, blockchain.BlockIndexEntry{Height: b.Height, Hash: b.Hash})
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Height < removed[j].Height })
	return removed, nil
}
