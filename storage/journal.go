package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	cursorKey   = []byte("cursor")
	blockPrefix = []byte("block/")
)

// Journal records the hash of every block the indexer has applied together
// with the cursor, the last fully applied block. Reorganisations are detected
// by comparing these hashes with the canonical chain.
type Journal struct {
	db Database
}

// NewJournal wraps db.
func NewJournal(db Database) *Journal {
	return &Journal{db: db}
}

func blockKey(n uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], n)
	return key
}

func blockNumber(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(blockPrefix):])
}

// Cursor returns the last applied block. ok is false before the first block.
func (j *Journal) Cursor() (n uint64, ok bool, err error) {
	raw, err := j.db.Get(cursorKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor: %w", err)
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("read cursor: corrupt value of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// SetCursor moves the cursor to n.
func (j *Journal) SetCursor(n uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], n)
	return j.db.Put(cursorKey, raw[:])
}

// RecordBlock stores the hash of applied block n.
func (j *Journal) RecordBlock(n uint64, hash common.Hash) error {
	return j.db.Put(blockKey(n), hash.Bytes())
}

// Hash returns the recorded hash of block n.
func (j *Journal) Hash(n uint64) (common.Hash, bool, error) {
	raw, err := j.db.Get(blockKey(n))
	if errors.Is(err, ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(raw), true, nil
}

// Blocks returns recorded block numbers, newest first.
func (j *Journal) Blocks() ([]uint64, error) {
	keys, err := j.db.Keys(blockPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(keys))
	for i, key := range keys {
		out[len(keys)-1-i] = blockNumber(key)
	}
	return out, nil
}

// TruncateAbove forgets every block above n and moves the cursor to n.
func (j *Journal) TruncateAbove(n uint64) error {
	keys, err := j.db.Keys(blockPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if blockNumber(key) > n {
			if err := j.db.Delete(key); err != nil {
				return err
			}
		}
	}
	return j.SetCursor(n)
}

// PruneBelow forgets blocks below n; they are past any plausible reorg depth.
func (j *Journal) PruneBelow(n uint64) error {
	keys, err := j.db.Keys(blockPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if blockNumber(key) >= n {
			break
		}
		if err := j.db.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
