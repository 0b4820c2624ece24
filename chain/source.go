package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Header is the subset of a block header needed for cursor tracking and
// reorganisation detection.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// Source is an ordered, replayable stream of decoded events.
type Source interface {
	// Head returns the latest block number known to the source.
	Head(ctx context.Context) (uint64, error)
	// HeaderByNumber returns the canonical header at height n.
	HeaderByNumber(ctx context.Context, n uint64) (Header, error)
	// Events returns every decoded event in [from, to], ordered by position.
	Events(ctx context.Context, from, to uint64) ([]Event, error)
}
