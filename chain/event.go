// Package chain defines the boundary between the accounting engine and the
// blockchain: the ordered stream of decoded contract events and the
// block-pinned read-only query interface.
package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Position locates an event in the chain's total order.
type Position struct {
	Block    uint64 `json:"block"`
	TxIndex  uint   `json:"txIndex"`
	LogIndex uint   `json:"logIndex"`
}

// Compare orders positions by block, transaction index and log index.
func (p Position) Compare(o Position) int {
	switch {
	case p.Block != o.Block:
		return cmpUint(p.Block, o.Block)
	case p.TxIndex != o.TxIndex:
		return cmpUint(uint64(p.TxIndex), uint64(o.TxIndex))
	default:
		return cmpUint(uint64(p.LogIndex), uint64(o.LogIndex))
	}
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	return p.Compare(o) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Block, p.TxIndex, p.LogIndex)
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Event is one decoded contract log as delivered by a Source.
type Event struct {
	Contract  common.Address
	Name      string
	Params    map[string]any
	Position  Position
	Timestamp uint64
	TxHash    common.Hash
	BlockHash common.Hash
}

// ID is the deterministic identifier derived from the transaction hash and the
// log index. Append-only records created for an event are keyed by it.
func (e Event) ID() string {
	return fmt.Sprintf("%s-%d", strings.ToLower(e.TxHash.Hex()), e.Position.LogIndex)
}

// SortEvents orders events by position in place.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Position.Before(events[j].Position)
	})
}

// AddressKey is the canonical entity key for an address: lower-case hex.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ZeroAddress reports whether addr is the zero address used for mints and burns.
func ZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
