// Package events holds the closed set of protocol events the accounting engine
// reacts to. Each kind is its own struct; consumers switch exhaustively on the
// concrete type.
package events

import (
	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/contracts"
)

// Header carries the chain coordinates shared by every decoded event.
type Header struct {
	Contract  common.Address
	Role      contracts.Role
	Name      string
	Position  chain.Position
	Timestamp uint64
	TxHash    common.Hash
	ID        string
}

// EventHeader returns h. Embedding Header gives every event kind this method.
func (h Header) EventHeader() Header { return h }

func (Header) sealed() {}

// HeaderFrom derives a Header from a raw stream item.
func HeaderFrom(raw chain.Event, role contracts.Role) Header {
	return Header{
		Contract:  raw.Contract,
		Role:      role,
		Name:      raw.Name,
		Position:  raw.Position,
		Timestamp: raw.Timestamp,
		TxHash:    raw.TxHash,
		ID:        raw.ID(),
	}
}

// Event is implemented only by the kinds declared in this package.
type Event interface {
	EventHeader() Header
	sealed()
}
