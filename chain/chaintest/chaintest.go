// Package chaintest provides scripted chain.Caller and chain.Source doubles.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"creditindexer/chain"
)

// Caller answers view calls from a script. Calls that were never scripted
// revert with reason "unscripted".
type Caller struct {
	mu      sync.Mutex
	results map[string]chain.Result
	errs    map[string]error
	calls   []chain.Call
}

// NewCaller returns an empty script.
func NewCaller() *Caller {
	return &Caller{results: map[string]chain.Result{}, errs: map[string]error{}}
}

func callKey(contract common.Address, fn string, args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return chain.AddressKey(contract) + "." + fn + "(" + strings.Join(parts, ",") + ")"
}

func anyKey(contract common.Address, fn string) string {
	return chain.AddressKey(contract) + "." + fn + "(*)"
}

// Return scripts a successful call with exactly args.
func (c *Caller) Return(contract common.Address, fn string, args []any, values ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[callKey(contract, fn, args)] = chain.Returned(values...)
}

// ReturnAny scripts a successful call regardless of arguments.
func (c *Caller) ReturnAny(contract common.Address, fn string, values ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[anyKey(contract, fn)] = chain.Returned(values...)
}

// Revert scripts a reverting call with exactly args.
func (c *Caller) Revert(contract common.Address, fn string, args []any, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[callKey(contract, fn, args)] = chain.Reverted(reason)
}

// Fail scripts a transport error for every call of fn on contract.
func (c *Caller) Fail(contract common.Address, fn string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[anyKey(contract, fn)] = err
}

// Calls returns the calls observed so far.
func (c *Caller) Calls() []chain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chain.Call(nil), c.calls...)
}

// Count reports how often fn was called on any contract.
func (c *Caller) Count(fn string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Function == fn {
			n++
		}
	}
	return n
}

// Call implements chain.Caller.
func (c *Caller) Call(ctx context.Context, call chain.Call) (chain.Result, error) {
	if err := ctx.Err(); err != nil {
		return chain.Result{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	if err, ok := c.errs[anyKey(call.Contract, call.Function)]; ok {
		return chain.Result{}, err
	}
	if res, ok := c.results[callKey(call.Contract, call.Function, call.Args)]; ok {
		return res, nil
	}
	if res, ok := c.results[anyKey(call.Contract, call.Function)]; ok {
		return res, nil
	}
	return chain.Reverted("unscripted"), nil
}

type block struct {
	header chain.Header
	events []chain.Event
}

// Source is an in-memory chain. Block 0 is an empty genesis.
type Source struct {
	mu     sync.Mutex
	blocks []block
	fork   uint64
	// Err, when set, is returned from Events.
	Err error
}

// NewSource returns a chain containing only genesis.
func NewSource() *Source {
	s := &Source{}
	s.blocks = append(s.blocks, block{header: chain.Header{Number: 0, Hash: s.hash(0), Timestamp: 1_600_000_000}})
	return s
}

func (s *Source) hash(n uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], n)
	binary.BigEndian.PutUint64(buf[8:], s.fork)
	return gethcrypto.Keccak256Hash(buf[:])
}

// Append mines a block holding events. Positions are assigned in order: each
// event gets its own transaction index unless it already carries one.
func (s *Source) Append(events ...chain.Event) chain.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := s.blocks[len(s.blocks)-1].header
	header := chain.Header{
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Timestamp:  parent.Timestamp + 12,
	}
	header.Hash = s.hash(header.Number)
	mined := make([]chain.Event, len(events))
	for i, ev := range events {
		ev.Position.Block = header.Number
		if ev.Position.TxIndex == 0 && ev.Position.LogIndex == 0 {
			ev.Position.TxIndex = uint(i)
			ev.Position.LogIndex = uint(i)
		}
		if ev.Timestamp == 0 {
			ev.Timestamp = header.Timestamp
		}
		if (ev.TxHash == common.Hash{}) {
			ev.TxHash = gethcrypto.Keccak256Hash(header.Hash.Bytes(), []byte{byte(i)})
		}
		ev.BlockHash = header.Hash
		mined[i] = ev
	}
	chain.SortEvents(mined)
	s.blocks = append(s.blocks, block{header: header, events: mined})
	return header
}

// Reorg discards every block at or above height from. Blocks mined afterwards
// carry different hashes.
func (s *Source) Reorg(from uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from == 0 {
		from = 1
	}
	if from < uint64(len(s.blocks)) {
		s.blocks = s.blocks[:from]
	}
	s.fork++
}

// Head implements chain.Source.
func (s *Source) Head(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[len(s.blocks)-1].header.Number, ctx.Err()
}

// HeaderByNumber implements chain.Source.
func (s *Source) HeaderByNumber(ctx context.Context, n uint64) (chain.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= uint64(len(s.blocks)) {
		return chain.Header{}, fmt.Errorf("chaintest: block %d not found", n)
	}
	return s.blocks[n].header, ctx.Err()
}

// Events implements chain.Source.
func (s *Source) Events(ctx context.Context, from, to uint64) ([]chain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []chain.Event
	for n := from; n <= to && n < uint64(len(s.blocks)); n++ {
		out = append(out, s.blocks[n].events...)
	}
	return out, nil
}

// Event builds a raw event for contract.
func Event(contract common.Address, name string, params map[string]any) chain.Event {
	return chain.Event{Contract: contract, Name: name, Params: params}
}
