package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"creditindexer/chain"
	"creditindexer/contracts"
)

// Source reads logs for every registered contract. Pools announced by the
// factory are added to the registry before the range is scanned so their own
// logs in the same range are included.
type Source struct {
	client   Client
	registry *contracts.Registry

	mu         sync.Mutex
	timestamps map[uint64]uint64
}

// NewSource builds a log source over registry.
func NewSource(client Client, registry *contracts.Registry) *Source {
	return &Source{client: client, registry: registry, timestamps: make(map[uint64]uint64)}
}

// Head implements chain.Source.
func (s *Source) Head(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	return n, nil
}

// HeaderByNumber implements chain.Source.
func (s *Source) HeaderByNumber(ctx context.Context, n uint64) (chain.Header, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return chain.Header{}, fmt.Errorf("fetch header %d: %w", n, err)
	}
	if header == nil || header.Number == nil {
		return chain.Header{}, fmt.Errorf("block metadata unavailable for %d", n)
	}
	s.mu.Lock()
	s.timestamps[n] = header.Time
	s.mu.Unlock()
	return chain.Header{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  header.Time,
	}, nil
}

// Events implements chain.Source.
func (s *Source) Events(ctx context.Context, from, to uint64) ([]chain.Event, error) {
	if to < from {
		return nil, nil
	}
	if factory, ok := s.registry.Address(contracts.RoleFactory); ok {
		if err := s.discoverPools(ctx, factory, from, to); err != nil {
			return nil, err
		}
	}

	watched := s.registry.Addresses()
	addresses := make([]common.Address, 0, len(watched))
	topicSet := make(map[common.Hash]struct{})
	for addr, role := range watched {
		topics := contracts.Topics(role)
		if len(topics) == 0 {
			continue
		}
		addresses = append(addresses, addr)
		for _, topic := range topics {
			topicSet[topic] = struct{}{}
		}
	}
	if len(addresses) == 0 {
		return nil, nil
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].Hex() < addresses[j].Hex() })
	topics := make([]common.Hash, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Hex() < topics[j].Hex() })

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	out := make([]chain.Event, 0, len(logs))
	for _, log := range logs {
		ev, ok, err := s.decode(ctx, log)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ev)
		}
	}
	chain.SortEvents(out)
	return out, nil
}

func (s *Source) discoverPools(ctx context.Context, factory common.Address, from, to uint64) error {
	created, ok := contracts.EventByName(contracts.RoleFactory, "PoolCreated")
	if !ok {
		return nil
	}
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{factory},
		Topics:    [][]common.Hash{{created.ID}},
	})
	if err != nil {
		return fmt.Errorf("filter pool creations [%d,%d]: %w", from, to, err)
	}
	for _, log := range logs {
		if log.Removed {
			continue
		}
		values, err := chain.DecodeLog(created, log)
		if err != nil {
			return err
		}
		if pool, ok := values["pool"].(common.Address); ok {
			s.registry.Register(pool, contracts.RoleTranchedPool)
		}
	}
	return nil
}

func (s *Source) decode(ctx context.Context, log gethtypes.Log) (chain.Event, bool, error) {
	if log.Removed || len(log.Topics) == 0 {
		return chain.Event{}, false, nil
	}
	role := s.registry.Role(log.Address)
	abiEvent, ok := contracts.EventByTopic(role, log.Topics[0])
	if !ok {
		return chain.Event{}, false, nil
	}
	values, err := chain.DecodeLog(abiEvent, log)
	if err != nil {
		return chain.Event{}, false, fmt.Errorf("log %s-%d: %w", log.TxHash.Hex(), log.Index, err)
	}
	ts, err := s.timestamp(ctx, log.BlockNumber)
	if err != nil {
		return chain.Event{}, false, err
	}
	return chain.Event{
		Contract: log.Address,
		Name:     abiEvent.Name,
		Params:   values,
		Position: chain.Position{
			Block:    log.BlockNumber,
			TxIndex:  log.TxIndex,
			LogIndex: log.Index,
		},
		Timestamp: ts,
		TxHash:    log.TxHash,
		BlockHash: log.BlockHash,
	}, true, nil
}

func (s *Source) timestamp(ctx context.Context, n uint64) (uint64, error) {
	s.mu.Lock()
	ts, ok := s.timestamps[n]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}
	header, err := s.HeaderByNumber(ctx, n)
	if err != nil {
		return 0, err
	}
	return header.Timestamp, nil
}

// Forget drops cached timestamps at or above n. The syncer calls it after a
// reorganisation.
func (s *Source) Forget(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for block := range s.timestamps {
		if block >= n {
			delete(s.timestamps, block)
		}
	}
}
