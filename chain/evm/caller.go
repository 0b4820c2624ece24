// Package evm implements chain.Caller and chain.Source against an Ethereum
// JSON-RPC endpoint.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"creditindexer/chain"
	"creditindexer/contracts"
)

// Client defines the subset of the Ethereum RPC used by the indexer.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial initialises an RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ErrUnknownMethod is returned for a call to a method missing from the catalogue.
var ErrUnknownMethod = errors.New("evm: unknown method")

// Caller issues eth_call requests pinned to the call's block.
type Caller struct {
	client  Client
	limiter *rate.Limiter
}

// NewCaller wraps client. A non-positive perSecond disables pacing.
func NewCaller(client Client, perSecond float64, burst int) *Caller {
	c := &Caller{client: client}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return c
}

// Call implements chain.Caller.
func (c *Caller) Call(ctx context.Context, call chain.Call) (chain.Result, error) {
	if c == nil || c.client == nil {
		return chain.Result{}, fmt.Errorf("evm caller not initialised")
	}
	method, ok := contracts.Method(call.Function)
	if !ok {
		return chain.Result{}, fmt.Errorf("%w: %s", ErrUnknownMethod, call.Function)
	}
	data, err := chain.EncodeCall(method, call.Args...)
	if err != nil {
		return chain.Result{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return chain.Result{}, err
		}
	}
	to := call.Contract
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, new(big.Int).SetUint64(call.Block))
	if err != nil {
		if reason, reverted := revertReason(err); reverted {
			return chain.Reverted(reason), nil
		}
		return chain.Result{}, fmt.Errorf("call %s on %s at %d: %w", call.Function, call.Contract.Hex(), call.Block, err)
	}
	if len(method.Outputs) == 0 {
		return chain.Returned(), nil
	}
	if len(out) == 0 {
		// Calls into an address without code return no data.
		return chain.Reverted("empty return data"), nil
	}
	values, err := method.Outputs.Unpack(out)
	if err != nil {
		return chain.Reverted(fmt.Sprintf("unpack %s: %v", call.Function, err)), nil
	}
	return chain.Returned(values...), nil
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if payload, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(payload); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return rpcErr.Error(), true
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return err.Error(), true
	}
	return "", false
}
