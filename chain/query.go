package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is a read-only contract query pinned to a block height.
type Call struct {
	Contract common.Address
	Function string
	Args     []any
	Block    uint64
}

// Result is the outcome of a Call. A revert is reported with Success=false and is
// not an error: the caller keeps the affected fields at their last known value.
type Result struct {
	Success      bool
	Values       []any
	RevertReason string
}

// Reverted builds a failed result.
func Reverted(reason string) Result {
	return Result{RevertReason: reason}
}

// Returned builds a successful result.
func Returned(values ...any) Result {
	return Result{Success: true, Values: values}
}

// Caller issues block-pinned view calls. It returns an error only for transport
// faults; reverts are carried in the Result.
type Caller interface {
	Call(ctx context.Context, call Call) (Result, error)
}

// Uint returns output i as an integer.
func (r Result) Uint(i int) (*big.Int, bool) {
	if !r.Success || i < 0 || i >= len(r.Values) {
		return nil, false
	}
	switch v := r.Values[i].(type) {
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case int64:
		return big.NewInt(v), true
	case uint8:
		return big.NewInt(int64(v)), true
	default:
		return nil, false
	}
}

// Address returns output i as an address.
func (r Result) Address(i int) (common.Address, bool) {
	if !r.Success || i < 0 || i >= len(r.Values) {
		return common.Address{}, false
	}
	v, ok := r.Values[i].(common.Address)
	return v, ok
}

// Addresses returns output i as an address slice.
func (r Result) Addresses(i int) ([]common.Address, bool) {
	if !r.Success || i < 0 || i >= len(r.Values) {
		return nil, false
	}
	v, ok := r.Values[i].([]common.Address)
	return v, ok
}

// Bool returns output i as a boolean.
func (r Result) Bool(i int) (bool, bool) {
	if !r.Success || i < 0 || i >= len(r.Values) {
		return false, false
	}
	v, ok := r.Values[i].(bool)
	return v, ok
}
