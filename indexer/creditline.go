package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	"creditindexer/contracts"
	"creditindexer/numeric"
	"creditindexer/store"
)

// refreshCreditLine snapshots every credit line view. A reverted view keeps the
// stored value.
func (r *run) refreshCreditLine(addr common.Address, pool string) (*store.CreditLine, error) {
	cl, _, err := store.LoadOrCreate[store.CreditLine](r.tx, key(addr))
	if err != nil {
		return nil, err
	}
	if pool != "" {
		cl.Pool = pool
	}
	fields := []struct {
		method string
		dst    *numeric.Int
	}{
		{contracts.MethodBalance, &cl.Balance},
		{contracts.MethodInterestApr, &cl.InterestApr},
		{contracts.MethodInterestAccruedAsOf, &cl.InterestAccruedAsOf},
		{contracts.MethodNextDueTime, &cl.NextDueTime},
		{contracts.MethodLimit, &cl.Limit},
		{contracts.MethodInterestOwed, &cl.InterestOwed},
		{contracts.MethodTermEndTime, &cl.TermEndTime},
		{contracts.MethodLastFullPaymentTime, &cl.LastFullPaymentTime},
	}
	for _, f := range fields {
		v, ok, err := r.callUint(addr, f.method)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = v
		}
	}
	cl.InterestAprDecimal = numeric.FromMantissa(cl.InterestApr, numeric.Mantissa18)
	now := numeric.IntFromUint64(r.timestamp())
	cl.IsLate = !cl.NextDueTime.IsZero() && cl.NextDueTime.Cmp(now) < 0 && cl.InterestOwed.Sign() > 0
	if err := store.Save(r.tx, cl); err != nil {
		return nil, err
	}
	return cl, nil
}
