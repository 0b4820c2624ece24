package indexer

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/contracts"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/store"
)

// refreshSeniorPool snapshots the senior pool. A non-empty addPool joins the set
// of pools the senior pool has invested in.
func (r *run) refreshSeniorPool(addPool string) error {
	status, _, err := store.LoadOrCreate[store.SeniorPoolStatus](r.tx, store.SingletonID)
	if err != nil {
		return err
	}
	if addPool != "" {
		status.TranchedPools = addToSet(status.TranchedPools, addPool)
	}
	if senior, ok := r.address(contracts.RoleSeniorPool); ok {
		fields := []struct {
			method string
			dst    *numeric.Int
		}{
			{contracts.MethodSharePrice, &status.SharePrice},
			{contracts.MethodAssets, &status.Assets},
			{contracts.MethodTotalLoansOutstanding, &status.TotalLoansOutstanding},
			{contracts.MethodTotalWritedowns, &status.TotalWritedowns},
		}
		for _, f := range fields {
			v, ok, err := r.callUint(senior, f.method)
			if err != nil {
				return err
			}
			if ok {
				*f.dst = v
			}
		}
	}
	if fidu, ok := r.address(contracts.RoleFidu); ok {
		v, ok, err := r.callUint(fidu, contracts.MethodTotalSupply)
		if err != nil {
			return err
		}
		if ok {
			status.TotalShares = v
		}
	}

	interests := make([]numeric.Dec, 0, len(status.TranchedPools))
	for _, id := range status.TranchedPools {
		pool, err := store.Load[store.TranchedPool](r.tx, id)
		if err != nil {
			return err
		}
		if pool != nil {
			interests = append(interests, pool.EstimatedSeniorInterest)
		}
	}
	status.EstimatedApy = SeniorPoolAPY(interests, status.Assets)

	staking, err := store.Load[store.StakingRewards](r.tx, store.SingletonID)
	if err != nil {
		return err
	}
	if staking != nil {
		status.EstimatedApyFromGfiRaw = GFIApyRaw(staking.CurrentEarnRatePerToken, status.SharePrice)
	}
	return store.Save(r.tx, status)
}

func addToSet(set []string, id string) []string {
	i := sort.SearchStrings(set, id)
	if i < len(set) && set[i] == id {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = id
	return set
}

func removeFromSet(set []string, id string) []string {
	out := set[:0]
	for _, v := range set {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (r *run) onSeniorPoolDeposit(ev events.SeniorPoolDeposit) error {
	if err := r.refreshSeniorPool(""); err != nil {
		return err
	}
	// USDC scaled to FIDU precision over shares minted.
	price := numeric.DecFrac(ev.Amount.Mul(numeric.FiduUSDCConversion), ev.Shares)
	return r.audit(store.Transaction{
		Category:       CategorySeniorPoolDeposit,
		User:           key(ev.CapitalProvider),
		SentAmount:     ev.Amount,
		SentToken:      TokenUSDC,
		ReceivedAmount: ev.Shares,
		ReceivedToken:  TokenFIDU,
		FiduPrice:      price,
	})
}

func (r *run) onSeniorPoolWithdrawal(ev events.SeniorPoolWithdrawal) error {
	if err := r.refreshSeniorPool(""); err != nil {
		return err
	}
	if err := r.executeWithdrawal(ev.CapitalProvider); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategorySeniorPoolWithdrawal,
		User:           key(ev.CapitalProvider),
		ReceivedAmount: ev.UserAmount,
		ReceivedToken:  TokenUSDC,
	})
}

func (r *run) onPrincipalWrittenDown(ev events.PrincipalWrittenDown) error {
	if err := r.refreshInvestedPool(ev.TranchedPool); err != nil {
		return err
	}
	return r.refreshSeniorPool("")
}

func (r *run) onInvestmentMade(ev events.InvestmentMade) error {
	if err := r.refreshInvestedPool(ev.TranchedPool); err != nil {
		return err
	}
	return r.refreshSeniorPool(key(ev.TranchedPool))
}

// refreshInvestedSeniorApy re-estimates the senior pool APY when it holds a
// position in pool.
func (r *run) refreshInvestedSeniorApy(pool common.Address) error {
	status, err := store.Load[store.SeniorPoolStatus](r.tx, store.SingletonID)
	if err != nil || status == nil {
		return err
	}
	for _, id := range status.TranchedPools {
		if id == key(pool) {
			return r.refreshSeniorPool("")
		}
	}
	return nil
}

// refreshInvestedPool recomputes a pool referenced by a senior pool event.
func (r *run) refreshInvestedPool(addr common.Address) error {
	if _, err := r.requirePool(addr); err != nil {
		return err
	}
	return r.refreshPool(addr)
}
