package indexer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/contracts"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/store"
)

// maxSlices bounds the tranche scan when numSlices returns garbage.
const maxSlices = 64

func trancheKey(pool string, id uint64) string {
	return fmt.Sprintf("%s-%d", pool, id)
}

// refreshPool recomputes a tranched pool, its credit line and its tranches from
// chain state.
func (r *run) refreshPool(addr common.Address) error {
	_, err := r.recomputePool(addr)
	return err
}

func (r *run) recomputePool(addr common.Address) (*store.TranchedPool, error) {
	id := key(addr)
	pool, created, err := store.LoadOrCreate[store.TranchedPool](r.tx, id)
	if err != nil {
		return nil, err
	}
	if created && pool.CreatedTimestamp == 0 {
		pool.CreatedTimestamp = r.timestamp()
	}
	pool.IsLegacy = r.isLegacy(id)

	res, err := r.call(addr, contracts.MethodCreditLine)
	if err != nil {
		return nil, err
	}
	if cl, ok := res.Address(0); ok && cl != (common.Address{}) {
		pool.CreditLine = key(cl)
	}
	var line *store.CreditLine
	if pool.CreditLine != "" {
		if line, err = r.refreshCreditLine(common.HexToAddress(pool.CreditLine), id); err != nil {
			return nil, err
		}
	}

	if n, ok, err := r.callUint(addr, contracts.MethodNumSlices); err != nil {
		return nil, err
	} else if ok {
		pool.NumSlices = n
	}
	slices := pool.NumSlices.Uint64()
	if slices == 0 {
		slices = 1
	}
	if slices > maxSlices {
		slices = maxSlices
	}

	pool.SeniorTranches = pool.SeniorTranches[:0]
	pool.JuniorTranches = pool.JuniorTranches[:0]
	total, junior := numeric.Int{}, numeric.Int{}
	for i := uint64(0); i < slices; i++ {
		senior, err := r.refreshTranche(addr, 2*i+1)
		if err != nil {
			return nil, err
		}
		jr, err := r.refreshTranche(addr, 2*i+2)
		if err != nil {
			return nil, err
		}
		pool.SeniorTranches = append(pool.SeniorTranches, senior.ID)
		pool.JuniorTranches = append(pool.JuniorTranches, jr.ID)
		total = total.Add(senior.PrincipalDeposited).Add(jr.PrincipalDeposited)
		junior = junior.Add(jr.PrincipalDeposited)
	}
	pool.TotalDeposited = total
	pool.JuniorDeposited = junior

	if fee, ok, err := r.callUint(addr, contracts.MethodJuniorFeePercent); err != nil {
		return nil, err
	} else if ok {
		pool.JuniorFeePercent = fee
	}
	if err := r.refreshReserveFee(pool); err != nil {
		return nil, err
	}

	if pool.IsLegacy {
		pool.EstimatedSeniorPoolContribution = numeric.Int{}
		pool.EstimatedLeverageRatio = numeric.Dec{}
	} else {
		if err := r.estimateContribution(addr, pool); err != nil {
			return nil, err
		}
		pool.EstimatedLeverageRatio = LeverageRatio(pool.EstimatedSeniorPoolContribution, pool.JuniorDeposited)
	}
	pool.EstimatedTotalAssets = pool.TotalDeposited.Add(pool.EstimatedSeniorPoolContribution)

	if line != nil {
		// Interest is kept in USDC base units so it divides directly by assets.
		basis := line.Balance
		if basis.IsZero() {
			basis = line.Limit
		}
		apy := EstimateAPY(APYInputs{
			Balance:    numeric.DecFromInt(basis),
			Rate:       line.InterestAprDecimal,
			Leverage:   pool.EstimatedLeverageRatio,
			JuniorFee:  numeric.Percent(pool.JuniorFeePercent),
			ReserveFee: numeric.Percent(pool.ReserveFeePercent),
			Legacy:     pool.IsLegacy,
		})
		pool.EstimatedJuniorApy = apy.EstimatedJuniorApy
		pool.EstimatedSeniorInterest = apy.SeniorPoolInterest
	}

	if err := store.Save(r.tx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func (r *run) refreshTranche(pool common.Address, trancheID uint64) (*store.TrancheInfo, error) {
	poolKey := key(pool)
	info, _, err := store.LoadOrCreate[store.TrancheInfo](r.tx, trancheKey(poolKey, trancheID))
	if err != nil {
		return nil, err
	}
	info.Pool = poolKey
	info.TrancheID = numeric.IntFromUint64(trancheID)
	info.Kind = store.TrancheJunior
	if trancheID%2 == 1 {
		info.Kind = store.TrancheSenior
	}
	res, err := r.call(pool, contracts.MethodGetTranche, new(big.Int).SetUint64(trancheID))
	if err != nil {
		return nil, err
	}
	if res.Success {
		if v, ok := uintAt(res, 1); ok {
			info.PrincipalDeposited = v
		}
		if v, ok := uintAt(res, 2); ok {
			info.PrincipalSharePrice = v
		}
		if v, ok := uintAt(res, 3); ok {
			info.InterestSharePrice = v
		}
		if v, ok := uintAt(res, 4); ok {
			info.LockedUntil = v
		}
	}
	if err := store.Save(r.tx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// refreshReserveFee derives the reserve fee percent from the protocol config's
// reserve denominator.
func (r *run) refreshReserveFee(pool *store.TranchedPool) error {
	cfg, ok := r.address(contracts.RoleConfig)
	if !ok {
		return nil
	}
	denom, ok, err := r.callUint(cfg, contracts.MethodGetNumber, big.NewInt(contracts.ConfigReserveDenominator))
	if err != nil || !ok || denom.Sign() <= 0 {
		return err
	}
	pool.ReserveFeePercent = numeric.Hundred.Quo(denom)
	return nil
}

// estimateContribution asks the leverage strategy matching the pool's creation
// time how much the senior pool would invest.
func (r *run) estimateContribution(addr common.Address, pool *store.TranchedPool) error {
	strategy := r.e.cfg.LeverageStrategy
	if pool.CreatedTimestamp < r.e.cfg.LeverageCutoff {
		strategy = r.e.cfg.LegacyLeverageStrategy
	}
	if strategy == (common.Address{}) {
		if registered, ok := r.address(contracts.RoleLeverageStrategy); ok {
			strategy = registered
		}
	}
	senior, ok := r.address(contracts.RoleSeniorPool)
	if !ok || strategy == (common.Address{}) {
		return nil
	}
	v, ok, err := r.callUint(strategy, contracts.MethodEstimateInvestment, senior, addr)
	if err != nil {
		return err
	}
	if ok {
		pool.EstimatedSeniorPoolContribution = v
	}
	return nil
}

func (r *run) onPoolCreated(ev events.PoolCreated) error {
	id := key(ev.Pool)
	pool, created, err := store.LoadOrCreate[store.TranchedPool](r.tx, id)
	if err != nil {
		return err
	}
	if created {
		pool.CreatedTimestamp = r.timestamp()
	}
	pool.Borrower = key(ev.Borrower)
	pool.IsLegacy = r.isLegacy(id)
	if err := store.Save(r.tx, pool); err != nil {
		return err
	}
	r.e.registry.Register(ev.Pool, contracts.RoleTranchedPool)
	return r.refreshPool(ev.Pool)
}

// requirePool loads a pool that must already have been announced by the
// factory. Configured legacy pools predate the factory and are recomputed from
// chain state on first reference.
func (r *run) requirePool(addr common.Address) (*store.TranchedPool, error) {
	pool, err := store.Load[store.TranchedPool](r.tx, key(addr))
	if err != nil {
		return nil, err
	}
	if pool == nil {
		if r.isLegacy(key(addr)) {
			return r.recomputePool(addr)
		}
		return nil, integrity("tranched pool %s not indexed", key(addr))
	}
	return pool, nil
}

// ownPool loads the pool emitting the current event. The emitter proves the
// pool exists, so a pool first seen here is created rather than rejected.
func (r *run) ownPool(addr common.Address) (*store.TranchedPool, error) {
	pool, created, err := store.LoadOrCreate[store.TranchedPool](r.tx, key(addr))
	if err != nil {
		return nil, err
	}
	if created {
		pool.CreatedTimestamp = r.timestamp()
		pool.IsLegacy = r.isLegacy(key(addr))
	}
	return pool, nil
}

func (r *run) onTranchedPoolDeposit(ev events.TranchedPoolDeposit) error {
	if err := r.refreshPool(ev.Contract); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategoryTranchedPoolDeposit,
		User:           key(ev.Owner),
		TranchedPool:   key(ev.Contract),
		SentAmount:     ev.Amount,
		SentToken:      TokenUSDC,
		ReceivedAmount: numeric.IntFromUint64(1),
		ReceivedToken:  TokenPoolToken,
	})
}

func (r *run) onTranchedPoolWithdrawal(ev events.TranchedPoolWithdrawal) error {
	if err := r.refreshPool(ev.Contract); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategoryTranchedPoolWithdrawal,
		User:           key(ev.Owner),
		TranchedPool:   key(ev.Contract),
		ReceivedAmount: ev.InterestWithdrawn.Add(ev.PrincipalWithdrawn),
		ReceivedToken:  TokenUSDC,
	})
}

func (r *run) onDrawdownMade(ev events.DrawdownMade) error {
	if err := r.refreshPool(ev.Contract); err != nil {
		return err
	}
	if err := r.rescanBackers(ev.Contract); err != nil {
		return err
	}
	if err := r.refreshInvestedSeniorApy(ev.Contract); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategoryTranchedPoolDrawdown,
		User:           key(ev.Borrower),
		TranchedPool:   key(ev.Contract),
		ReceivedAmount: ev.Amount,
		ReceivedToken:  TokenUSDC,
	})
}

func (r *run) onPaymentApplied(ev events.PaymentApplied) error {
	if err := r.refreshPool(ev.Contract); err != nil {
		return err
	}
	if err := r.rescanBackers(ev.Contract); err != nil {
		return err
	}
	if err := r.refreshInvestedSeniorApy(ev.Contract); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:     CategoryTranchedPoolRepayment,
		User:         key(ev.Payer),
		TranchedPool: key(ev.Contract),
		SentAmount:   ev.Interest.Add(ev.Principal).Add(ev.Remaining),
		SentToken:    TokenUSDC,
	})
}

func (r *run) onEmergencyShutdown(ev events.EmergencyShutdown) error {
	pool, err := r.ownPool(ev.Contract)
	if err != nil {
		return err
	}
	pool.IsPaused = true
	if err := store.Save(r.tx, pool); err != nil {
		return err
	}
	return r.refreshPool(ev.Contract)
}

func (r *run) onDrawdownsToggled(ev events.DrawdownsToggled) error {
	pool, err := r.ownPool(ev.Contract)
	if err != nil {
		return err
	}
	pool.DrawdownsPaused = ev.Paused
	return store.Save(r.tx, pool)
}

func (r *run) onCreditLineMigrated(ev events.CreditLineMigrated) error {
	pool, err := r.ownPool(ev.Contract)
	if err != nil {
		return err
	}
	pool.CreditLine = key(ev.NewCreditLine)
	if err := store.Save(r.tx, pool); err != nil {
		return err
	}
	return r.refreshPool(ev.Contract)
}
