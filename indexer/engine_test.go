package indexer

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creditindexer/contracts"
	"creditindexer/store"
)

func loadPool(t *testing.T, h *harness) *store.TranchedPool {
	t.Helper()
	pool, err := store.Load[store.TranchedPool](h.store, key(poolAddr))
	require.NoError(t, err)
	require.NotNil(t, pool)
	return pool
}

func TestPoolAccrualFromChainState(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(0, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()

	pool := loadPool(t, h)
	require.Equal(t, key(borrowerAddr), pool.Borrower)
	require.Equal(t, key(creditLine), pool.CreditLine)
	require.Equal(t, "8000", pool.TotalDeposited.String())
	require.Equal(t, "8000", pool.JuniorDeposited.String())
	require.Equal(t, "32000", pool.EstimatedSeniorPoolContribution.String())
	require.Equal(t, "4", pool.EstimatedLeverageRatio.String())
	require.Equal(t, "40000", pool.EstimatedTotalAssets.String())
	require.Equal(t, "10", pool.JuniorFeePercent.String())
	require.Equal(t, "5", pool.ReserveFeePercent.String())
	require.Equal(t, "20.25", pool.EstimatedJuniorApy.String())
	require.Equal(t, "4080", pool.EstimatedSeniorInterest.String())
	require.Equal(t, []string{key(poolAddr) + "-1"}, pool.SeniorTranches)
	require.Equal(t, []string{key(poolAddr) + "-2"}, pool.JuniorTranches)

	junior, err := store.Load[store.TrancheInfo](h.store, key(poolAddr)+"-2")
	require.NoError(t, err)
	require.Equal(t, store.TrancheJunior, junior.Kind)
	require.Equal(t, "1800000000", junior.LockedUntil.String())

	line, err := store.Load[store.CreditLine](h.store, key(creditLine))
	require.NoError(t, err)
	require.Equal(t, "0.15", line.InterestAprDecimal.String())
	require.Equal(t, key(poolAddr), line.Pool)
	require.False(t, line.IsLate)

	for _, call := range h.caller.Calls() {
		require.NotEqual(t, legacyStrategyAddr, call.Contract, "pools after the cutoff use the current strategy")
		require.Equal(t, h.block, call.Block, "views are pinned to the event block")
	}
}

func TestPoolWithoutJuniorCapitalHasZeroLeverage(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(0, 0, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()

	pool := loadPool(t, h)
	require.Equal(t, "0", pool.EstimatedLeverageRatio.String())
	require.Equal(t, "32000", pool.EstimatedTotalAssets.String())
}

func TestRecomputationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(1000, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()

	deposit := h.event(poolAddr, "DepositMade", map[string]any{
		"owner":   alice,
		"tranche": big.NewInt(2),
		"tokenId": big.NewInt(1),
		"amount":  big.NewInt(500),
	})
	require.NoError(t, h.apply(deposit))
	first := snapshot(t, loadPool(t, h))
	line, err := store.Load[store.CreditLine](h.store, key(creditLine))
	require.NoError(t, err)
	firstLine := snapshot(t, line)

	require.NoError(t, h.apply(deposit))
	require.Equal(t, first, snapshot(t, loadPool(t, h)))
	line, err = store.Load[store.CreditLine](h.store, key(creditLine))
	require.NoError(t, err)
	require.Equal(t, firstLine, snapshot(t, line))

	audits, err := store.List[store.Transaction](h.store, store.Query{Where: map[string]any{"category": CategoryTranchedPoolDeposit}})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, deposit.ID(), audits[0].ID)
	require.Equal(t, key(alice), audits[0].User)
	require.Equal(t, "500", audits[0].SentAmount.String())
	require.Equal(t, TokenPoolToken, audits[0].ReceivedToken)
	require.Equal(t, "1", audits[0].ReceivedAmount.String())
}

func TestRevertKeepsLastKnownValue(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(0, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()

	h.caller.Revert(creditLine, contracts.MethodBalance, nil, "paused")
	h.caller.ReturnAny(creditLine, contracts.MethodInterestOwed, big.NewInt(99))
	h.caller.ReturnAny(creditLine, contracts.MethodNextDueTime, big.NewInt(baseTimestamp))
	h.mustApply(poolAddr, "DrawdownMade", map[string]any{"borrower": borrowerAddr, "amount": big.NewInt(10)})

	line, err := store.Load[store.CreditLine](h.store, key(creditLine))
	require.NoError(t, err)
	require.Equal(t, "40000", line.Balance.String())
	require.Equal(t, "99", line.InterestOwed.String())
	require.True(t, line.IsLate)
}

func TestLegacyPoolUsesSeniorOnlySplit(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.LegacyPools = []common.Address{poolAddr} })
	h.scriptPool(0, 8000, 32000, 40000, "100000000000000000", 10, 10)
	h.createPool()

	pool := loadPool(t, h)
	require.True(t, pool.IsLegacy)
	require.Equal(t, "0", pool.EstimatedLeverageRatio.String())
	require.Equal(t, "0", pool.EstimatedJuniorApy.String())
	require.Equal(t, "3600", pool.EstimatedSeniorInterest.String())
	require.Zero(t, h.caller.Count(contracts.MethodEstimateInvestment))
}

func TestLegacyPoolIndexedFromItsOwnEvents(t *testing.T) {
	legacy := func(cfg *Config) { cfg.LegacyPools = []common.Address{poolAddr} }

	h := newHarness(t, legacy)
	require.Equal(t, contracts.RoleTranchedPool, h.engine.Registry().Role(poolAddr))
	h.scriptPool(0, 8000, 32000, 40000, "100000000000000000", 10, 10)
	h.mustApply(poolAddr, "DrawdownMade", map[string]any{"borrower": borrowerAddr, "amount": big.NewInt(40000)})

	pool := loadPool(t, h)
	require.True(t, pool.IsLegacy)
	require.Equal(t, key(creditLine), pool.CreditLine)
	require.Equal(t, "0", pool.EstimatedLeverageRatio.String())
	require.Equal(t, "0", pool.EstimatedSeniorPoolContribution.String())
	require.Equal(t, "3600", pool.EstimatedSeniorInterest.String())
	require.Zero(t, h.caller.Count(contracts.MethodEstimateInvestment))

	redeemable(h, 1, 2, 3)
	mintToken(h, alice, 1, 100)
	backer := loadBacker(t, h, alice)
	require.Equal(t, "100", backer.PrincipalAmount.String())
	require.Equal(t, "5", backer.AvailableToWithdraw.String())

	// A token minted before any pool event persists the pool too.
	h = newHarness(t, legacy)
	h.scriptPool(0, 8000, 32000, 40000, "100000000000000000", 10, 10)
	redeemable(h, 1, 2, 3)
	mintToken(h, alice, 1, 100)
	pool = loadPool(t, h)
	require.True(t, pool.IsLegacy)
	require.Equal(t, "3600", pool.EstimatedSeniorInterest.String())
	require.Equal(t, "100", loadBacker(t, h, alice).PrincipalAmount.String())
}

func TestPoolCreatedBeforeCutoffUsesLegacyStrategy(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.LeverageCutoff = baseTimestamp * 2 })
	h.scriptPool(0, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.caller.ReturnAny(legacyStrategyAddr, contracts.MethodEstimateInvestment, big.NewInt(16000))
	h.createPool()

	require.Equal(t, "2", loadPool(t, h).EstimatedLeverageRatio.String())
}

func TestSeniorPoolDepositAndGFIApy(t *testing.T) {
	h := newHarness(t)
	h.caller.ReturnAny(seniorPoolAddr, contracts.MethodSharePrice, big.NewInt(1_000_000_000_000_000_000))
	h.caller.ReturnAny(seniorPoolAddr, contracts.MethodAssets, big.NewInt(5_000_000))
	h.caller.ReturnAny(fiduAddr, contracts.MethodTotalSupply, big.NewInt(4_000_000))
	h.caller.ReturnAny(stakingAddr, contracts.MethodCurrentEarnRatePerToken, big.NewInt(1_000_000_000))
	h.caller.ReturnAny(gfiAddr, contracts.MethodTotalSupply, big.NewInt(114_000_000))

	deposit := h.mustApply(seniorPoolAddr, "DepositMade", map[string]any{
		"capitalProvider": alice,
		"amount":          big.NewInt(1_050_000),
		"shares":          fidu(1),
	})
	audit, err := store.Load[store.Transaction](h.store, deposit.ID())
	require.NoError(t, err)
	require.Equal(t, CategorySeniorPoolDeposit, audit.Category)
	require.Equal(t, "1.05", audit.FiduPrice.String())
	require.Equal(t, TokenFIDU, audit.ReceivedToken)

	status, err := store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, "4000000", status.TotalShares.String())
	require.Equal(t, "0", status.EstimatedApyFromGfiRaw.String())

	h.mustApply(stakingAddr, "RewardAdded", map[string]any{"reward": fidu(100)})
	status, err = store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, "0.031536", status.EstimatedApyFromGfiRaw.String())

	rewards, err := store.Load[store.StakingRewards](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, "114000000", rewards.GfiTotalSupply.String())
}

func TestInvestmentAddsPoolToSeniorPoolApy(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(0, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()
	h.caller.ReturnAny(seniorPoolAddr, contracts.MethodAssets, big.NewInt(40800))

	h.mustApply(seniorPoolAddr, "InvestmentMadeInSenior", map[string]any{"tranchedPool": poolAddr, "amount": big.NewInt(32000)})
	status, err := store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, []string{key(poolAddr)}, status.TranchedPools)
	require.Equal(t, "0.1", status.EstimatedApy.String())

	err = h.apply(h.event(seniorPoolAddr, "InvestmentMadeInJunior", map[string]any{"tranchedPool": alice, "amount": big.NewInt(1)}))
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestPoolEventsRefreshSeniorPoolApy(t *testing.T) {
	h := newHarness(t)
	h.scriptPool(0, 8000, 32000, 40000, "150000000000000000", 10, 20)
	h.createPool()
	h.caller.ReturnAny(seniorPoolAddr, contracts.MethodAssets, big.NewInt(40800))
	h.mustApply(seniorPoolAddr, "InvestmentMadeInSenior", map[string]any{"tranchedPool": poolAddr, "amount": big.NewInt(32000)})

	h.caller.ReturnAny(creditLine, contracts.MethodBalance, big.NewInt(80000))
	h.mustApply(poolAddr, "DrawdownMade", map[string]any{"borrower": borrowerAddr, "amount": big.NewInt(40000)})
	status, err := store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, "0.2", status.EstimatedApy.String())

	h.caller.ReturnAny(creditLine, contracts.MethodBalance, big.NewInt(20000))
	h.mustApply(poolAddr, "PaymentApplied", map[string]any{
		"payer":           borrowerAddr,
		"pool":            poolAddr,
		"interestAmount":  big.NewInt(0),
		"principalAmount": big.NewInt(60000),
		"remainingAmount": big.NewInt(0),
		"reserveAmount":   big.NewInt(0),
	})
	status, err = store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, "0.05", status.EstimatedApy.String())
}

func TestApplySkipsUnknownContracts(t *testing.T) {
	h := newHarness(t)
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	require.NoError(t, h.apply(h.event(unknown, "DepositMade", map[string]any{})))
	require.NoError(t, h.apply(h.event(seniorPoolAddr, "Paused", map[string]any{})))

	transactions, err := store.List[store.Transaction](h.store, store.Query{})
	require.NoError(t, err)
	require.Empty(t, transactions)
}

func TestMalformedEventIsAnError(t *testing.T) {
	h := newHarness(t)
	err := h.apply(h.event(seniorPoolAddr, "DepositMade", map[string]any{"capitalProvider": alice}))
	require.Error(t, err)
	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
}

func TestFailedEventRollsBack(t *testing.T) {
	h := newHarness(t)
	h.caller.Fail(seniorPoolAddr, contracts.MethodTotalWritedowns, errors.New("connection reset"))
	err := h.apply(h.event(seniorPoolAddr, "DepositMade", map[string]any{
		"capitalProvider": alice,
		"amount":          big.NewInt(1),
		"shares":          big.NewInt(1),
	}))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIntegrity)

	status, err := store.Load[store.SeniorPoolStatus](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestGoListAndUID(t *testing.T) {
	h := newHarness(t)
	h.mustApply(goAddr, "GoListed", map[string]any{"member": alice})
	mint := h.mustApply(uidAddr, "TransferSingle", map[string]any{
		"operator": alice,
		"from":     common.Address{},
		"to":       alice,
		"id":       big.NewInt(0),
		"value":    big.NewInt(1),
	})
	user, err := store.Load[store.User](h.store, key(alice))
	require.NoError(t, err)
	require.True(t, user.IsGoListed)
	require.Equal(t, []string{"0"}, user.UIDTypes)

	audit, err := store.Load[store.Transaction](h.store, mint.ID())
	require.NoError(t, err)
	require.Equal(t, CategoryUIDMinted, audit.Category)

	h.mustApply(uidAddr, "TransferSingle", map[string]any{
		"operator": alice,
		"from":     alice,
		"to":       common.Address{},
		"id":       big.NewInt(0),
		"value":    big.NewInt(1),
	})
	h.mustApply(goAddr, "GoUnlisted", map[string]any{"member": alice})
	user, err = store.Load[store.User](h.store, key(alice))
	require.NoError(t, err)
	require.False(t, user.IsGoListed)
	require.Empty(t, user.UIDTypes)
}

func syntheticParams(ev abi.Event) map[string]any {
	params := make(map[string]any, len(ev.Inputs))
	for i, in := range ev.Inputs {
		switch in.Type.T {
		case abi.AddressTy:
			params[in.Name] = common.BigToAddress(big.NewInt(int64(0xd0 + i)))
		default:
			params[in.Name] = big.NewInt(int64(i + 1))
		}
	}
	return params
}

func TestEveryCataloguedEventIsHandled(t *testing.T) {
	h := newHarness(t)
	h.createPool()
	addresses := map[contracts.Role]common.Address{}
	for addr, role := range h.engine.Registry().Addresses() {
		addresses[role] = addr
	}
	for _, role := range contracts.Roles() {
		contract, ok := addresses[role]
		require.Truef(t, ok, "no address registered for %s", role)
		for _, name := range contracts.EventNames(role) {
			ev, ok := contracts.EventByName(role, name)
			require.True(t, ok)
			err := h.apply(h.event(contract, name, syntheticParams(ev)))
			require.Falsef(t, errors.Is(err, ErrUnhandled), "%s.%s: %v", role, name, err)
		}
	}
}
