package indexer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"creditindexer/numeric"
	"creditindexer/store"
)

func shares(amounts ...int64) []Share {
	out := make([]Share, len(amounts))
	for i, a := range amounts {
		out[i] = Share{ID: string(rune('a' + i)), FiduRequested: numeric.IntFromInt64(a)}
	}
	return out
}

func totals(requested, liquidated, allocated int64) EpochTotals {
	return EpochTotals{
		FiduRequested:  numeric.IntFromInt64(requested),
		FiduLiquidated: numeric.IntFromInt64(liquidated),
		UsdcAllocated:  numeric.IntFromInt64(allocated),
	}
}

func TestSettleEpochProRata(t *testing.T) {
	out, err := SettleEpoch(shares(100, 100, 100), totals(300, 150, 30_000), numeric.Int{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	sum := numeric.Int{}
	for _, s := range out {
		require.Equal(t, "10000", s.ProRataUsdc.String())
		require.Equal(t, "50", s.FiduLiquidated.String())
		require.Equal(t, "50", s.Remaining.String())
		require.False(t, s.DustAbsorbed)
		sum = sum.Add(s.ProRataUsdc)
	}
	require.Equal(t, "30000", sum.String())
}

func TestSettleEpochAbsorbsDust(t *testing.T) {
	dust := numeric.MustInt(DefaultDustThreshold)
	out, err := SettleEpoch(shares(100), totals(100, 99, 990), dust)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "100", out[0].FiduLiquidated.String())
	require.Equal(t, "0", out[0].Remaining.String())
	require.True(t, out[0].DustAbsorbed)

	out, err = SettleEpoch(shares(100), totals(100, 99, 990), numeric.Int{})
	require.NoError(t, err)
	require.Equal(t, "99", out[0].FiduLiquidated.String())
	require.Equal(t, "1", out[0].Remaining.String())
}

func TestSettleEpochRoundsDown(t *testing.T) {
	out, err := SettleEpoch(shares(1, 1, 1, 0), totals(3, 3, 100), numeric.Int{})
	require.NoError(t, err)
	require.Len(t, out, 3, "zero shares do not settle")
	sum := numeric.Int{}
	for _, s := range out {
		require.Equal(t, "33", s.ProRataUsdc.String())
		sum = sum.Add(s.ProRataUsdc)
	}
	require.True(t, sum.Cmp(numeric.IntFromInt64(100)) <= 0)
}

func TestSettleEpochRejectsOverAllocation(t *testing.T) {
	_, err := SettleEpoch(shares(10, 10), totals(10, 10, 100), numeric.Int{})
	require.ErrorIs(t, err, ErrOverAllocated)
}

func TestSettleEpochEmptyTotals(t *testing.T) {
	out, err := SettleEpoch(shares(100), totals(0, 0, 0), numeric.Int{})
	require.NoError(t, err)
	require.Equal(t, "0", out[0].ProRataUsdc.String())
	require.Equal(t, "100", out[0].Remaining.String())
}

func request(t *testing.T, h *harness, id string) *store.SeniorPoolWithdrawalRequest {
	t.Helper()
	req, err := store.Load[store.SeniorPoolWithdrawalRequest](h.store, id)
	require.NoError(t, err)
	return req
}

func TestWithdrawalEpochLifecycle(t *testing.T) {
	h := newHarness(t)
	for i, user := range []string{alice.Hex(), bob.Hex(), carol.Hex()} {
		h.mustApply(seniorPoolAddr, "WithdrawalRequested", map[string]any{
			"epochId":       big.NewInt(1),
			"tokenId":       big.NewInt(int64(i + 1)),
			"operator":      user,
			"fiduRequested": fidu(100),
		})
	}
	roster, err := store.Load[store.SeniorPoolWithdrawalRequestRoster](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Len(t, roster.Requests, 3)

	settle := h.event(seniorPoolAddr, "EpochEnded", map[string]any{
		"epochId":        big.NewInt(1),
		"endTime":        big.NewInt(baseTimestamp + 14*86400),
		"fiduRequested":  fidu(300),
		"usdcAllocated":  usdc(30_000),
		"fiduLiquidated": fidu(150),
	})
	require.NoError(t, h.apply(settle))

	for _, user := range []string{key(alice), key(bob), key(carol)} {
		req := request(t, h, user)
		require.NotNil(t, req)
		require.Equal(t, fidu(50).String(), req.FiduRequested.String())
		require.Equal(t, usdc(10_000).String(), req.UsdcWithdrawable.String())

		d, err := store.Load[store.SeniorPoolWithdrawalDisbursement](h.store, "1-"+user)
		require.NoError(t, err)
		require.NotNil(t, d)
		require.Equal(t, usdc(10_000).String(), d.UsdcAllocated.String())
		require.Equal(t, fidu(50).String(), d.FiduLiquidated.String())
	}
	epoch, err := store.Load[store.SeniorPoolWithdrawalEpoch](h.store, "1")
	require.NoError(t, err)
	require.Equal(t, usdc(30_000).String(), epoch.UsdcAllocated.String())

	distributions, err := store.List[store.Transaction](h.store, store.Query{Where: map[string]any{"category": CategorySeniorPoolDistribution}})
	require.NoError(t, err)
	require.Len(t, distributions, 3)

	// A second settlement event for the same epoch is ignored.
	h.mustApply(seniorPoolAddr, "EpochEnded", map[string]any{
		"epochId":        big.NewInt(1),
		"endTime":        big.NewInt(baseTimestamp + 14*86400),
		"fiduRequested":  fidu(150),
		"usdcAllocated":  usdc(15_000),
		"fiduLiquidated": fidu(150),
	})
	require.Equal(t, usdc(10_000).String(), request(t, h, key(alice)).UsdcWithdrawable.String())

	// Executed: the full withdrawable balance is paid out.
	h.mustApply(seniorPoolAddr, "WithdrawalMade", map[string]any{
		"capitalProvider": alice,
		"userAmount":      usdc(10_000),
		"reserveAmount":   big.NewInt(0),
	})
	require.True(t, request(t, h, key(alice)).UsdcWithdrawable.IsZero())

	// Canceled keeps what was already allocated.
	h.mustApply(seniorPoolAddr, "WithdrawalCanceled", map[string]any{
		"epochId":      big.NewInt(2),
		"tokenId":      big.NewInt(2),
		"operator":     bob,
		"fiduCanceled": fidu(50),
		"reserveFidu":  big.NewInt(0),
	})
	canceled := request(t, h, key(bob))
	require.True(t, canceled.FiduRequested.IsZero())
	require.Equal(t, usdc(10_000).String(), canceled.UsdcWithdrawable.String())

	// Burn removes the request and its roster entry.
	h.mustApply(withdrawalTokAddr, "Transfer", map[string]any{
		"from":    carol,
		"to":      common.Address{},
		"tokenId": big.NewInt(3),
	})
	require.Nil(t, request(t, h, key(carol)))
	roster, err = store.Load[store.SeniorPoolWithdrawalRequestRoster](h.store, store.SingletonID)
	require.NoError(t, err)
	require.Equal(t, []string{key(alice), key(bob)}, roster.Requests)

	// Only requests still holding FIDU are postponed.
	extend := h.mustApply(seniorPoolAddr, "EpochExtended", map[string]any{
		"epochId":    big.NewInt(2),
		"newEndTime": big.NewInt(baseTimestamp + 35*86400),
		"oldEndTime": big.NewInt(baseTimestamp + 28*86400),
	})
	postponements, err := store.List[store.SeniorPoolWithdrawalRequestPostponement](h.store, store.Query{})
	require.NoError(t, err)
	require.Len(t, postponements, 1)
	require.Equal(t, extend.ID()+"-"+key(alice), postponements[0].ID)
	require.Equal(t, key(alice), postponements[0].Request)
}

func TestWithdrawalAddedToIsAppliedOnce(t *testing.T) {
	h := newHarness(t)
	h.mustApply(seniorPoolAddr, "WithdrawalRequested", map[string]any{
		"epochId":       big.NewInt(1),
		"tokenId":       big.NewInt(9),
		"operator":      alice,
		"fiduRequested": fidu(10),
	})
	added := h.event(seniorPoolAddr, "WithdrawalAddedTo", map[string]any{
		"epochId":       big.NewInt(1),
		"tokenId":       big.NewInt(9),
		"operator":      alice,
		"fiduRequested": fidu(5),
	})
	require.NoError(t, h.apply(added))
	require.NoError(t, h.apply(added))
	require.Equal(t, fidu(15).String(), request(t, h, key(alice)).FiduRequested.String())
}

func TestWithdrawalTokenTransferMovesRequest(t *testing.T) {
	h := newHarness(t)
	h.mustApply(seniorPoolAddr, "WithdrawalRequested", map[string]any{
		"epochId":       big.NewInt(1),
		"tokenId":       big.NewInt(4),
		"operator":      alice,
		"fiduRequested": fidu(10),
	})
	h.mustApply(withdrawalTokAddr, "Transfer", map[string]any{"from": alice, "to": bob, "tokenId": big.NewInt(4)})

	require.Nil(t, request(t, h, key(alice)))
	moved := request(t, h, key(bob))
	require.NotNil(t, moved)
	require.Equal(t, "4", moved.TokenID.String())
	require.Equal(t, fidu(10).String(), moved.FiduRequested.String())
}

func TestWithdrawalAddedToUnknownRequest(t *testing.T) {
	h := newHarness(t)
	err := h.apply(h.event(seniorPoolAddr, "WithdrawalAddedTo", map[string]any{
		"epochId":       big.NewInt(1),
		"tokenId":       big.NewInt(77),
		"operator":      alice,
		"fiduRequested": fidu(5),
	}))
	require.ErrorIs(t, err, ErrIntegrity)
	var evErr *EventError
	require.ErrorAs(t, err, &evErr)
	require.Equal(t, "WithdrawalAddedTo", evErr.Name)
}
