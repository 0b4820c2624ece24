package indexer

import (
	"creditindexer/numeric"
)

// APYInputs are the exact-decimal parameters of the junior APY estimate. Fees
// are fractions (0.10 for ten percent).
type APYInputs struct {
	Balance    numeric.Dec
	Rate       numeric.Dec
	Leverage   numeric.Dec
	JuniorFee  numeric.Dec
	ReserveFee numeric.Dec
	// Legacy pools have no leverage: everything accrues to the senior side.
	Legacy bool
}

// APYBreakdown exposes every intermediate of the estimate.
type APYBreakdown struct {
	SeniorFraction       numeric.Dec
	JuniorFraction       numeric.Dec
	GrossSeniorInterest  numeric.Dec
	GrossJuniorInterest  numeric.Dec
	JuniorFee            numeric.Dec
	JuniorReserveFeeOwed numeric.Dec
	NetJuniorInterest    numeric.Dec
	JuniorTrancheBalance numeric.Dec
	// EstimatedJuniorApy is a percentage (20.25 for 20.25%).
	EstimatedJuniorApy numeric.Dec
	// SeniorPoolInterest is the yearly interest the senior pool earns from
	// the facility net of fees.
	SeniorPoolInterest numeric.Dec
}

var (
	one     = numeric.DecFromInt64(1)
	hundred = numeric.DecFromInt64(100)
)

// EstimateAPY computes the leverage-weighted junior APY and the senior pool's
// share of interest.
func EstimateAPY(in APYInputs) APYBreakdown {
	var out APYBreakdown
	if in.Legacy {
		out.SeniorFraction = one
		out.JuniorFraction = numeric.Dec{}
	} else {
		denom := one.Add(in.Leverage)
		out.SeniorFraction = in.Leverage.Quo(denom)
		out.JuniorFraction = one.Quo(denom)
	}
	yearly := in.Balance.Mul(in.Rate)
	out.GrossSeniorInterest = yearly.Mul(out.SeniorFraction)
	out.GrossJuniorInterest = yearly.Mul(out.JuniorFraction)
	out.JuniorTrancheBalance = in.Balance.Mul(out.JuniorFraction)

	if in.Legacy {
		out.SeniorPoolInterest = out.GrossSeniorInterest.Mul(one.Sub(in.ReserveFee))
		return out
	}
	out.JuniorFee = out.GrossSeniorInterest.Mul(in.JuniorFee)
	out.JuniorReserveFeeOwed = out.GrossJuniorInterest.Mul(in.ReserveFee)
	out.NetJuniorInterest = out.GrossJuniorInterest.Add(out.JuniorFee).Sub(out.JuniorReserveFeeOwed)
	if !out.JuniorTrancheBalance.IsZero() {
		out.EstimatedJuniorApy = out.NetJuniorInterest.Quo(out.JuniorTrancheBalance).Mul(hundred)
	}
	out.SeniorPoolInterest = out.GrossSeniorInterest.Mul(one.Sub(in.JuniorFee).Sub(in.ReserveFee))
	return out
}

// LeverageRatio is contribution / juniorDeposited, zero for an empty junior side.
func LeverageRatio(contribution, juniorDeposited numeric.Int) numeric.Dec {
	return numeric.DecFrac(contribution, juniorDeposited)
}

// SeniorPoolAPY is the summed senior interest of every invested pool over the
// senior pool's assets.
func SeniorPoolAPY(interests []numeric.Dec, assets numeric.Int) numeric.Dec {
	if assets.Sign() <= 0 {
		return numeric.Dec{}
	}
	total := numeric.Dec{}
	for _, v := range interests {
		total = total.Add(v)
	}
	return total.Quo(numeric.DecFromInt(assets))
}

// GFIApyRaw estimates the yearly GFI earned per FIDU at the current share
// price, as a raw ratio.
func GFIApyRaw(earnRatePerToken, sharePrice numeric.Int) numeric.Dec {
	if sharePrice.Sign() <= 0 {
		return numeric.Dec{}
	}
	num := earnRatePerToken.Mul(numeric.IntFromInt64(numeric.SecondsPerYear)).Mul(numeric.Mantissa18)
	return numeric.DecFrac(num, sharePrice).Quo(numeric.DecFromInt(numeric.Mantissa18))
}
