package indexer

import (
	"fmt"

	"creditindexer/events"
)

func (r *run) dispatch(ev events.Event) error {
	switch ev := ev.(type) {
	case events.PoolCreated:
		return r.onPoolCreated(ev)
	case events.TranchedPoolDeposit:
		return r.onTranchedPoolDeposit(ev)
	case events.TranchedPoolWithdrawal:
		return r.onTranchedPoolWithdrawal(ev)
	case events.TrancheLocked:
		return r.refreshPool(r.h.Contract)
	case events.SliceCreated:
		return r.refreshPool(r.h.Contract)
	case events.DrawdownMade:
		return r.onDrawdownMade(ev)
	case events.PaymentApplied:
		return r.onPaymentApplied(ev)
	case events.EmergencyShutdown:
		return r.onEmergencyShutdown(ev)
	case events.DrawdownsToggled:
		return r.onDrawdownsToggled(ev)
	case events.CreditLineMigrated:
		return r.onCreditLineMigrated(ev)

	case events.SeniorPoolDeposit:
		return r.onSeniorPoolDeposit(ev)
	case events.SeniorPoolWithdrawal:
		return r.onSeniorPoolWithdrawal(ev)
	case events.SeniorPoolFundsCollected:
		return r.refreshSeniorPool("")
	case events.PrincipalWrittenDown:
		return r.onPrincipalWrittenDown(ev)
	case events.InvestmentMade:
		return r.onInvestmentMade(ev)

	case events.WithdrawalRequested:
		return r.onWithdrawalRequested(ev)
	case events.WithdrawalAddedTo:
		return r.onWithdrawalAddedTo(ev)
	case events.WithdrawalCanceled:
		return r.onWithdrawalCanceled(ev)
	case events.EpochEnded:
		return r.onEpochEnded(ev)
	case events.EpochExtended:
		return r.onEpochExtended(ev)
	case events.WithdrawalTokenTransfer:
		return r.onWithdrawalTokenTransfer(ev)

	case events.PoolTokenMinted:
		return r.onPoolTokenMinted(ev)
	case events.PoolTokenRedeemed:
		return r.onPoolTokenChanged(ev.Pool, ev.TokenID)
	case events.PoolTokenPrincipalWithdrawn:
		return r.onPoolTokenChanged(ev.Pool, ev.TokenID)
	case events.PoolTokenBurned:
		return r.onPoolTokenChanged(ev.Pool, ev.TokenID)
	case events.PoolTokenTransfer:
		return r.onPoolTokenTransfer(ev)
	case events.BackerRewardsClaimed:
		return r.onBackerRewardsClaimed(ev)

	case events.RewardAdded:
		return r.onRewardAdded()
	case events.StakeChanged:
		return r.onStakeChanged(ev)
	case events.RewardPaid:
		return r.onRewardPaid(ev)
	case events.GFITransfer:
		return r.onGFITransfer(ev)

	case events.ZapMade:
		return r.onZapMade(ev)
	case events.ZapUnwound:
		return r.onZapUnwound(ev)

	case events.GoListChanged:
		return r.onGoListChanged(ev)
	case events.UIDTransfer:
		return r.onUIDTransfer(ev)

	default:
		return fmt.Errorf("%w: %T", ErrUnhandled, ev)
	}
}
