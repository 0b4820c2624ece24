package indexer

import (
	"creditindexer/store"
)

// Transaction categories.
const (
	CategorySeniorPoolDeposit                 = "SENIOR_POOL_DEPOSIT"
	CategorySeniorPoolWithdrawal              = "SENIOR_POOL_WITHDRAWAL"
	CategorySeniorPoolWithdrawalRequest       = "SENIOR_POOL_WITHDRAWAL_REQUEST"
	CategorySeniorPoolAddToWithdrawalRequest  = "SENIOR_POOL_ADD_TO_WITHDRAWAL_REQUEST"
	CategorySeniorPoolCancelWithdrawalRequest = "SENIOR_POOL_CANCEL_WITHDRAWAL_REQUEST"
	CategorySeniorPoolDistribution            = "SENIOR_POOL_DISTRIBUTION"
	CategorySeniorPoolStake                   = "SENIOR_POOL_STAKE"
	CategorySeniorPoolUnstake                 = "SENIOR_POOL_UNSTAKE"
	CategoryStakingRewardsClaimed             = "STAKING_REWARDS_CLAIMED"
	CategoryTranchedPoolDeposit               = "TRANCHED_POOL_DEPOSIT"
	CategoryTranchedPoolWithdrawal            = "TRANCHED_POOL_WITHDRAWAL"
	CategoryTranchedPoolDrawdown              = "TRANCHED_POOL_DRAWDOWN"
	CategoryTranchedPoolRepayment             = "TRANCHED_POOL_REPAYMENT"
	CategoryBackerRewardsClaimed              = "BACKER_REWARDS_CLAIMED"
	CategoryZapMade                           = "ZAP_MADE"
	CategoryZapUnwound                        = "ZAP_UNWOUND"
	CategoryUIDMinted                         = "UID_MINTED"
	CategoryUIDBurned                         = "UID_BURNED"
)

// Token kinds on audit records.
const (
	TokenUSDC      = "USDC"
	TokenFIDU      = "FIDU"
	TokenGFI       = "GFI"
	TokenPoolToken = "POOL_TOKEN"
	TokenUID       = "UID"
)

// audit appends an immutable Transaction record. The id defaults to the
// event id; handlers that emit several records per event pass a suffixed id.
// An existing record is never rewritten.
func (r *run) audit(t store.Transaction) error {
	if t.ID == "" {
		t.ID = r.h.ID
	}
	exists, err := store.Exists[store.Transaction](r.tx, t.ID)
	if err != nil || exists {
		return err
	}
	t.Timestamp = r.timestamp()
	t.BlockNumber = r.block()
	t.TxHash = r.h.TxHash.Hex()
	return store.Save(r.tx, &t)
}
