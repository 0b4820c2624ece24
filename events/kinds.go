package events

import (
	"github.com/ethereum/go-ethereum/common"

	"creditindexer/numeric"
)

// PoolCreated announces a new tranched pool from the factory.
type PoolCreated struct {
	Header
	Pool     common.Address
	Borrower common.Address
}

// TranchedPoolDeposit is a backer deposit into a tranche.
type TranchedPoolDeposit struct {
	Header
	Owner   common.Address
	Tranche numeric.Int
	TokenID numeric.Int
	Amount  numeric.Int
}

// TranchedPoolWithdrawal is a backer withdrawal from a tranche.
type TranchedPoolWithdrawal struct {
	Header
	Owner              common.Address
	Tranche            numeric.Int
	TokenID            numeric.Int
	InterestWithdrawn  numeric.Int
	PrincipalWithdrawn numeric.Int
}

// TrancheLocked locks a tranche until a timestamp.
type TrancheLocked struct {
	Header
	Pool        common.Address
	TrancheID   numeric.Int
	LockedUntil numeric.Int
}

// SliceCreated opens a new senior/junior slice.
type SliceCreated struct {
	Header
	Pool    common.Address
	SliceID numeric.Int
}

// DrawdownMade moves pool capital to the borrower.
type DrawdownMade struct {
	Header
	Borrower common.Address
	Amount   numeric.Int
}

// PaymentApplied records a borrower repayment.
type PaymentApplied struct {
	Header
	Payer     common.Address
	Pool      common.Address
	Interest  numeric.Int
	Principal numeric.Int
	Remaining numeric.Int
	Reserve   numeric.Int
}

// EmergencyShutdown pauses a pool permanently.
type EmergencyShutdown struct {
	Header
	Pool common.Address
}

// DrawdownsToggled covers DrawdownsPaused and DrawdownsUnpaused.
type DrawdownsToggled struct {
	Header
	Pool   common.Address
	Paused bool
}

// CreditLineMigrated repoints a pool at a new credit line contract.
type CreditLineMigrated struct {
	Header
	OldCreditLine common.Address
	NewCreditLine common.Address
}

// SeniorPoolDeposit mints FIDU for USDC.
type SeniorPoolDeposit struct {
	Header
	CapitalProvider common.Address
	Amount          numeric.Int
	Shares          numeric.Int
}

// SeniorPoolWithdrawal pays USDC to a capital provider.
type SeniorPoolWithdrawal struct {
	Header
	CapitalProvider common.Address
	UserAmount      numeric.Int
	ReserveAmount   numeric.Int
}

// FundsKind distinguishes the senior pool collection events.
type FundsKind string

const (
	FundsInterest  FundsKind = "interest"
	FundsPrincipal FundsKind = "principal"
	FundsReserve   FundsKind = "reserve"
)

// SeniorPoolFundsCollected covers InterestCollected, PrincipalCollected and
// ReserveFundsCollected.
type SeniorPoolFundsCollected struct {
	Header
	Kind    FundsKind
	Account common.Address
	Amount  numeric.Int
}

// PrincipalWrittenDown adjusts the senior pool's view of a pool's principal. The
// amount is signed.
type PrincipalWrittenDown struct {
	Header
	TranchedPool common.Address
	Amount       numeric.Int
}

// InvestmentMade covers InvestmentMadeInSenior and InvestmentMadeInJunior.
type InvestmentMade struct {
	Header
	TranchedPool common.Address
	Amount       numeric.Int
	Junior       bool
}

// WithdrawalRequested opens a senior pool withdrawal request.
type WithdrawalRequested struct {
	Header
	EpochID       numeric.Int
	TokenID       numeric.Int
	Operator      common.Address
	FiduRequested numeric.Int
}

// WithdrawalAddedTo increases an open request.
type WithdrawalAddedTo struct {
	Header
	EpochID       numeric.Int
	TokenID       numeric.Int
	Operator      common.Address
	FiduRequested numeric.Int
}

// WithdrawalCanceled cancels the outstanding part of a request.
type WithdrawalCanceled struct {
	Header
	EpochID      numeric.Int
	TokenID      numeric.Int
	Operator     common.Address
	FiduCanceled numeric.Int
	ReserveFidu  numeric.Int
}

// EpochEnded settles a withdrawal epoch.
type EpochEnded struct {
	Header
	EpochID        numeric.Int
	EndTime        numeric.Int
	FiduRequested  numeric.Int
	UsdcAllocated  numeric.Int
	FiduLiquidated numeric.Int
}

// EpochExtended defers settlement of the current epoch.
type EpochExtended struct {
	Header
	EpochID    numeric.Int
	NewEndTime numeric.Int
	OldEndTime numeric.Int
}

// WithdrawalTokenTransfer is an ERC-721 transfer of a withdrawal request token.
type WithdrawalTokenTransfer struct {
	Header
	From    common.Address
	To      common.Address
	TokenID numeric.Int
}

// PoolTokenMinted creates a backer position token.
type PoolTokenMinted struct {
	Header
	Owner   common.Address
	Pool    common.Address
	TokenID numeric.Int
	Amount  numeric.Int
	Tranche numeric.Int
}

// PoolTokenRedeemed records principal and interest redeemed against a token.
type PoolTokenRedeemed struct {
	Header
	Owner             common.Address
	Pool              common.Address
	TokenID           numeric.Int
	PrincipalRedeemed numeric.Int
	InterestRedeemed  numeric.Int
	Tranche           numeric.Int
}

// PoolTokenPrincipalWithdrawn records principal withdrawn before lock.
type PoolTokenPrincipalWithdrawn struct {
	Header
	Owner              common.Address
	Pool               common.Address
	TokenID            numeric.Int
	PrincipalWithdrawn numeric.Int
	Tranche            numeric.Int
}

// PoolTokenBurned burns a fully withdrawn position token.
type PoolTokenBurned struct {
	Header
	Owner   common.Address
	Pool    common.Address
	TokenID numeric.Int
}

// PoolTokenTransfer is an ERC-721 transfer of a position token.
type PoolTokenTransfer struct {
	Header
	From    common.Address
	To      common.Address
	TokenID numeric.Int
}

// BackerRewardsClaimed pays out GFI rewards on a position token.
type BackerRewardsClaimed struct {
	Header
	Owner             common.Address
	TokenID           numeric.Int
	PoolRewards       numeric.Int
	SeniorPoolRewards numeric.Int
}

// RewardAdded tops up the staking rewards program.
type RewardAdded struct {
	Header
	Reward numeric.Int
}

// StakeChanged covers Staked and Unstaked.
type StakeChanged struct {
	Header
	User     common.Address
	TokenID  numeric.Int
	Amount   numeric.Int
	Unstaked bool
}

// RewardPaid pays staking rewards on a staked position.
type RewardPaid struct {
	Header
	User    common.Address
	TokenID numeric.Int
	Reward  numeric.Int
}

// GFITransfer is an ERC-20 transfer of GFI.
type GFITransfer struct {
	Header
	From  common.Address
	To    common.Address
	Value numeric.Int
}

// ZapMade moves a staked senior pool position into a tranche.
type ZapMade struct {
	Header
	Owner            common.Address
	StakedPositionID numeric.Int
	TranchedPool     common.Address
	PoolTokenID      numeric.Int
	Amount           numeric.Int
}

// ZapUnwound returns a zapped investment to staking.
type ZapUnwound struct {
	Header
	Owner       common.Address
	PoolTokenID numeric.Int
}

// GoListChanged covers GoListed and GoUnlisted.
type GoListChanged struct {
	Header
	Member common.Address
	Listed bool
}

// UIDTransfer is an ERC-1155 TransferSingle of a unique identity token.
type UIDTransfer struct {
	Header
	Operator common.Address
	From     common.Address
	To       common.Address
	UIDType  numeric.Int
	Value    numeric.Int
}
