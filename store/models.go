package store

import (
	"gorm.io/gorm"

	"creditindexer/numeric"
)

// Singleton entity key.
const SingletonID = "1"

// Record is embedded by every entity.
type Record struct {
	ID             string `gorm:"primaryKey;size:160" json:"id"`
	UpdatedAtBlock uint64 `json:"updatedAtBlock"`
}

// Key returns the entity id.
func (r Record) Key() string { return r.ID }

func (r *Record) setKey(id string) { r.ID = id }

func (r *Record) touch(block uint64) { r.UpdatedAtBlock = block }

// Entity is implemented by every persisted type.
type Entity interface {
	TableName() string
	Key() string
}

// CreditLine is a full snapshot of a facility's contract state.
type CreditLine struct {
	Record
	Pool                string      `gorm:"index" json:"tranchedPool"`
	Balance             numeric.Int `json:"balance"`
	Limit               numeric.Int `json:"limit"`
	InterestApr         numeric.Int `json:"interestApr"`
	InterestAprDecimal  numeric.Dec `json:"interestAprDecimal"`
	InterestAccruedAsOf numeric.Int `json:"interestAccruedAsOf"`
	NextDueTime         numeric.Int `json:"nextDueTime"`
	TermEndTime         numeric.Int `json:"termEndTime"`
	InterestOwed        numeric.Int `json:"interestOwed"`
	LastFullPaymentTime numeric.Int `json:"lastFullPaymentTime"`
	IsLate              bool        `json:"isLate"`
}

func (CreditLine) TableName() string { return "credit_lines" }

// TranchedPool aggregates a pool's tranches and derived economics.
type TranchedPool struct {
	Record
	Borrower                        string      `gorm:"index" json:"borrower"`
	CreditLine                      string      `gorm:"index" json:"creditLine"`
	CreatedTimestamp                uint64      `json:"createdAt"`
	IsLegacy                        bool        `json:"isV1StyleDeal"`
	IsPaused                        bool        `json:"isPaused"`
	DrawdownsPaused                 bool        `json:"drawdownsPaused"`
	NumSlices                       numeric.Int `json:"numSlices"`
	JuniorTranches                  []string    `gorm:"serializer:json" json:"juniorTranches"`
	SeniorTranches                  []string    `gorm:"serializer:json" json:"seniorTranches"`
	TotalDeposited                  numeric.Int `json:"totalDeposited"`
	JuniorDeposited                 numeric.Int `json:"juniorDeposited"`
	EstimatedSeniorPoolContribution numeric.Int `json:"estimatedSeniorPoolContribution"`
	EstimatedLeverageRatio          numeric.Dec `json:"estimatedLeverageRatio"`
	EstimatedTotalAssets            numeric.Int `json:"estimatedTotalAssets"`
	JuniorFeePercent                numeric.Int `json:"juniorFeePercent"`
	ReserveFeePercent               numeric.Int `json:"reserveFeePercent"`
	EstimatedJuniorApy              numeric.Dec `json:"estimatedJuniorApy"`
	EstimatedSeniorInterest         numeric.Dec `json:"estimatedSeniorInterest"`
}

func (TranchedPool) TableName() string { return "tranched_pools" }

// Tranche kinds.
const (
	TrancheSenior = "senior"
	TrancheJunior = "junior"
)

// TrancheInfo is one tranche of a slice, keyed "<pool>-<trancheId>".
type TrancheInfo struct {
	Record
	Pool                string      `gorm:"index" json:"tranchedPool"`
	TrancheID           numeric.Int `json:"trancheId"`
	Kind                string      `json:"kind"`
	PrincipalDeposited  numeric.Int `json:"principalDeposited"`
	PrincipalSharePrice numeric.Int `json:"principalSharePrice"`
	InterestSharePrice  numeric.Int `json:"interestSharePrice"`
	LockedUntil         numeric.Int `json:"lockedUntil"`
}

func (TrancheInfo) TableName() string { return "tranche_infos" }

// SeniorPoolStatus is the singleton senior pool snapshot.
type SeniorPoolStatus struct {
	Record
	SharePrice             numeric.Int `json:"sharePrice"`
	TotalShares            numeric.Int `json:"totalShares"`
	Assets                 numeric.Int `json:"assets"`
	TotalLoansOutstanding  numeric.Int `json:"totalLoansOutstanding"`
	TotalWritedowns        numeric.Int `json:"totalWritedowns"`
	EstimatedApy           numeric.Dec `json:"estimatedApy"`
	EstimatedApyFromGfiRaw numeric.Dec `json:"estimatedApyFromGfiRaw"`
	TranchedPools          []string    `gorm:"serializer:json" json:"tranchedPools"`
}

func (SeniorPoolStatus) TableName() string { return "senior_pool_statuses" }

// StakingRewards is the singleton staking program snapshot.
type StakingRewards struct {
	Record
	CurrentEarnRatePerToken numeric.Int `json:"currentEarnRatePerToken"`
	GfiTotalSupply          numeric.Int `json:"gfiTotalSupply"`
}

func (StakingRewards) TableName() string { return "staking_rewards" }

// StakedPosition is a staking position token.
type StakedPosition struct {
	Record
	User           string      `gorm:"column:user_id;index" json:"user"`
	Amount         numeric.Int `json:"amount"`
	RewardsClaimed numeric.Int `json:"rewardsClaimed"`
	Watermark      string      `json:"watermark,omitempty"`
}

func (StakedPosition) TableName() string { return "staked_positions" }

// PoolToken is a backer position token.
type PoolToken struct {
	Record
	Pool                string      `gorm:"index" json:"tranchedPool"`
	User                string      `gorm:"column:user_id;index" json:"user"`
	Tranche             numeric.Int `json:"tranche"`
	MintedAt            uint64      `json:"mintedAt"`
	PrincipalAmount     numeric.Int `json:"principalAmount"`
	PrincipalRedeemed   numeric.Int `json:"principalRedeemed"`
	PrincipalRedeemable numeric.Int `json:"principalRedeemable"`
	InterestRedeemed    numeric.Int `json:"interestRedeemed"`
	InterestRedeemable  numeric.Int `json:"interestRedeemable"`
	RewardsClaimable    numeric.Int `json:"rewardsClaimable"`
	RewardsClaimed      numeric.Int `json:"rewardsClaimed"`
}

func (PoolToken) TableName() string { return "pool_tokens" }

// PoolBacker rolls up one user's tokens in one pool, keyed "<pool>-<user>".
type PoolBacker struct {
	Record
	Pool                string      `gorm:"index" json:"tranchedPool"`
	User                string      `gorm:"column:user_id;index" json:"user"`
	PrincipalAmount     numeric.Int `json:"principalAmount"`
	PrincipalRedeemed   numeric.Int `json:"principalRedeemed"`
	InterestRedeemed    numeric.Int `json:"interestRedeemed"`
	PrincipalRedeemable numeric.Int `json:"principalRedeemable"`
	InterestRedeemable  numeric.Int `json:"interestRedeemable"`
	PrincipalAtRisk     numeric.Int `json:"principalAtRisk"`
	AvailableToWithdraw numeric.Int `json:"availableToWithdraw"`
	RewardsClaimable    numeric.Int `json:"rewardsClaimable"`
	RewardsClaimed      numeric.Int `json:"rewardsClaimed"`
}

func (PoolBacker) TableName() string { return "pool_backers" }

// SeniorPoolWithdrawalRequest is keyed by the requesting user's address.
type SeniorPoolWithdrawalRequest struct {
	Record
	TokenID          numeric.Int `gorm:"index" json:"tokenId"`
	FiduRequested    numeric.Int `json:"fiduRequested"`
	UsdcWithdrawable numeric.Int `json:"usdcWithdrawable"`
	RequestedAt      uint64      `json:"requestedAt"`
	IncreasedAt      uint64      `json:"increasedAt"`
	CanceledAt       uint64      `json:"canceledAt"`
	Watermark        string      `json:"watermark,omitempty"`
}

func (SeniorPoolWithdrawalRequest) TableName() string { return "senior_pool_withdrawal_requests" }

// SeniorPoolWithdrawalEpoch is written once when its epoch settles.
type SeniorPoolWithdrawalEpoch struct {
	Record
	Epoch          numeric.Int `json:"epoch"`
	EndsAt         numeric.Int `json:"endsAt"`
	FiduRequested  numeric.Int `json:"fiduRequested"`
	FiduLiquidated numeric.Int `json:"fiduLiquidated"`
	UsdcAllocated  numeric.Int `json:"usdcAllocated"`
}

func (SeniorPoolWithdrawalEpoch) TableName() string { return "senior_pool_withdrawal_epochs" }

// SeniorPoolWithdrawalDisbursement is keyed "<epoch>-<request>".
type SeniorPoolWithdrawalDisbursement struct {
	Record
	Epoch          string      `gorm:"index" json:"epoch"`
	Request        string      `gorm:"index" json:"request"`
	TokenID        numeric.Int `json:"tokenId"`
	UsdcAllocated  numeric.Int `json:"usdcAllocated"`
	FiduLiquidated numeric.Int `json:"fiduLiquidated"`
}

func (SeniorPoolWithdrawalDisbursement) TableName() string {
	return "senior_pool_withdrawal_disbursements"
}

// SeniorPoolWithdrawalRequestPostponement logs a deferred settlement for one
// request, keyed "<eventId>-<request>".
type SeniorPoolWithdrawalRequestPostponement struct {
	Record
	Request       string      `gorm:"index" json:"request"`
	TokenID       numeric.Int `json:"tokenId"`
	ExtendedEpoch numeric.Int `json:"extendedEpoch"`
	OldEndsAt     numeric.Int `json:"oldEndsAt"`
	NewEndsAt     numeric.Int `json:"newEndsAt"`
	Timestamp     uint64      `json:"timestamp"`
}

func (SeniorPoolWithdrawalRequestPostponement) TableName() string {
	return "senior_pool_withdrawal_request_postponements"
}

// SeniorPoolWithdrawalRequestRoster lists active request ids.
type SeniorPoolWithdrawalRequestRoster struct {
	Record
	Requests []string `gorm:"serializer:json" json:"requests"`
}

func (SeniorPoolWithdrawalRequestRoster) TableName() string {
	return "senior_pool_withdrawal_request_rosters"
}

// Zap is keyed by the pool token id it funded.
type Zap struct {
	Record
	User                     string      `gorm:"column:user_id;index" json:"user"`
	TranchedPool             string      `gorm:"index" json:"tranchedPool"`
	Amount                   numeric.Int `json:"amount"`
	SeniorPoolStakedPosition string      `json:"seniorPoolStakedPosition"`
}

func (Zap) TableName() string { return "zaps" }

// User holds identity flags.
type User struct {
	Record
	IsGoListed bool     `json:"isGoListed"`
	UIDTypes   []string `gorm:"serializer:json" json:"uidTypes"`
}

func (User) TableName() string { return "users" }

// Transaction is an immutable audit record keyed by event id.
type Transaction struct {
	Record
	Category       string      `gorm:"index" json:"category"`
	User           string      `gorm:"column:user_id;index" json:"user"`
	TranchedPool   string      `gorm:"index" json:"tranchedPool,omitempty"`
	SentAmount     numeric.Int `json:"sentAmount"`
	SentToken      string      `json:"sentToken"`
	ReceivedAmount numeric.Int `json:"receivedAmount"`
	ReceivedToken  string      `json:"receivedToken"`
	FiduPrice      numeric.Dec `json:"fiduPrice"`
	Timestamp      uint64      `gorm:"index" json:"timestamp"`
	BlockNumber    uint64      `gorm:"index" json:"blockNumber"`
	TxHash         string      `json:"transactionHash"`
}

func (Transaction) TableName() string { return "transactions" }

var models = map[string]func() Entity{
	CreditLine{}.TableName():                              func() Entity { return &CreditLine{} },
	TranchedPool{}.TableName():                            func() Entity { return &TranchedPool{} },
	TrancheInfo{}.TableName():                             func() Entity { return &TrancheInfo{} },
	SeniorPoolStatus{}.TableName():                        func() Entity { return &SeniorPoolStatus{} },
	StakingRewards{}.TableName():                          func() Entity { return &StakingRewards{} },
	StakedPosition{}.TableName():                          func() Entity { return &StakedPosition{} },
	PoolToken{}.TableName():                               func() Entity { return &PoolToken{} },
	PoolBacker{}.TableName():                              func() Entity { return &PoolBacker{} },
	SeniorPoolWithdrawalRequest{}.TableName():             func() Entity { return &SeniorPoolWithdrawalRequest{} },
	SeniorPoolWithdrawalEpoch{}.TableName():               func() Entity { return &SeniorPoolWithdrawalEpoch{} },
	SeniorPoolWithdrawalDisbursement{}.TableName():        func() Entity { return &SeniorPoolWithdrawalDisbursement{} },
	SeniorPoolWithdrawalRequestPostponement{}.TableName(): func() Entity { return &SeniorPoolWithdrawalRequestPostponement{} },
	SeniorPoolWithdrawalRequestRoster{}.TableName():       func() Entity { return &SeniorPoolWithdrawalRequestRoster{} },
	Zap{}.TableName():                                     func() Entity { return &Zap{} },
	User{}.TableName():                                    func() Entity { return &User{} },
	Transaction{}.TableName():                             func() Entity { return &Transaction{} },
}

// Tables lists every entity table name.
func Tables() []string {
	out := make([]string, 0, len(models))
	for name := range models {
		out = append(out, name)
	}
	return out
}

// NewEntity returns an empty entity for table.
func NewEntity(table string) (Entity, bool) {
	factory, ok := models[table]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// AutoMigrate performs all schema migrations for the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CreditLine{},
		&TranchedPool{},
		&TrancheInfo{},
		&SeniorPoolStatus{},
		&StakingRewards{},
		&StakedPosition{},
		&PoolToken{},
		&PoolBacker{},
		&SeniorPoolWithdrawalRequest{},
		&SeniorPoolWithdrawalEpoch{},
		&SeniorPoolWithdrawalDisbursement{},
		&SeniorPoolWithdrawalRequestPostponement{},
		&SeniorPoolWithdrawalRequestRoster{},
		&Zap{},
		&User{},
		&Transaction{},
		&Revision{},
	)
}
