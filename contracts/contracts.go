// Package contracts catalogues the protocol contract surface the indexer
// observes: the events it decodes per contract role and the view methods it
// calls to recompute entity snapshots.
package contracts

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
)

// Role identifies what a contract address is to the indexer.
type Role string

const (
	RoleUnknown                Role = ""
	RoleSeniorPool             Role = "seniorPool"
	RoleFidu                   Role = "fidu"
	RoleGFI                    Role = "gfi"
	RolePoolTokens             Role = "poolTokens"
	RoleBackerRewards          Role = "backerRewards"
	RoleStakingRewards         Role = "stakingRewards"
	RoleWithdrawalRequestToken Role = "withdrawalRequestToken"
	RoleFactory                Role = "factory"
	RoleConfig                 Role = "config"
	RoleZapper                 Role = "zapper"
	RoleGo                     Role = "go"
	RoleUniqueIdentity         Role = "uniqueIdentity"
	RoleTranchedPool           Role = "tranchedPool"
	RoleCreditLine             Role = "creditLine"
	RoleLeverageStrategy       Role = "leverageStrategy"
	RoleCreditDesk             Role = "creditDesk"
)

var eventSignatures = map[Role][]string{
	RoleFactory: {
		"PoolCreated(address indexed pool, address indexed borrower)",
	},
	RoleTranchedPool: {
		"DepositMade(address indexed owner, uint256 indexed tranche, uint256 indexed tokenId, uint256 amount)",
		"WithdrawalMade(address indexed owner, uint256 indexed tranche, uint256 indexed tokenId, uint256 interestWithdrawn, uint256 principalWithdrawn)",
		"TrancheLocked(address indexed pool, uint256 trancheId, uint256 lockedUntil)",
		"SliceCreated(address indexed pool, uint256 sliceId)",
		"DrawdownMade(address indexed borrower, uint256 amount)",
		"PaymentApplied(address indexed payer, address indexed pool, uint256 interestAmount, uint256 principalAmount, uint256 remainingAmount, uint256 reserveAmount)",
		"EmergencyShutdown(address indexed pool)",
		"DrawdownsPaused(address indexed pool)",
		"DrawdownsUnpaused(address indexed pool)",
		"CreditLineMigrated(address indexed oldCreditLine, address indexed newCreditLine)",
	},
	RoleSeniorPool: {
		"DepositMade(address indexed capitalProvider, uint256 amount, uint256 shares)",
		"WithdrawalMade(address indexed capitalProvider, uint256 userAmount, uint256 reserveAmount)",
		"InterestCollected(address indexed payer, uint256 amount)",
		"PrincipalCollected(address indexed payer, uint256 amount)",
		"ReserveFundsCollected(address indexed user, uint256 amount)",
		"PrincipalWrittenDown(address indexed tranchedPool, int256 amount)",
		"InvestmentMadeInSenior(address indexed tranchedPool, uint256 amount)",
		"InvestmentMadeInJunior(address indexed tranchedPool, uint256 amount)",
		"WithdrawalRequested(uint256 indexed epochId, uint256 indexed tokenId, address indexed operator, uint256 fiduRequested)",
		"WithdrawalAddedTo(uint256 indexed epochId, uint256 indexed tokenId, address indexed operator, uint256 fiduRequested)",
		"WithdrawalCanceled(uint256 indexed epochId, uint256 indexed tokenId, address indexed operator, uint256 fiduCanceled, uint256 reserveFidu)",
		"EpochEnded(uint256 indexed epochId, uint256 endTime, uint256 fiduRequested, uint256 usdcAllocated, uint256 fiduLiquidated)",
		"EpochExtended(uint256 indexed epochId, uint256 newEndTime, uint256 oldEndTime)",
	},
	RoleWithdrawalRequestToken: {
		"Transfer(address indexed from, address indexed to, uint256 indexed tokenId)",
	},
	RolePoolTokens: {
		"TokenMinted(address indexed owner, address indexed pool, uint256 indexed tokenId, uint256 amount, uint256 tranche)",
		"TokenRedeemed(address indexed owner, address indexed pool, uint256 indexed tokenId, uint256 principalRedeemed, uint256 interestRedeemed, uint256 tranche)",
		"TokenPrincipalWithdrawn(address indexed owner, address indexed pool, uint256 indexed tokenId, uint256 principalWithdrawn, uint256 tranche)",
		"TokenBurned(address indexed owner, address indexed pool, uint256 indexed tokenId)",
		"Transfer(address indexed from, address indexed to, uint256 indexed tokenId)",
	},
	RoleBackerRewards: {
		"BackerRewardsClaimed(address indexed owner, uint256 indexed tokenId, uint256 amountOfTranchedPoolRewards, uint256 amountOfSeniorPoolRewards)",
	},
	RoleStakingRewards: {
		"RewardAdded(uint256 reward)",
		"Staked(address indexed user, uint256 indexed tokenId, uint256 amount)",
		"Unstaked(address indexed user, uint256 indexed tokenId, uint256 amount)",
		"RewardPaid(address indexed user, uint256 indexed tokenId, uint256 reward)",
	},
	RoleGFI: {
		"Transfer(address indexed from, address indexed to, uint256 value)",
	},
	RoleZapper: {
		"ZapMade(address indexed owner, uint256 indexed stakedPositionId, address indexed tranchedPool, uint256 poolTokenId, uint256 amount)",
		"ZapUnwound(address indexed owner, uint256 indexed poolTokenId)",
	},
	RoleGo: {
		"GoListed(address indexed member)",
		"GoUnlisted(address indexed member)",
	},
	RoleUniqueIdentity: {
		"TransferSingle(address indexed operator, address indexed from, address indexed to, uint256 id, uint256 value)",
	},
}

// View and transaction method names.
const (
	MethodBalance                   = "balance"
	MethodInterestApr               = "interestApr"
	MethodInterestAccruedAsOf       = "interestAccruedAsOf"
	MethodNextDueTime               = "nextDueTime"
	MethodLimit                     = "limit"
	MethodInterestOwed              = "interestOwed"
	MethodTermEndTime               = "termEndTime"
	MethodLastFullPaymentTime       = "lastFullPaymentTime"
	MethodCreditLine                = "creditLine"
	MethodNumSlices                 = "numSlices"
	MethodGetTranche                = "getTranche"
	MethodJuniorFeePercent          = "juniorFeePercent"
	MethodAvailableToWithdraw       = "availableToWithdraw"
	MethodSharePrice                = "sharePrice"
	MethodAssets                    = "assets"
	MethodTotalLoansOutstanding     = "totalLoansOutstanding"
	MethodTotalWritedowns           = "totalWritedowns"
	MethodEstimateInvestment        = "estimateInvestment"
	MethodGetNumber                 = "getNumber"
	MethodTotalSupply               = "totalSupply"
	MethodGetTokenInfo              = "getTokenInfo"
	MethodPoolTokenClaimableRewards = "poolTokenClaimableRewards"
	MethodBackerRewardsTokenInfo    = "tokens"
	MethodCurrentEarnRatePerToken   = "currentEarnRatePerToken"
	MethodStakedBalanceOf           = "stakedBalanceOf"
	MethodGetBorrowerCreditLines    = "getBorrowerCreditLines"
	MethodAssess                    = "assess"
)

// ConfigReserveDenominator is the protocol config number slot holding the
// reserve fee denominator.
const ConfigReserveDenominator = 3

var methodSignatures = []string{
	"balance() view returns (uint256)",
	"interestApr() view returns (uint256)",
	"interestAccruedAsOf() view returns (uint256)",
	"nextDueTime() view returns (uint256)",
	"limit() view returns (uint256)",
	"interestOwed() view returns (uint256)",
	"termEndTime() view returns (uint256)",
	"lastFullPaymentTime() view returns (uint256)",
	"creditLine() view returns (address)",
	"numSlices() view returns (uint256)",
	"getTranche(uint256) view returns (uint256 id, uint256 principalDeposited, uint256 principalSharePrice, uint256 interestSharePrice, uint256 lockedUntil)",
	"juniorFeePercent() view returns (uint256)",
	"availableToWithdraw(uint256) view returns (uint256 interestRedeemable, uint256 principalRedeemable)",
	"sharePrice() view returns (uint256)",
	"assets() view returns (uint256)",
	"totalLoansOutstanding() view returns (uint256)",
	"totalWritedowns() view returns (uint256)",
	"estimateInvestment(address,address) view returns (uint256)",
	"getNumber(uint256) view returns (uint256)",
	"totalSupply() view returns (uint256)",
	"getTokenInfo(uint256) view returns (address pool, uint256 tranche, uint256 principalAmount, uint256 principalRedeemed, uint256 interestRedeemed)",
	"poolTokenClaimableRewards(uint256) view returns (uint256)",
	"tokens(uint256) view returns (uint256 rewardsClaimed, uint256 accRewardsPerPrincipalDollarAtMint)",
	"currentEarnRatePerToken() view returns (uint256)",
	"stakedBalanceOf(uint256) view returns (uint256)",
	"getBorrowerCreditLines(address) view returns (address[])",
	"assess()",
}

var (
	methods = map[string]abi.Method{}
	events  = map[Role]map[common.Hash]abi.Event{}
	byName  = map[Role]map[string]abi.Event{}
)

func init() {
	for _, sig := range methodSignatures {
		m := chain.MustParseMethod(sig)
		if _, dup := methods[m.Name]; dup {
			panic(fmt.Sprintf("contracts: duplicate method %s", m.Name))
		}
		methods[m.Name] = m
	}
	for role, sigs := range eventSignatures {
		events[role] = make(map[common.Hash]abi.Event, len(sigs))
		byName[role] = make(map[string]abi.Event, len(sigs))
		for _, sig := range sigs {
			ev := chain.MustParseEvent(sig)
			events[role][ev.ID] = ev
			byName[role][ev.Name] = ev
		}
	}
}

// Method returns the ABI of a catalogued method.
func Method(name string) (abi.Method, bool) {
	m, ok := methods[name]
	return m, ok
}

// EventByTopic finds the event a role emits under topic0.
func EventByTopic(role Role, topic common.Hash) (abi.Event, bool) {
	ev, ok := events[role][topic]
	return ev, ok
}

// EventByName finds the event a role emits by name.
func EventByName(role Role, name string) (abi.Event, bool) {
	ev, ok := byName[role][name]
	return ev, ok
}

// Topics returns every distinct topic0 the role emits, sorted for stable log
// filters.
func Topics(role Role) []common.Hash {
	out := make([]common.Hash, 0, len(events[role]))
	for topic := range events[role] {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Roles lists every role that emits events.
func Roles() []Role {
	out := make([]Role, 0, len(eventSignatures))
	for role := range eventSignatures {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventNames lists the event names a role emits.
func EventNames(role Role) []string {
	out := make([]string, 0, len(byName[role]))
	for name := range byName[role] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
