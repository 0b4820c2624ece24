package events

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/contracts"
	"creditindexer/numeric"
)

var (
	// ErrUnknownEvent is returned for an event name a role does not emit. The
	// syncer skips such items.
	ErrUnknownEvent = errors.New("events: unknown event")
	// ErrMalformed is returned when a parameter is missing or mistyped.
	ErrMalformed = errors.New("events: malformed parameters")
)

type decoder func(h Header, p *params) Event

var decoders = map[contracts.Role]map[string]decoder{
	contracts.RoleFactory: {
		"PoolCreated": func(h Header, p *params) Event {
			return PoolCreated{Header: h, Pool: p.address("pool"), Borrower: p.address("borrower")}
		},
	},
	contracts.RoleTranchedPool: {
		"DepositMade": func(h Header, p *params) Event {
			return TranchedPoolDeposit{Header: h, Owner: p.address("owner"), Tranche: p.uint("tranche"), TokenID: p.uint("tokenId"), Amount: p.uint("amount")}
		},
		"WithdrawalMade": func(h Header, p *params) Event {
			return TranchedPoolWithdrawal{
				Header:             h,
				Owner:              p.address("owner"),
				Tranche:            p.uint("tranche"),
				TokenID:            p.uint("tokenId"),
				InterestWithdrawn:  p.uint("interestWithdrawn"),
				PrincipalWithdrawn: p.uint("principalWithdrawn"),
			}
		},
		"TrancheLocked": func(h Header, p *params) Event {
			return TrancheLocked{Header: h, Pool: p.address("pool"), TrancheID: p.uint("trancheId"), LockedUntil: p.uint("lockedUntil")}
		},
		"SliceCreated": func(h Header, p *params) Event {
			return SliceCreated{Header: h, Pool: p.address("pool"), SliceID: p.uint("sliceId")}
		},
		"DrawdownMade": func(h Header, p *params) Event {
			return DrawdownMade{Header: h, Borrower: p.address("borrower"), Amount: p.uint("amount")}
		},
		"PaymentApplied": func(h Header, p *params) Event {
			return PaymentApplied{
				Header:    h,
				Payer:     p.address("payer"),
				Pool:      p.address("pool"),
				Interest:  p.uint("interestAmount"),
				Principal: p.uint("principalAmount"),
				Remaining: p.uint("remainingAmount"),
				Reserve:   p.uint("reserveAmount"),
			}
		},
		"EmergencyShutdown": func(h Header, p *params) Event {
			return EmergencyShutdown{Header: h, Pool: p.address("pool")}
		},
		"DrawdownsPaused": func(h Header, p *params) Event {
			return DrawdownsToggled{Header: h, Pool: p.address("pool"), Paused: true}
		},
		"DrawdownsUnpaused": func(h Header, p *params) Event {
			return DrawdownsToggled{Header: h, Pool: p.address("pool"), Paused: false}
		},
		"CreditLineMigrated": func(h Header, p *params) Event {
			return CreditLineMigrated{Header: h, OldCreditLine: p.address("oldCreditLine"), NewCreditLine: p.address("newCreditLine")}
		},
	},
	contracts.RoleSeniorPool: {
		"DepositMade": func(h Header, p *params) Event {
			return SeniorPoolDeposit{Header: h, CapitalProvider: p.address("capitalProvider"), Amount: p.uint("amount"), Shares: p.uint("shares")}
		},
		"WithdrawalMade": func(h Header, p *params) Event {
			return SeniorPoolWithdrawal{Header: h, CapitalProvider: p.address("capitalProvider"), UserAmount: p.uint("userAmount"), ReserveAmount: p.uint("reserveAmount")}
		},
		"InterestCollected": func(h Header, p *params) Event {
			return SeniorPoolFundsCollected{Header: h, Kind: FundsInterest, Account: p.address("payer"), Amount: p.uint("amount")}
		},
		"PrincipalCollected": func(h Header, p *params) Event {
			return SeniorPoolFundsCollected{Header: h, Kind: FundsPrincipal, Account: p.address("payer"), Amount: p.uint("amount")}
		},
		"ReserveFundsCollected": func(h Header, p *params) Event {
			return SeniorPoolFundsCollected{Header: h, Kind: FundsReserve, Account: p.address("user"), Amount: p.uint("amount")}
		},
		"PrincipalWrittenDown": func(h Header, p *params) Event {
			return PrincipalWrittenDown{Header: h, TranchedPool: p.address("tranchedPool"), Amount: p.signed("amount")}
		},
		"InvestmentMadeInSenior": func(h Header, p *params) Event {
			return InvestmentMade{Header: h, TranchedPool: p.address("tranchedPool"), Amount: p.uint("amount")}
		},
		"InvestmentMadeInJunior": func(h Header, p *params) Event {
			return InvestmentMade{Header: h, TranchedPool: p.address("tranchedPool"), Amount: p.uint("amount"), Junior: true}
		},
		"WithdrawalRequested": func(h Header, p *params) Event {
			return WithdrawalRequested{Header: h, EpochID: p.uint("epochId"), TokenID: p.uint("tokenId"), Operator: p.address("operator"), FiduRequested: p.uint("fiduRequested")}
		},
		"WithdrawalAddedTo": func(h Header, p *params) Event {
			return WithdrawalAddedTo{Header: h, EpochID: p.uint("epochId"), TokenID: p.uint("tokenId"), Operator: p.address("operator"), FiduRequested: p.uint("fiduRequested")}
		},
		"WithdrawalCanceled": func(h Header, p *params) Event {
			return WithdrawalCanceled{
				Header:       h,
				EpochID:      p.uint("epochId"),
				TokenID:      p.uint("tokenId"),
				Operator:     p.address("operator"),
				FiduCanceled: p.uint("fiduCanceled"),
				ReserveFidu:  p.uint("reserveFidu"),
			}
		},
		"EpochEnded": func(h Header, p *params) Event {
			return EpochEnded{
				Header:         h,
				EpochID:        p.uint("epochId"),
				EndTime:        p.uint("endTime"),
				FiduRequested:  p.uint("fiduRequested"),
				UsdcAllocated:  p.uint("usdcAllocated"),
				FiduLiquidated: p.uint("fiduLiquidated"),
			}
		},
		"EpochExtended": func(h Header, p *params) Event {
			return EpochExtended{Header: h, EpochID: p.uint("epochId"), NewEndTime: p.uint("newEndTime"), OldEndTime: p.uint("oldEndTime")}
		},
	},
	contracts.RoleWithdrawalRequestToken: {
		"Transfer": func(h Header, p *params) Event {
			return WithdrawalTokenTransfer{Header: h, From: p.address("from"), To: p.address("to"), TokenID: p.uint("tokenId")}
		},
	},
	contracts.RolePoolTokens: {
		"TokenMinted": func(h Header, p *params) Event {
			return PoolTokenMinted{Header: h, Owner: p.address("owner"), Pool: p.address("pool"), TokenID: p.uint("tokenId"), Amount: p.uint("amount"), Tranche: p.uint("tranche")}
		},
		"TokenRedeemed": func(h Header, p *params) Event {
			return PoolTokenRedeemed{
				Header:            h,
				Owner:             p.address("owner"),
				Pool:              p.address("pool"),
				TokenID:           p.uint("tokenId"),
				PrincipalRedeemed: p.uint("principalRedeemed"),
				InterestRedeemed:  p.uint("interestRedeemed"),
				Tranche:           p.uint("tranche"),
			}
		},
		"TokenPrincipalWithdrawn": func(h Header, p *params) Event {
			return PoolTokenPrincipalWithdrawn{
				Header:             h,
				Owner:              p.address("owner"),
				Pool:               p.address("pool"),
				TokenID:            p.uint("tokenId"),
				PrincipalWithdrawn: p.uint("principalWithdrawn"),
				Tranche:            p.uint("tranche"),
			}
		},
		"TokenBurned": func(h Header, p *params) Event {
			return PoolTokenBurned{Header: h, Owner: p.address("owner"), Pool: p.address("pool"), TokenID: p.uint("tokenId")}
		},
		"Transfer": func(h Header, p *params) Event {
			return PoolTokenTransfer{Header: h, From: p.address("from"), To: p.address("to"), TokenID: p.uint("tokenId")}
		},
	},
	contracts.RoleBackerRewards: {
		"BackerRewardsClaimed": func(h Header, p *params) Event {
			return BackerRewardsClaimed{
				Header:            h,
				Owner:             p.address("owner"),
				TokenID:           p.uint("tokenId"),
				PoolRewards:       p.uint("amountOfTranchedPoolRewards"),
				SeniorPoolRewards: p.uint("amountOfSeniorPoolRewards"),
			}
		},
	},
	contracts.RoleStakingRewards: {
		"RewardAdded": func(h Header, p *params) Event {
			return RewardAdded{Header: h, Reward: p.uint("reward")}
		},
		"Staked": func(h Header, p *params) Event {
			return StakeChanged{Header: h, User: p.address("user"), TokenID: p.uint("tokenId"), Amount: p.uint("amount")}
		},
		"Unstaked": func(h Header, p *params) Event {
			return StakeChanged{Header: h, User: p.address("user"), TokenID: p.uint("tokenId"), Amount: p.uint("amount"), Unstaked: true}
		},
		"RewardPaid": func(h Header, p *params) Event {
			return RewardPaid{Header: h, User: p.address("user"), TokenID: p.uint("tokenId"), Reward: p.uint("reward")}
		},
	},
	contracts.RoleGFI: {
		"Transfer": func(h Header, p *params) Event {
			return GFITransfer{Header: h, From: p.address("from"), To: p.address("to"), Value: p.uint("value")}
		},
	},
	contracts.RoleZapper: {
		"ZapMade": func(h Header, p *params) Event {
			return ZapMade{
				Header:           h,
				Owner:            p.address("owner"),
				StakedPositionID: p.uint("stakedPositionId"),
				TranchedPool:     p.address("tranchedPool"),
				PoolTokenID:      p.uint("poolTokenId"),
				Amount:           p.uint("amount"),
			}
		},
		"ZapUnwound": func(h Header, p *params) Event {
			return ZapUnwound{Header: h, Owner: p.address("owner"), PoolTokenID: p.uint("poolTokenId")}
		},
	},
	contracts.RoleGo: {
		"GoListed": func(h Header, p *params) Event {
			return GoListChanged{Header: h, Member: p.address("member"), Listed: true}
		},
		"GoUnlisted": func(h Header, p *params) Event {
			return GoListChanged{Header: h, Member: p.address("member"), Listed: false}
		},
	},
	contracts.RoleUniqueIdentity: {
		"TransferSingle": func(h Header, p *params) Event {
			return UIDTransfer{
				Header:   h,
				Operator: p.address("operator"),
				From:     p.address("from"),
				To:       p.address("to"),
				UIDType:  p.uint("id"),
				Value:    p.uint("value"),
			}
		},
	},
}

// Decode converts a raw stream item emitted by a contract with the given role
// into its typed event.
func Decode(raw chain.Event, role contracts.Role) (Event, error) {
	byName, ok := decoders[role]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", ErrUnknownEvent, role)
	}
	decode, ok := byName[raw.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEvent, role, raw.Name)
	}
	p := &params{values: raw.Params}
	ev := decode(HeaderFrom(raw, role), p)
	if p.err != nil {
		return nil, fmt.Errorf("%s.%s at %s: %w", role, raw.Name, raw.Position, p.err)
	}
	return ev, nil
}

// Supported reports whether Decode understands name for role.
func Supported(role contracts.Role, name string) bool {
	_, ok := decoders[role][name]
	return ok
}

type params struct {
	values map[string]any
	err    error
}

func (p *params) fail(name string, value any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s has type %T", ErrMalformed, name, value)
	}
}

func (p *params) address(name string) common.Address {
	switch v := p.values[name].(type) {
	case common.Address:
		return v
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v)
		}
	}
	p.fail(name, p.values[name])
	return common.Address{}
}

func (p *params) uint(name string) numeric.Int {
	v := p.signed(name)
	if v.Sign() < 0 && p.err == nil {
		p.err = fmt.Errorf("%w: %s is negative", ErrMalformed, name)
	}
	return v
}

func (p *params) signed(name string) numeric.Int {
	switch v := p.values[name].(type) {
	case *big.Int:
		if v != nil {
			return numeric.NewInt(v)
		}
	case numeric.Int:
		return v
	case int64:
		return numeric.IntFromInt64(v)
	case int:
		return numeric.IntFromInt64(int64(v))
	case uint64:
		return numeric.IntFromUint64(v)
	case string:
		parsed, err := numeric.ParseInt(v)
		if err == nil {
			return parsed
		}
	}
	p.fail(name, p.values[name])
	return numeric.Int{}
}
