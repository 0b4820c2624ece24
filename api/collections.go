package api

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/store"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindAddress
	kindBool
	// kindNumeric columns hold base-10 strings; ordering casts them.
	kindNumeric
	kindInteger
)

type field struct {
	column string
	kind   fieldKind
}

func (f field) value(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch f.kind {
	case kindAddress:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%q is not an address", raw)
		}
		return strings.ToLower(common.HexToAddress(raw).Hex()), nil
	case kindBool:
		return strconv.ParseBool(raw)
	case kindInteger:
		return strconv.ParseUint(raw, 10, 64)
	case kindNumeric:
		if _, ok := new(big.Int).SetString(raw, 10); !ok {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// collection is one queryable table. fields lists the JSON names that may be
// used as filters and as orderBy.
type collection struct {
	name   string
	fields map[string]field
	get    func(h store.Handle, id string) (any, bool, error)
	list   func(h store.Handle, q store.Query) (any, int, error)
}

func define[T any, P store.Model[T]](name string, fields map[string]field) collection {
	return collection{
		name:   name,
		fields: fields,
		get: func(h store.Handle, id string) (any, bool, error) {
			entity, err := store.Load[T, P](h, id)
			if err != nil || entity == nil {
				return nil, false, err
			}
			return entity, true, nil
		},
		list: func(h store.Handle, q store.Query) (any, int, error) {
			rows, err := store.List[T, P](h, q)
			if err != nil {
				return nil, 0, err
			}
			if rows == nil {
				rows = []T{}
			}
			return rows, len(rows), nil
		},
	}
}

var (
	addr    = func(col string) field { return field{col, kindAddress} }
	flag    = func(col string) field { return field{col, kindBool} }
	text    = func(col string) field { return field{col, kindText} }
	num     = func(col string) field { return field{col, kindNumeric} }
	integer = func(col string) field { return field{col, kindInteger} }
)

func collections() map[string]collection {
	defs := []collection{
		define[store.CreditLine]("creditLines", map[string]field{
			"tranchedPool": addr("pool"),
			"isLate":       flag("is_late"),
			"balance":      num("balance"),
			"interestApr":  num("interest_apr"),
			"nextDueTime":  num("next_due_time"),
		}),
		define[store.TranchedPool]("tranchedPools", map[string]field{
			"borrower":           addr("borrower"),
			"creditLine":         addr("credit_line"),
			"createdAt":          integer("created_timestamp"),
			"isPaused":           flag("is_paused"),
			"isV1StyleDeal":      flag("is_legacy"),
			"totalDeposited":     num("total_deposited"),
			"estimatedJuniorApy": num("estimated_junior_apy"),
		}),
		define[store.TrancheInfo]("tranches", map[string]field{
			"tranchedPool": addr("pool"),
			"kind":         text("kind"),
			"trancheId":    num("tranche_id"),
		}),
		define[store.SeniorPoolStatus]("seniorPools", nil),
		define[store.StakingRewards]("stakingRewards", nil),
		define[store.StakedPosition]("stakedPositions", map[string]field{
			"user":   addr("user_id"),
			"amount": num("amount"),
		}),
		define[store.PoolToken]("poolTokens", map[string]field{
			"tranchedPool":    addr("pool"),
			"user":            addr("user_id"),
			"mintedAt":        integer("minted_at"),
			"principalAmount": num("principal_amount"),
		}),
		define[store.PoolBacker]("poolBackers", map[string]field{
			"tranchedPool":        addr("pool"),
			"user":                addr("user_id"),
			"principalAmount":     num("principal_amount"),
			"availableToWithdraw": num("available_to_withdraw"),
		}),
		define[store.SeniorPoolWithdrawalRequest]("seniorPoolWithdrawalRequests", map[string]field{
			"tokenId":     num("token_id"),
			"requestedAt": integer("requested_at"),
		}),
		define[store.SeniorPoolWithdrawalEpoch]("seniorPoolWithdrawalEpochs", map[string]field{
			"epoch":  num("epoch"),
			"endsAt": num("ends_at"),
		}),
		define[store.SeniorPoolWithdrawalDisbursement]("seniorPoolWithdrawalDisbursements", map[string]field{
			"epoch":   text("epoch"),
			"request": addr("request"),
			"tokenId": num("token_id"),
		}),
		define[store.SeniorPoolWithdrawalRequestPostponement]("seniorPoolWithdrawalRequestPostponements", map[string]field{
			"request":   addr("request"),
			"timestamp": integer("timestamp"),
		}),
		define[store.Zap]("zaps", map[string]field{
			"user":         addr("user_id"),
			"tranchedPool": addr("tranched_pool"),
		}),
		define[store.User]("users", map[string]field{
			"isGoListed": flag("is_go_listed"),
		}),
		define[store.Transaction]("transactions", map[string]field{
			"category":     text("category"),
			"user":         addr("user_id"),
			"tranchedPool": addr("tranched_pool"),
			"timestamp":    integer("timestamp"),
			"blockNumber":  integer("block_number"),
		}),
	}
	out := make(map[string]collection, len(defs))
	for _, def := range defs {
		out[def.name] = def
	}
	return out
}

// relation is a child collection reached from a parent id.
type relation struct {
	path   string
	child  string
	column string
}

var relations = map[string][]relation{
	"tranchedPools": {
		{"backers", "poolBackers", "pool"},
		{"poolTokens", "poolTokens", "pool"},
		{"tranches", "tranches", "pool"},
	},
	"users": {
		{"poolTokens", "poolTokens", "user_id"},
		{"backers", "poolBackers", "user_id"},
		{"transactions", "transactions", "user_id"},
		{"zaps", "zaps", "user_id"},
		{"stakedPositions", "stakedPositions", "user_id"},
	},
	"seniorPoolWithdrawalEpochs": {
		{"disbursements", "seniorPoolWithdrawalDisbursements", "epoch"},
	},
}
