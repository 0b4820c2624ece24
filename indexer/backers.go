package indexer

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/contracts"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/store"
)

var zeroKey = key(common.Address{})

func backerKey(pool, user string) string {
	return fmt.Sprintf("%s-%s", pool, user)
}

func (r *run) onPoolTokenMinted(ev events.PoolTokenMinted) error {
	if _, err := r.requirePool(ev.Pool); err != nil {
		return err
	}
	token, created, err := store.LoadOrCreate[store.PoolToken](r.tx, ev.TokenID.String())
	if err != nil {
		return err
	}
	if created {
		token.MintedAt = r.timestamp()
	}
	token.Pool = key(ev.Pool)
	token.User = key(ev.Owner)
	token.Tranche = ev.Tranche
	token.PrincipalAmount = ev.Amount
	if err := r.refreshTokenInfo(token); err != nil {
		return err
	}
	if err := store.Save(r.tx, token); err != nil {
		return err
	}
	return r.recomputeBacker(token.Pool, token.User)
}

// onPoolTokenChanged handles redemptions, principal withdrawals and burns.
func (r *run) onPoolTokenChanged(pool common.Address, tokenID numeric.Int) error {
	if _, err := r.requirePool(pool); err != nil {
		return err
	}
	token, err := r.requireToken(tokenID)
	if err != nil {
		return err
	}
	if err := r.refreshTokenInfo(token); err != nil {
		return err
	}
	if err := store.Save(r.tx, token); err != nil {
		return err
	}
	return r.recomputeBacker(token.Pool, token.User)
}

func (r *run) onPoolTokenTransfer(ev events.PoolTokenTransfer) error {
	if chain.ZeroAddress(ev.From) {
		// TokenMinted carries the owner.
		return nil
	}
	token, err := r.requireToken(ev.TokenID)
	if err != nil {
		return err
	}
	previous := token.User
	token.User = key(ev.To)
	if err := store.Save(r.tx, token); err != nil {
		return err
	}
	if zapper, ok := r.address(contracts.RoleZapper); ok && ev.From == zapper {
		if err := store.Delete[store.Zap](r.tx, token.ID); err != nil {
			return err
		}
	}
	if err := r.recomputeBacker(token.Pool, previous); err != nil {
		return err
	}
	return r.recomputeBacker(token.Pool, token.User)
}

func (r *run) onBackerRewardsClaimed(ev events.BackerRewardsClaimed) error {
	token, err := r.requireToken(ev.TokenID)
	if err != nil {
		return err
	}
	if err := r.refreshTokenRewards(token); err != nil {
		return err
	}
	if err := store.Save(r.tx, token); err != nil {
		return err
	}
	if err := r.recomputeBacker(token.Pool, token.User); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategoryBackerRewardsClaimed,
		User:           key(ev.Owner),
		TranchedPool:   token.Pool,
		ReceivedAmount: ev.PoolRewards.Add(ev.SeniorPoolRewards),
		ReceivedToken:  TokenGFI,
	})
}

func (r *run) requireToken(tokenID numeric.Int) (*store.PoolToken, error) {
	token, err := store.Load[store.PoolToken](r.tx, tokenID.String())
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, integrity("pool token %s not indexed", tokenID)
	}
	return token, nil
}

// refreshTokenInfo reads the position recorded by the pool tokens contract.
func (r *run) refreshTokenInfo(token *store.PoolToken) error {
	poolTokens, ok := r.address(contracts.RolePoolTokens)
	if !ok {
		return nil
	}
	res, err := r.call(poolTokens, contracts.MethodGetTokenInfo, numeric.MustInt(token.ID).Big())
	if err != nil || !res.Success {
		return err
	}
	if v, ok := uintAt(res, 1); ok {
		token.Tranche = v
	}
	if v, ok := uintAt(res, 2); ok {
		token.PrincipalAmount = v
	}
	if v, ok := uintAt(res, 3); ok {
		token.PrincipalRedeemed = v
	}
	if v, ok := uintAt(res, 4); ok {
		token.InterestRedeemed = v
	}
	return nil
}

// refreshTokenRedeemable reads what the token can withdraw now. On revert the
// stored redeemable fields are left as they are.
func (r *run) refreshTokenRedeemable(token *store.PoolToken) error {
	res, err := r.call(common.HexToAddress(token.Pool), contracts.MethodAvailableToWithdraw, numeric.MustInt(token.ID).Big())
	if err != nil || !res.Success {
		return err
	}
	interest, okInterest := uintAt(res, 0)
	principal, okPrincipal := uintAt(res, 1)
	if okInterest && okPrincipal {
		token.InterestRedeemable = interest
		token.PrincipalRedeemable = principal
	}
	return nil
}

func (r *run) refreshTokenRewards(token *store.PoolToken) error {
	rewards, ok := r.address(contracts.RoleBackerRewards)
	if !ok {
		return nil
	}
	id := numeric.MustInt(token.ID).Big()
	claimable, ok, err := r.callUint(rewards, contracts.MethodPoolTokenClaimableRewards, id)
	if err != nil {
		return err
	}
	if ok {
		token.RewardsClaimable = claimable
	}
	res, err := r.call(rewards, contracts.MethodBackerRewardsTokenInfo, id)
	if err != nil {
		return err
	}
	if v, ok := uintAt(res, 0); ok {
		token.RewardsClaimed = v
	}
	return nil
}

// recomputeBacker rebuilds the user's roll-up in pool from every token the user
// holds there. Each token is queried independently; one failing query only
// leaves that token's redeemable fields stale.
func (r *run) recomputeBacker(pool, user string) error {
	if user == "" || user == zeroKey {
		return nil
	}
	tokens, err := store.List[store.PoolToken](r.tx, store.Query{
		Where: map[string]any{"pool": pool, "user_id": user},
	})
	if err != nil {
		return err
	}
	backer, _, err := store.LoadOrCreate[store.PoolBacker](r.tx, backerKey(pool, user))
	if err != nil {
		return err
	}
	backer.Pool = pool
	backer.User = user
	var amount, redeemed, interestRedeemed, principalRedeemable, interestRedeemable, claimable, claimed numeric.Int
	for i := range tokens {
		token := &tokens[i]
		if err := r.refreshTokenRedeemable(token); err != nil {
			return err
		}
		if err := r.refreshTokenRewards(token); err != nil {
			return err
		}
		if err := store.Save(r.tx, token); err != nil {
			return err
		}
		amount = amount.Add(token.PrincipalAmount)
		redeemed = redeemed.Add(token.PrincipalRedeemed)
		interestRedeemed = interestRedeemed.Add(token.InterestRedeemed)
		principalRedeemable = principalRedeemable.Add(token.PrincipalRedeemable)
		interestRedeemable = interestRedeemable.Add(token.InterestRedeemable)
		claimable = claimable.Add(token.RewardsClaimable)
		claimed = claimed.Add(token.RewardsClaimed)
	}
	backer.PrincipalAmount = amount
	backer.PrincipalRedeemed = redeemed
	backer.InterestRedeemed = interestRedeemed
	backer.PrincipalRedeemable = principalRedeemable
	backer.InterestRedeemable = interestRedeemable
	backer.PrincipalAtRisk = amount.Sub(redeemed.Add(principalRedeemable))
	backer.AvailableToWithdraw = principalRedeemable.Add(interestRedeemable)
	backer.RewardsClaimable = claimable
	backer.RewardsClaimed = claimed
	return store.Save(r.tx, backer)
}

// rescanBackers recomputes every backer of a pool. Drawdowns and repayments
// shift what each token can redeem.
func (r *run) rescanBackers(pool common.Address) error {
	poolKey := key(pool)
	tokens, err := store.List[store.PoolToken](r.tx, store.Query{Where: map[string]any{"pool": poolKey}})
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(tokens))
	users := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token.User]; ok {
			continue
		}
		seen[token.User] = struct{}{}
		users = append(users, token.User)
	}
	sort.Strings(users)
	for _, user := range users {
		if err := r.recomputeBacker(poolKey, user); err != nil {
			return err
		}
	}
	return nil
}
