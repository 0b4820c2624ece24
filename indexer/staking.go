package indexer

import (
	"creditindexer/chain"
	"creditindexer/contracts"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/store"
)

// refreshStakingRewards snapshots the staking program and then the senior
// pool, whose GFI APY depends on the earn rate.
func (r *run) refreshStakingRewards() error {
	rewards, _, err := store.LoadOrCreate[store.StakingRewards](r.tx, store.SingletonID)
	if err != nil {
		return err
	}
	if staking, ok := r.address(contracts.RoleStakingRewards); ok {
		v, ok, err := r.callUint(staking, contracts.MethodCurrentEarnRatePerToken)
		if err != nil {
			return err
		}
		if ok {
			rewards.CurrentEarnRatePerToken = v
		}
	}
	if err := r.refreshGFISupply(rewards); err != nil {
		return err
	}
	if err := store.Save(r.tx, rewards); err != nil {
		return err
	}
	return r.refreshSeniorPool("")
}

func (r *run) refreshGFISupply(rewards *store.StakingRewards) error {
	gfi, ok := r.address(contracts.RoleGFI)
	if !ok {
		return nil
	}
	v, ok, err := r.callUint(gfi, contracts.MethodTotalSupply)
	if err != nil {
		return err
	}
	if ok {
		rewards.GfiTotalSupply = v
	}
	return nil
}

func (r *run) refreshStakedPosition(user string, tokenID numeric.Int) (*store.StakedPosition, error) {
	pos, _, err := store.LoadOrCreate[store.StakedPosition](r.tx, tokenID.String())
	if err != nil {
		return nil, err
	}
	pos.User = user
	if staking, ok := r.address(contracts.RoleStakingRewards); ok {
		v, ok, err := r.callUint(staking, contracts.MethodStakedBalanceOf, tokenID.Big())
		if err != nil {
			return nil, err
		}
		if ok {
			pos.Amount = v
		}
	}
	return pos, nil
}

func (r *run) onRewardAdded() error {
	return r.refreshStakingRewards()
}

func (r *run) onStakeChanged(ev events.StakeChanged) error {
	if err := r.refreshStakingRewards(); err != nil {
		return err
	}
	pos, err := r.refreshStakedPosition(key(ev.User), ev.TokenID)
	if err != nil {
		return err
	}
	if err := store.Save(r.tx, pos); err != nil {
		return err
	}
	t := store.Transaction{Category: CategorySeniorPoolStake, User: key(ev.User), SentAmount: ev.Amount, SentToken: TokenFIDU}
	if ev.Unstaked {
		t = store.Transaction{Category: CategorySeniorPoolUnstake, User: key(ev.User), ReceivedAmount: ev.Amount, ReceivedToken: TokenFIDU}
	}
	return r.audit(t)
}

func (r *run) onRewardPaid(ev events.RewardPaid) error {
	pos, err := r.refreshStakedPosition(key(ev.User), ev.TokenID)
	if err != nil {
		return err
	}
	if r.fresh(pos.Watermark) {
		pos.RewardsClaimed = pos.RewardsClaimed.Add(ev.Reward)
		pos.Watermark = watermark(r.h.Position)
	}
	if err := store.Save(r.tx, pos); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:       CategoryStakingRewardsClaimed,
		User:           key(ev.User),
		ReceivedAmount: ev.Reward,
		ReceivedToken:  TokenGFI,
	})
}

// onGFITransfer tracks supply changes only: mints and burns.
func (r *run) onGFITransfer(ev events.GFITransfer) error {
	if !chain.ZeroAddress(ev.From) && !chain.ZeroAddress(ev.To) {
		return nil
	}
	rewards, _, err := store.LoadOrCreate[store.StakingRewards](r.tx, store.SingletonID)
	if err != nil {
		return err
	}
	if err := r.refreshGFISupply(rewards); err != nil {
		return err
	}
	return store.Save(r.tx, rewards)
}
