package indexer

import (
	"creditindexer/events"
	"creditindexer/store"
)

func (r *run) onZapMade(ev events.ZapMade) error {
	zap, _, err := store.LoadOrCreate[store.Zap](r.tx, ev.PoolTokenID.String())
	if err != nil {
		return err
	}
	zap.User = key(ev.Owner)
	zap.TranchedPool = key(ev.TranchedPool)
	zap.Amount = ev.Amount
	zap.SeniorPoolStakedPosition = ev.StakedPositionID.String()
	if err := store.Save(r.tx, zap); err != nil {
		return err
	}
	return r.audit(store.Transaction{
		Category:     CategoryZapMade,
		User:         key(ev.Owner),
		TranchedPool: key(ev.TranchedPool),
		SentAmount:   ev.Amount,
		SentToken:    TokenUSDC,
	})
}

func (r *run) onZapUnwound(ev events.ZapUnwound) error {
	zap, err := store.Load[store.Zap](r.tx, ev.PoolTokenID.String())
	if err != nil {
		return err
	}
	t := store.Transaction{Category: CategoryZapUnwound, User: key(ev.Owner)}
	if zap != nil {
		t.TranchedPool = zap.TranchedPool
		t.ReceivedAmount = zap.Amount
		t.ReceivedToken = TokenUSDC
		if err := store.Delete[store.Zap](r.tx, zap.ID); err != nil {
			return err
		}
	}
	return r.audit(t)
}
