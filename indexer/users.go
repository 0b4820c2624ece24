package indexer

import (
	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/events"
	"creditindexer/store"
)

func (r *run) onGoListChanged(ev events.GoListChanged) error {
	user, _, err := store.LoadOrCreate[store.User](r.tx, key(ev.Member))
	if err != nil {
		return err
	}
	user.IsGoListed = ev.Listed
	return store.Save(r.tx, user)
}

// onUIDTransfer moves a unique identity type between holders. Mints and burns
// also land in the audit log.
func (r *run) onUIDTransfer(ev events.UIDTransfer) error {
	uid := ev.UIDType.String()
	if !chain.ZeroAddress(ev.From) {
		if err := r.setUID(ev.From, uid, false); err != nil {
			return err
		}
	}
	if !chain.ZeroAddress(ev.To) {
		if err := r.setUID(ev.To, uid, true); err != nil {
			return err
		}
	}
	switch {
	case chain.ZeroAddress(ev.From) && !chain.ZeroAddress(ev.To):
		return r.audit(store.Transaction{
			Category:       CategoryUIDMinted,
			User:           key(ev.To),
			ReceivedAmount: ev.Value,
			ReceivedToken:  TokenUID,
		})
	case chain.ZeroAddress(ev.To) && !chain.ZeroAddress(ev.From):
		return r.audit(store.Transaction{
			Category:   CategoryUIDBurned,
			User:       key(ev.From),
			SentAmount: ev.Value,
			SentToken:  TokenUID,
		})
	}
	return nil
}

func (r *run) setUID(holder common.Address, uid string, held bool) error {
	user, _, err := store.LoadOrCreate[store.User](r.tx, key(holder))
	if err != nil {
		return err
	}
	if held {
		user.UIDTypes = addToSet(user.UIDTypes, uid)
	} else {
		user.UIDTypes = removeFromSet(user.UIDTypes, uid)
	}
	return store.Save(r.tx, user)
}
