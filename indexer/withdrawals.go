package indexer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/store"
)

// ErrOverAllocated is returned when an epoch's pro-rata shares would pay out more
// USDC than the epoch allocated.
var ErrOverAllocated = errors.New("indexer: epoch allocation exceeded")

// Share is one active request entering settlement.
type Share struct {
	ID            string
	FiduRequested numeric.Int
}

// EpochTotals are the epoch-wide amounts carried by the settlement event.
type EpochTotals struct {
	FiduRequested  numeric.Int
	FiduLiquidated numeric.Int
	UsdcAllocated  numeric.Int
}

// Settlement is the outcome for one request.
type Settlement struct {
	ID             string
	ProRataUsdc    numeric.Int
	FiduLiquidated numeric.Int
	// Remaining is the request's fiduRequested after the epoch.
	Remaining numeric.Int
	// DustAbsorbed is set when a residual at or below the dust threshold was
	// liquidated along with the share.
	DustAbsorbed bool
}

// SettleEpoch allocates an epoch pro rata across shares, rounding every share
// down. A residual at or below dust is absorbed into the liquidation so no
// request is left holding an unreachable amount.
func SettleEpoch(shares []Share, totals EpochTotals, dust numeric.Int) ([]Settlement, error) {
	out := make([]Settlement, 0, len(shares))
	paid := numeric.Int{}
	for _, share := range shares {
		if share.FiduRequested.Sign() <= 0 {
			continue
		}
		usdc, err := numeric.MulDivFloor(totals.UsdcAllocated, share.FiduRequested, totals.FiduRequested)
		if err != nil {
			return nil, fmt.Errorf("settle %s: %w", share.ID, err)
		}
		liquidated, err := numeric.MulDivFloor(totals.FiduLiquidated, share.FiduRequested, totals.FiduRequested)
		if err != nil {
			return nil, fmt.Errorf("settle %s: %w", share.ID, err)
		}
		s := Settlement{ID: share.ID, ProRataUsdc: usdc, FiduLiquidated: liquidated}
		remaining := share.FiduRequested.Sub(liquidated)
		if remaining.Cmp(dust) <= 0 {
			s.FiduLiquidated = share.FiduRequested
			s.Remaining = numeric.Int{}
			s.DustAbsorbed = remaining.Sign() != 0
		} else {
			s.Remaining = remaining
		}
		paid = paid.Add(usdc)
		out = append(out, s)
	}
	if paid.Cmp(totals.UsdcAllocated) > 0 {
		return nil, fmt.Errorf("%w: paid %s of %s", ErrOverAllocated, paid, totals.UsdcAllocated)
	}
	return out, nil
}

func (r *run) roster() (*store.SeniorPoolWithdrawalRequestRoster, error) {
	roster, _, err := store.LoadOrCreate[store.SeniorPoolWithdrawalRequestRoster](r.tx, store.SingletonID)
	return roster, err
}

// findRequest locates a request by its token, falling back to the operator.
func (r *run) findRequest(tokenID numeric.Int, operator common.Address) (*store.SeniorPoolWithdrawalRequest, error) {
	found, err := store.List[store.SeniorPoolWithdrawalRequest](r.tx, store.Query{
		Where: map[string]any{"token_id": tokenID.String()},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return &found[0], nil
	}
	if operator == (common.Address{}) {
		return nil, nil
	}
	return store.Load[store.SeniorPoolWithdrawalRequest](r.tx, key(operator))
}

func (r *run) onWithdrawalRequested(ev events.WithdrawalRequested) error {
	req, _, err := store.LoadOrCreate[store.SeniorPoolWithdrawalRequest](r.tx, key(ev.Operator))
	if err != nil {
		return err
	}
	if r.fresh(req.Watermark) {
		req.TokenID = ev.TokenID
		req.FiduRequested = ev.FiduRequested
		req.UsdcWithdrawable = numeric.Int{}
		req.RequestedAt = r.timestamp()
		req.IncreasedAt = 0
		req.CanceledAt = 0
		req.Watermark = watermark(r.h.Position)
		if err := store.Save(r.tx, req); err != nil {
			return err
		}
		if err := r.enroll(req.ID); err != nil {
			return err
		}
	}
	return r.audit(store.Transaction{
		Category:   CategorySeniorPoolWithdrawalRequest,
		User:       key(ev.Operator),
		SentAmount: ev.FiduRequested,
		SentToken:  TokenFIDU,
	})
}

func (r *run) onWithdrawalAddedTo(ev events.WithdrawalAddedTo) error {
	req, err := r.findRequest(ev.TokenID, ev.Operator)
	if err != nil {
		return err
	}
	if req == nil {
		return integrity("withdrawal request for token %s not indexed", ev.TokenID)
	}
	if r.fresh(req.Watermark) {
		req.FiduRequested = req.FiduRequested.Add(ev.FiduRequested)
		req.IncreasedAt = r.timestamp()
		req.Watermark = watermark(r.h.Position)
		if err := store.Save(r.tx, req); err != nil {
			return err
		}
		if err := r.enroll(req.ID); err != nil {
			return err
		}
	}
	return r.audit(store.Transaction{
		Category:   CategorySeniorPoolAddToWithdrawalRequest,
		User:       key(ev.Operator),
		SentAmount: ev.FiduRequested,
		SentToken:  TokenFIDU,
	})
}

func (r *run) onWithdrawalCanceled(ev events.WithdrawalCanceled) error {
	req, err := r.findRequest(ev.TokenID, ev.Operator)
	if err != nil {
		return err
	}
	if req == nil {
		return integrity("withdrawal request for token %s not indexed", ev.TokenID)
	}
	if r.fresh(req.Watermark) {
		// usdcWithdrawable already accrued stays claimable.
		req.FiduRequested = numeric.Int{}
		req.CanceledAt = r.timestamp()
		req.Watermark = watermark(r.h.Position)
		if err := store.Save(r.tx, req); err != nil {
			return err
		}
	}
	return r.audit(store.Transaction{
		Category:       CategorySeniorPoolCancelWithdrawalRequest,
		User:           key(ev.Operator),
		ReceivedAmount: ev.FiduCanceled,
		ReceivedToken:  TokenFIDU,
	})
}

// executeWithdrawal pays out the full withdrawable balance.
func (r *run) executeWithdrawal(user common.Address) error {
	req, err := store.Load[store.SeniorPoolWithdrawalRequest](r.tx, key(user))
	if err != nil || req == nil {
		return err
	}
	if req.UsdcWithdrawable.IsZero() {
		return nil
	}
	req.UsdcWithdrawable = numeric.Int{}
	return store.Save(r.tx, req)
}

func (r *run) onEpochEnded(ev events.EpochEnded) error {
	epochID := ev.EpochID.String()
	settled, err := store.Exists[store.SeniorPoolWithdrawalEpoch](r.tx, epochID)
	if err != nil {
		return err
	}
	if settled {
		r.e.metrics.ObserveSkipped("epoch_settled")
		return nil
	}
	roster, err := r.roster()
	if err != nil {
		return err
	}
	requests := make(map[string]*store.SeniorPoolWithdrawalRequest, len(roster.Requests))
	shares := make([]Share, 0, len(roster.Requests))
	for _, id := range roster.Requests {
		req, err := store.Load[store.SeniorPoolWithdrawalRequest](r.tx, id)
		if err != nil {
			return err
		}
		if req == nil || req.FiduRequested.Sign() <= 0 {
			continue
		}
		requests[id] = req
		shares = append(shares, Share{ID: id, FiduRequested: req.FiduRequested})
	}
	settlements, err := SettleEpoch(shares, EpochTotals{
		FiduRequested:  ev.FiduRequested,
		FiduLiquidated: ev.FiduLiquidated,
		UsdcAllocated:  ev.UsdcAllocated,
	}, r.e.cfg.DustThreshold)
	if errors.Is(err, ErrOverAllocated) {
		return integrity("epoch %s: %v", epochID, err)
	}
	if err != nil {
		return err
	}

	for _, s := range settlements {
		req := requests[s.ID]
		req.UsdcWithdrawable = req.UsdcWithdrawable.Add(s.ProRataUsdc)
		req.FiduRequested = s.Remaining
		if err := store.Save(r.tx, req); err != nil {
			return err
		}
		disbursement := &store.SeniorPoolWithdrawalDisbursement{
			Epoch:          epochID,
			Request:        req.ID,
			TokenID:        req.TokenID,
			UsdcAllocated:  s.ProRataUsdc,
			FiduLiquidated: s.FiduLiquidated,
		}
		disbursement.ID = fmt.Sprintf("%s-%s", epochID, req.ID)
		if err := store.Save(r.tx, disbursement); err != nil {
			return err
		}
		if s.DustAbsorbed {
			r.e.metrics.ObserveDustAbsorbed(epochID)
		}
		if err := r.audit(store.Transaction{
			Record:         store.Record{ID: fmt.Sprintf("%s-%s", r.h.ID, req.ID)},
			Category:       CategorySeniorPoolDistribution,
			User:           req.ID,
			SentAmount:     s.FiduLiquidated,
			SentToken:      TokenFIDU,
			ReceivedAmount: s.ProRataUsdc,
			ReceivedToken:  TokenUSDC,
		}); err != nil {
			return err
		}
	}

	epoch := &store.SeniorPoolWithdrawalEpoch{
		Epoch:          ev.EpochID,
		EndsAt:         ev.EndTime,
		FiduRequested:  ev.FiduRequested,
		FiduLiquidated: ev.FiduLiquidated,
		UsdcAllocated:  ev.UsdcAllocated,
	}
	epoch.ID = epochID
	return store.Save(r.tx, epoch)
}

func (r *run) onEpochExtended(ev events.EpochExtended) error {
	roster, err := r.roster()
	if err != nil {
		return err
	}
	for _, id := range roster.Requests {
		req, err := store.Load[store.SeniorPoolWithdrawalRequest](r.tx, id)
		if err != nil {
			return err
		}
		if req == nil || req.FiduRequested.Sign() <= 0 {
			continue
		}
		p, created, err := store.LoadOrCreate[store.SeniorPoolWithdrawalRequestPostponement](r.tx, fmt.Sprintf("%s-%s", r.h.ID, id))
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		p.Request = id
		p.TokenID = req.TokenID
		p.ExtendedEpoch = ev.EpochID
		p.OldEndsAt = ev.OldEndTime
		p.NewEndsAt = ev.NewEndTime
		p.Timestamp = r.timestamp()
		if err := store.Save(r.tx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) onWithdrawalTokenTransfer(ev events.WithdrawalTokenTransfer) error {
	if chain.ZeroAddress(ev.From) {
		// WithdrawalRequested creates the request.
		return nil
	}
	req, err := r.findRequest(ev.TokenID, ev.From)
	if err != nil {
		return err
	}
	if chain.ZeroAddress(ev.To) {
		if req == nil {
			return nil
		}
		if err := store.Delete[store.SeniorPoolWithdrawalRequest](r.tx, req.ID); err != nil {
			return err
		}
		return r.unenroll(req.ID)
	}
	if req == nil {
		return integrity("withdrawal request for token %s not indexed", ev.TokenID)
	}
	moved := *req
	moved.ID = key(ev.To)
	if moved.ID == req.ID {
		return nil
	}
	if err := store.Delete[store.SeniorPoolWithdrawalRequest](r.tx, req.ID); err != nil {
		return err
	}
	if err := r.unenroll(req.ID); err != nil {
		return err
	}
	if err := store.Save(r.tx, &moved); err != nil {
		return err
	}
	return r.enroll(moved.ID)
}

func (r *run) enroll(id string) error {
	roster, err := r.roster()
	if err != nil {
		return err
	}
	next := addToSet(roster.Requests, id)
	if len(next) == len(roster.Requests) {
		return nil
	}
	roster.Requests = next
	return store.Save(r.tx, roster)
}

func (r *run) unenroll(id string) error {
	roster, err := r.roster()
	if err != nil {
		return err
	}
	before := len(roster.Requests)
	roster.Requests = removeFromSet(roster.Requests, id)
	if len(roster.Requests) == before {
		return nil
	}
	return store.Save(r.tx, roster)
}
