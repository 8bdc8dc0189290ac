package kardex

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

// AdjustmentProposal is a suggestion for a human to confirm or edit. Computing
// it writes nothing.
type AdjustmentProposal struct {
	ReferenceTransactionID int64            `json:"reference_transaction_id"`
	Group                  GroupKey         `json:"group"`
	Date                   time.Time        `json:"date"`
	Kind                   MovementKind     `json:"kind"`
	Quantity               decimal.Decimal  `json:"quantity"`
	UnitPrice              decimal.Decimal  `json:"unit_price"`
	HasPriorBalance        bool             `json:"has_prior_balance"`
	PriorQuantity          decimal.Decimal  `json:"prior_quantity"`
	PriorTotalCost         decimal.Decimal  `json:"prior_total_cost"`
	Snapshot               *BalanceSnapshot `json:"snapshot,omitempty"`
}

type AdjustmentRequest struct {
	ReferenceTransactionID int64           `json:"reference_transaction_id" validate:"required,gt=0"`
	Kind                   MovementKind    `json:"kind" validate:"required,oneof=INGRESO EGRESO"`
	Quantity               decimal.Decimal `json:"quantity"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	Note                   string          `json:"note" validate:"max=255"`
}

func (r AdjustmentRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdjustment, err)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidAdjustment, r.Quantity)
	}
	if r.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative, got %s", ErrInvalidAdjustment, r.UnitPrice)
	}
	return nil
}

type RemovalResult struct {
	Removed        Transaction `json:"removed"`
	GroupReset     bool        `json:"group_reset"`
	EntriesRemoved int         `json:"entries_removed"`
	// Replay is set when ledger rows were removed without resetting the group;
	// the rest of the group was costed again in the same unit of work.
	Replay *GroupOutcome `json:"replay,omitempty"`
}

func adjustmentSpecial(kind MovementKind) (SpecialKind, error) {
	switch kind {
	case MovementIngress:
		return SpecialManualAdjustmentIn, nil
	case MovementEgress:
		return SpecialManualAdjustmentOut, nil
	}
	return SpecialNone, fmt.Errorf("%w: kind must be %s or %s, got %q", ErrInvalidAdjustment, MovementIngress, MovementEgress, kind)
}

// ProposeAdjustment computes the adjustment that would let the reference
// transaction cost cleanly.
func (e *Engine) ProposeAdjustment(ctx context.Context, referenceTransactionID int64, kind MovementKind) (AdjustmentProposal, error) {
	if _, err := adjustmentSpecial(kind); err != nil {
		return AdjustmentProposal{}, err
	}
	ref, ok, err := e.store.Transaction(ctx, referenceTransactionID)
	if err != nil {
		return AdjustmentProposal{}, err
	}
	if !ok {
		return AdjustmentProposal{}, fmt.Errorf("%w: id=%d", ErrTransactionNotFound, referenceTransactionID)
	}
	entries, err := e.store.GroupEntries(ctx, ref.Group)
	if err != nil {
		return AdjustmentProposal{}, fmt.Errorf("load ledger group=%s: %w", ref.Group, err)
	}
	prior, hasPrior := lastEntryWhere(NewLedger(ref.Group, entries).Entries(), func(le LedgerEntry) bool {
		return !le.Date.After(ref.Date) && le.TransactionID != ref.ID
	})

	p := AdjustmentProposal{
		ReferenceTransactionID: ref.ID,
		Group:                  ref.Group,
		Date:                   ref.Date,
		Kind:                   kind,
		HasPriorBalance:        hasPrior,
		PriorQuantity:          decimal.Zero,
		PriorTotalCost:         decimal.Zero,
	}
	if hasPrior {
		p.PriorQuantity = prior.RunningQuantity
		p.PriorTotalCost = prior.RunningTotalCost
	}
	switch kind {
	case MovementIngress:
		p.Quantity = ref.Magnitude().Sub(p.PriorQuantity)
		p.UnitPrice = ref.UnitPrice
		if hasPrior && p.PriorQuantity.IsPositive() {
			p.UnitPrice = roundPrice(p.PriorTotalCost.Div(p.PriorQuantity))
		}
	case MovementEgress:
		p.Quantity = ref.Magnitude()
		p.UnitPrice = ref.UnitPrice
	}

	snap, ok, err := e.store.SnapshotOnOrBefore(ctx, ref.Group, ref.Date.AddDate(0, 0, -1))
	if err != nil {
		return AdjustmentProposal{}, fmt.Errorf("load snapshot group=%s: %w", ref.Group, err)
	}
	if ok {
		p.Snapshot = &snap
	}
	return p, nil
}

// CommitAdjustment records a confirmed adjustment as an uncosted transaction and
// releases the reference transaction from review. The next run costs it.
func (e *Engine) CommitAdjustment(ctx context.Context, req AdjustmentRequest) (Transaction, error) {
	if err := req.Validate(); err != nil {
		return Transaction{}, err
	}
	special, err := adjustmentSpecial(req.Kind)
	if err != nil {
		return Transaction{}, err
	}
	ref, ok, err := e.store.Transaction(ctx, req.ReferenceTransactionID)
	if err != nil {
		return Transaction{}, err
	}
	if !ok {
		return Transaction{}, fmt.Errorf("%w: id=%d", ErrTransactionNotFound, req.ReferenceTransactionID)
	}

	unlock, err := e.locker.Lock(ctx, ref.Group)
	if err != nil {
		return Transaction{}, fmt.Errorf("lock group=%s: %w", ref.Group, err)
	}
	defer unlock()

	var created Transaction
	err = e.withUnitOfWork(ctx, func(uow UnitOfWork) error {
		mt, err := requireMovementType(ctx, uow, special, req.Kind)
		if err != nil {
			return err
		}
		qty := req.Quantity
		if req.Kind == MovementEgress {
			qty = qty.Neg()
		}
		note := req.Note
		if note == "" {
			note = fmt.Sprintf("adjustment for transaction %d", ref.ID)
		}
		created, err = uow.CreateTransaction(ctx, Transaction{
			Group:                  ref.Group,
			Date:                   ref.Date,
			MovementTypeID:         mt.ID,
			MovementName:           mt.Name,
			Kind:                   req.Kind,
			Special:                special,
			Quantity:               qty,
			UnitPrice:              req.UnitPrice,
			ReferenceTransactionID: ref.ID,
			Note:                   note,
		})
		if err != nil {
			return fmt.Errorf("create adjustment: %w", err)
		}
		release := []int64{ref.ID}
		group, err := uow.GroupTransactions(ctx, ref.Group)
		if err != nil {
			return err
		}
		for _, tx := range group {
			if tx.ReviewReason == ReviewBlocked {
				release = append(release, tx.ID)
			}
		}
		return uow.ClearReview(ctx, release)
	})
	if err != nil {
		return Transaction{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"group":          ref.Group.String(),
		"transaction_id": ref.ID,
		"adjustment_id":  created.ID,
		"kind":           string(req.Kind),
	}).Info("kardex.adjustment.committed")
	return created, nil
}

// RemoveAdjustment deletes an adjustment transaction. Removing an opening
// balance or balancing adjustment resets the whole group; removing any other
// adjustment that already had ledger rows replays the group without it.
func (e *Engine) RemoveAdjustment(ctx context.Context, adjustmentTransactionID int64) (RemovalResult, error) {
	tx, ok, err := e.store.Transaction(ctx, adjustmentTransactionID)
	if err != nil {
		return RemovalResult{}, err
	}
	if !ok {
		return RemovalResult{}, fmt.Errorf("%w: id=%d", ErrTransactionNotFound, adjustmentTransactionID)
	}
	if !tx.Special.IsAdjustment() {
		return RemovalResult{}, fmt.Errorf("%w: id=%d movement=%s", ErrNotAdjustment, tx.ID, tx.MovementName)
	}

	unlock, err := e.locker.Lock(ctx, tx.Group)
	if err != nil {
		return RemovalResult{}, fmt.Errorf("lock group=%s: %w", tx.Group, err)
	}
	defer unlock()

	res := RemovalResult{Removed: tx}
	err = e.withUnitOfWork(ctx, func(uow UnitOfWork) error {
		if tx.Special.IsFoundational() {
			entries, err := uow.GroupEntries(ctx, tx.Group)
			if err != nil {
				return err
			}
			if err := resetGroup(ctx, uow, tx.Group, true); err != nil {
				return err
			}
			res.GroupReset = true
			res.EntriesRemoved = len(entries)
			return uow.DeleteTransaction(ctx, tx.ID)
		}
		n, err := uow.DeleteTransactionEntries(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("delete ledger transaction_id=%d: %w", tx.ID, err)
		}
		res.EntriesRemoved = n
		if err := uow.DeleteTransaction(ctx, tx.ID); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		// Rows after the removed lot no longer fold; cost the group again.
		outcome, err := e.replay(ctx, uow, tx.Group)
		if err != nil {
			return fmt.Errorf("replay group=%s: %w", tx.Group, err)
		}
		res.Replay = &outcome
		return nil
	})
	if err != nil {
		return RemovalResult{}, err
	}
	e.logger.WithFields(logrus.Fields{
		"group":           tx.Group.String(),
		"adjustment_id":   tx.ID,
		"special":         string(tx.Special),
		"group_reset":     res.GroupReset,
		"entries_removed": res.EntriesRemoved,
		"replayed":        res.Replay != nil,
	}).Info("kardex.adjustment.removed")
	return res, nil
}

func (e *Engine) withUnitOfWork(ctx context.Context, fn func(UnitOfWork) error) error {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}
