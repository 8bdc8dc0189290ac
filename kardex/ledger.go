package kardex

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the in-memory kardex of one group. Append is the only mutator and the
// running totals of entry n are always entry n-1 plus the effect of entry n.
type Ledger struct {
	group   GroupKey
	entries []LedgerEntry
}

// NewLedger seeds a ledger from persisted entries, sorted by sequence.
func NewLedger(group GroupKey, existing []LedgerEntry) *Ledger {
	entries := make([]LedgerEntry, len(existing))
	copy(entries, existing)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return &Ledger{group: group, entries: entries}
}

func (l *Ledger) Group() GroupKey { return l.group }

func (l *Ledger) Len() int { return len(l.entries) }

// Append assigns the next sequence and folds the running totals.
func (l *Ledger) Append(e LedgerEntry) LedgerEntry {
	runningQty, runningCost := decimal.Zero, decimal.Zero
	next := 1
	if last, ok := l.Last(); ok {
		runningQty, runningCost = last.RunningQuantity, last.RunningTotalCost
		next = last.Sequence + 1
	}
	dq, dc := e.effect()
	e.Group = l.group
	e.Sequence = next
	e.RunningQuantity = runningQty.Add(dq)
	e.RunningTotalCost = runningCost.Add(dc)
	l.entries = append(l.entries, e)
	return e
}

func (l *Ledger) Last() (LedgerEntry, bool) {
	if len(l.entries) == 0 {
		return LedgerEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// LastBefore is the last entry dated strictly before date.
func (l *Ledger) LastBefore(date time.Time) (LedgerEntry, bool) {
	return lastEntryWhere(l.entries, func(e LedgerEntry) bool { return e.Date.Before(date) })
}

func (l *Ledger) LastOnOrBefore(date time.Time) (LedgerEntry, bool) {
	return lastEntryWhere(l.entries, func(e LedgerEntry) bool { return !e.Date.After(date) })
}

// InRange returns entries with from <= date <= to. A zero bound is open.
func (l *Ledger) InRange(from, to time.Time) []LedgerEntry {
	return FilterRange(l.entries, from, to)
}

func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns entries with a sequence greater than seq.
func (l *Ledger) Since(seq int) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range l.entries {
		if e.Sequence > seq {
			out = append(out, e)
		}
	}
	return out
}

func (l *Ledger) Lots() *LotQueue {
	return RebuildLots(l.entries)
}

func (l *Ledger) Balance() (GroupBalance, bool) {
	last, ok := l.Last()
	if !ok {
		return GroupBalance{}, false
	}
	return GroupBalance{
		Group:        l.group,
		Quantity:     last.RunningQuantity,
		TotalCost:    last.RunningTotalCost,
		AverageCost:  roundPrice(last.AverageCost()),
		LastDate:     last.Date,
		LastSequence: last.Sequence,
	}, true
}

func lastEntryWhere(entries []LedgerEntry, match func(LedgerEntry) bool) (LedgerEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if match(entries[i]) {
			return entries[i], true
		}
	}
	return LedgerEntry{}, false
}

func FilterRange(entries []LedgerEntry, from, to time.Time) []LedgerEntry {
	var out []LedgerEntry
	for _, e := range entries {
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		if !to.IsZero() && e.Date.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RebuildLots reconstructs the open lot queue from ingress entries and the
// consumption rows that reference them.
func RebuildLots(entries []LedgerEntry) *LotQueue {
	sorted := make([]LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	remaining := make(map[int]*Lot)
	var order []int
	for _, e := range sorted {
		if e.IsIngress() {
			remaining[e.Sequence] = &Lot{
				Sequence:          e.Sequence,
				TransactionID:     e.TransactionID,
				AcquisitionDate:   e.Date,
				RemainingQuantity: e.AcquiredQuantity,
				UnitCost:          e.AcquiredUnitCost,
			}
			order = append(order, e.Sequence)
			continue
		}
		if lot, ok := remaining[e.LotSequence]; ok {
			lot.RemainingQuantity = lot.RemainingQuantity.Sub(e.ConsumedQuantity)
		}
	}
	q := &LotQueue{}
	for _, seq := range order {
		q.Push(*remaining[seq])
	}
	return q
}

// Verify re-derives the fold from scratch and compares it against the stored
// running totals. Differences up to epsilon are accepted.
func Verify(entries []LedgerEntry, epsilon decimal.Decimal) error {
	sorted := make([]LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	runningQty, runningCost := decimal.Zero, decimal.Zero
	lots := make(map[int]decimal.Decimal)
	negEpsilon := epsilon.Neg()
	for i, e := range sorted {
		if e.Sequence != i+1 {
			return fmt.Errorf("%w: sequence=%d expected=%d", ErrLedgerMismatch, e.Sequence, i+1)
		}
		if e.IsIngress() {
			lots[e.Sequence] = e.AcquiredQuantity
		} else if e.ConsumedQuantity.IsPositive() {
			left, ok := lots[e.LotSequence]
			if !ok {
				return fmt.Errorf("%w: sequence=%d consumes unknown lot=%d", ErrLedgerMismatch, e.Sequence, e.LotSequence)
			}
			left = left.Sub(e.ConsumedQuantity)
			if left.LessThan(negEpsilon) {
				return fmt.Errorf("%w: sequence=%d overdraws lot=%d by %s", ErrLedgerMismatch, e.Sequence, e.LotSequence, left.Neg())
			}
			lots[e.LotSequence] = left
		}
		dq, dc := e.effect()
		runningQty = runningQty.Add(dq)
		runningCost = runningCost.Add(dc)
		if runningQty.Sub(e.RunningQuantity).Abs().GreaterThan(epsilon) {
			return fmt.Errorf("%w: sequence=%d running_quantity=%s derived=%s", ErrLedgerMismatch, e.Sequence, e.RunningQuantity, runningQty)
		}
		if runningCost.Sub(e.RunningTotalCost).Abs().GreaterThan(epsilon) {
			return fmt.Errorf("%w: sequence=%d running_total_cost=%s derived=%s", ErrLedgerMismatch, e.Sequence, e.RunningTotalCost, runningCost)
		}
		if runningQty.LessThan(negEpsilon) || runningCost.LessThan(negEpsilon) {
			return fmt.Errorf("%w: sequence=%d quantity=%s total_cost=%s", ErrNegativeBalance, e.Sequence, runningQty, runningCost)
		}
	}
	return nil
}
