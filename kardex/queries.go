package kardex

import (
	"context"
	"fmt"
	"time"
)

func (e *Engine) groupLedger(ctx context.Context, key GroupKey) (*Ledger, error) {
	entries, err := e.store.GroupEntries(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load ledger group=%s: %w", key, err)
	}
	return NewLedger(key, entries), nil
}

func (e *Engine) LastLedgerEntry(ctx context.Context, key GroupKey) (LedgerEntry, bool, error) {
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	entry, ok := l.Last()
	return entry, ok, nil
}

func (e *Engine) LastLedgerEntryBefore(ctx context.Context, key GroupKey, date time.Time) (LedgerEntry, bool, error) {
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	entry, ok := l.LastBefore(date)
	return entry, ok, nil
}

func (e *Engine) EntriesInRange(ctx context.Context, key GroupKey, from, to time.Time) ([]LedgerEntry, error) {
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.InRange(from, to), nil
}

func (e *Engine) Groups(ctx context.Context) ([]GroupKey, error) {
	return e.store.Groups(ctx)
}

func (e *Engine) Balance(ctx context.Context, key GroupKey) (GroupBalance, bool, error) {
	return e.store.GroupBalance(ctx, key)
}

func (e *Engine) DailyBalances(ctx context.Context, key GroupKey, from, to time.Time) ([]DailyBalance, error) {
	return e.store.DailyBalances(ctx, key, from, to)
}

// VerifyGroup re-derives the group's running totals from scratch.
func (e *Engine) VerifyGroup(ctx context.Context, key GroupKey) error {
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return err
	}
	if err := Verify(l.Entries(), e.settings.Epsilon); err != nil {
		return &GroupError{Group: key, Err: err}
	}
	return nil
}

func (e *Engine) Summary(ctx context.Context, key GroupKey, from, to time.Time) (GroupSummary, error) {
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return GroupSummary{}, err
	}
	return Summarize(key, l.Entries(), from, to), nil
}

// UnrealizedGain values the position on date with the last snapshot on or before it.
func (e *Engine) UnrealizedGain(ctx context.Context, key GroupKey, date time.Time) (Valuation, error) {
	snap, ok, err := e.store.SnapshotOnOrBefore(ctx, key, date)
	if err != nil {
		return Valuation{}, fmt.Errorf("load snapshot group=%s: %w", key, err)
	}
	if !ok {
		return Valuation{}, fmt.Errorf("%w: group=%s date=%s", ErrNoSnapshot, key, date.Format("2006-01-02"))
	}
	l, err := e.groupLedger(ctx, key)
	if err != nil {
		return Valuation{}, err
	}
	entry, hasEntry := l.LastOnOrBefore(date)
	return Value(key, date, entry, hasEntry, snap), nil
}
