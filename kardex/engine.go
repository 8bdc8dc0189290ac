package kardex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine is the FIFO costing engine. It holds no per-group state between calls.
type Engine struct {
	store    Store
	settings Settings
	locker   GroupLocker
	logger   *logrus.Logger
	observer func(GroupKey, RecostState)
	now      func() time.Time
}

type Option func(*Engine)

func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithLocker installs the per-group mutual exclusion of the orchestration layer.
func WithLocker(l GroupLocker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecostObserver is called on every re-cost state transition.
func WithRecostObserver(fn func(GroupKey, RecostState)) Option {
	return func(e *Engine) { e.observer = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	e := &Engine{
		store:    store,
		settings: DefaultSettings(),
		locker:   noopLocker{},
		logger:   discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() Settings { return e.settings }

// GroupFailure is a group that was rolled back during a run.
type GroupFailure struct {
	Group  GroupKey `json:"group"`
	Reason string   `json:"reason"`
	err    error
}

func (f GroupFailure) Err() error { return f.err }

type RunReport struct {
	RunID        string         `json:"run_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Succeeded    []GroupOutcome `json:"succeeded"`
	Failed       []GroupFailure `json:"failed"`
	NotAttempted []GroupKey     `json:"not_attempted,omitempty"`
}

// Err is nil when every group of the run committed.
func (r RunReport) Err() error {
	if len(r.Failed) == 0 && len(r.NotAttempted) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, &GroupError{Group: f.Group, Err: f.err})
	}
	return fmt.Errorf("costing run: %d groups succeeded, %d failed, %d not attempted: %w",
		len(r.Succeeded), len(r.Failed), len(r.NotAttempted), errors.Join(errs...))
}

// RunFullCosting costs every uncosted transaction, one unit of work per group.
// A missing configuration aborts the run and leaves the remaining groups untouched.
func (e *Engine) RunFullCosting(ctx context.Context) (RunReport, error) {
	report := RunReport{StartedAt: e.now()}
	uncosted, err := e.store.UncostedTransactions(ctx)
	if err != nil {
		return report, fmt.Errorf("load uncosted transactions: %w", err)
	}
	batches := partition(uncosted)
	keys := make([]GroupKey, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	e.logger.WithFields(logrus.Fields{
		"groups":       len(keys),
		"transactions": len(uncosted),
	}).Info("kardex.run.start")

	for i, key := range keys {
		if ctx.Err() != nil {
			report.NotAttempted = append(report.NotAttempted, keys[i:]...)
			break
		}
		outcome, err := e.costGroup(ctx, key, batches[key])
		if err != nil {
			report.Failed = append(report.Failed, GroupFailure{Group: key, Reason: err.Error(), err: err})
			e.logger.WithFields(logrus.Fields{
				"group": key.String(),
			}).Error("kardex.group.failed: " + err.Error())
			if errors.Is(err, ErrMissingConfiguration) {
				report.NotAttempted = append(report.NotAttempted, keys[i+1:]...)
				break
			}
			continue
		}
		report.Succeeded = append(report.Succeeded, outcome)
	}
	report.FinishedAt = e.now()

	e.logger.WithFields(logrus.Fields{
		"succeeded":     len(report.Succeeded),
		"failed":        len(report.Failed),
		"not_attempted": len(report.NotAttempted),
	}).Info("kardex.run.done")
	return report, report.Err()
}

func partition(txs []Transaction) map[GroupKey][]Transaction {
	out := make(map[GroupKey][]Transaction)
	for _, tx := range txs {
		if !tx.IsCostable() || tx.Costed || tx.NeedsReview {
			continue
		}
		out[tx.Group] = append(out[tx.Group], tx)
	}
	return out
}

func (e *Engine) costGroup(ctx context.Context, key GroupKey, batch []Transaction) (GroupOutcome, error) {
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("lock group=%s: %w", key, err)
	}
	defer unlock()

	uow, err := e.store.Begin(ctx)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("begin group=%s: %w", key, err)
	}
	outcome, err := e.CostGroup(ctx, uow, key, batch)
	if err != nil {
		_ = uow.Rollback()
		return GroupOutcome{}, err
	}
	if err := uow.Commit(); err != nil {
		return GroupOutcome{}, fmt.Errorf("commit group=%s: %w", key, err)
	}
	return outcome, nil
}

// CostGroup costs one batch inside the caller's unit of work. A batch holding an
// opening balance or a transaction that sorts before the last costed one forces
// a full replay of the group.
func (e *Engine) CostGroup(ctx context.Context, uow Repository, key GroupKey, batch []Transaction) (GroupOutcome, error) {
	existing, err := uow.GroupEntries(ctx, key)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("load ledger group=%s: %w", key, err)
	}
	if len(existing) > 0 {
		if verr := Verify(existing, e.settings.Epsilon); verr != nil {
			e.logger.WithFields(logrus.Fields{
				"group":  key.String(),
				"reason": verr.Error(),
			}).Warn("kardex.group.replay_inconsistent")
			return e.replay(ctx, uow, key)
		}
		replay, err := e.needsReplay(ctx, uow, existing, batch)
		if err != nil {
			return GroupOutcome{}, err
		}
		if replay {
			e.logger.WithFields(logrus.Fields{"group": key.String()}).Info("kardex.group.replay")
			return e.replay(ctx, uow, key)
		}
	}
	e.logger.WithFields(logrus.Fields{
		"group":        key.String(),
		"transactions": len(batch),
	}).Info("kardex.group.start")

	outcome, err := newGroupProcessor(uow, key, existing, e.settings, e.logger).run(ctx, batch)
	if err != nil {
		return GroupOutcome{}, err
	}
	e.logOutcome(outcome)
	return outcome, nil
}

func (e *Engine) needsReplay(ctx context.Context, repo Repository, existing []LedgerEntry, batch []Transaction) (bool, error) {
	last, _ := NewLedger(GroupKey{}, existing).Last()
	lastTx, ok, err := repo.Transaction(ctx, last.TransactionID)
	if err != nil {
		return false, fmt.Errorf("load transaction_id=%d: %w", last.TransactionID, err)
	}
	if !ok {
		lastTx = Transaction{ID: last.TransactionID, Date: last.Date, Kind: last.Kind}
	}
	for _, tx := range batch {
		if !tx.IsCostable() {
			continue
		}
		if tx.IsOpeningBalance() || processingLess(tx, lastTx) {
			return true, nil
		}
	}
	return false, nil
}

// replay resets the group inside repo and costs its whole history again.
func (e *Engine) replay(ctx context.Context, repo Repository, key GroupKey) (GroupOutcome, error) {
	if err := resetGroup(ctx, repo, key, false); err != nil {
		return GroupOutcome{}, err
	}
	all, err := repo.GroupTransactions(ctx, key)
	if err != nil {
		return GroupOutcome{}, fmt.Errorf("load transactions group=%s: %w", key, err)
	}
	outcome, err := newGroupProcessor(repo, key, nil, e.settings, e.logger).run(ctx, all)
	if err != nil {
		return GroupOutcome{}, err
	}
	outcome.FullReplay = true
	e.logOutcome(outcome)
	return outcome, nil
}

func resetGroup(ctx context.Context, repo Repository, key GroupKey, clearNotes bool) error {
	if err := repo.DeleteGroupEntries(ctx, key); err != nil {
		return fmt.Errorf("delete ledger group=%s: %w", key, err)
	}
	if err := repo.DeleteGroupBalances(ctx, key); err != nil {
		return fmt.Errorf("delete balances group=%s: %w", key, err)
	}
	if err := repo.ResetGroupFlags(ctx, key, clearNotes); err != nil {
		return fmt.Errorf("reset flags group=%s: %w", key, err)
	}
	return nil
}

func (e *Engine) logOutcome(o GroupOutcome) {
	e.logger.WithFields(logrus.Fields{
		"group":       o.Group.String(),
		"full_replay": o.FullReplay,
		"processed":   o.Processed,
		"costed":      len(o.Costed),
		"flagged":     len(o.Flagged),
		"blocked":     len(o.Blocked),
		"entries":     o.EntriesAppended,
	}).Info("kardex.group.done")
}
