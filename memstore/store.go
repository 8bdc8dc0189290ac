// Package memstore is an in-memory kardex.Store. Units of work operate on a
// private copy of the state and commit by swapping it in, refusing the commit
// when another writer committed first.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
)

type state struct {
	nextID        int64
	movementTypes map[int64]kardex.MovementType
	transactions  map[int64]kardex.Transaction
	entries       map[kardex.GroupKey][]kardex.LedgerEntry
	balances      map[kardex.GroupKey]kardex.GroupBalance
	daily         map[kardex.GroupKey]map[time.Time]kardex.DailyBalance
	snapshots     []kardex.BalanceSnapshot
}

func newState() *state {
	return &state{
		movementTypes: make(map[int64]kardex.MovementType),
		transactions:  make(map[int64]kardex.Transaction),
		entries:       make(map[kardex.GroupKey][]kardex.LedgerEntry),
		balances:      make(map[kardex.GroupKey]kardex.GroupBalance),
		daily:         make(map[kardex.GroupKey]map[time.Time]kardex.DailyBalance),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.movementTypes {
		c.movementTypes[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]kardex.LedgerEntry(nil), v...)
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.daily {
		m := make(map[time.Time]kardex.DailyBalance, len(v))
		for d, b := range v {
			m[d] = b
		}
		c.daily[k] = m
	}
	c.snapshots = append([]kardex.BalanceSnapshot(nil), s.snapshots...)
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	version int64
	data    *state
}

func New() *Store {
	return &Store{data: newState()}
}

// AddMovementType registers a movement type and returns it with its id.
func (s *Store) AddMovementType(mt kardex.MovementType) kardex.MovementType {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextID++
	mt.ID = s.data.nextID
	if mt.Special == "" {
		mt.Special = kardex.SpecialNone
	}
	s.data.movementTypes[mt.ID] = mt
	s.version++
	return mt
}

func (s *Store) read(fn func(*repo) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&repo{data: s.data})
}

func (s *Store) write(fn func(*repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&repo{data: work}); err != nil {
		return err
	}
	s.data = work
	s.version++
	return nil
}

func (s *Store) Begin(ctx context.Context) (kardex.UnitOfWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &unitOfWork{repo: repo{data: s.data.clone()}, store: s, base: s.version}, nil
}

type unitOfWork struct {
	repo
	store *Store
	base  int64
	done  bool
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("memstore: unit of work already finished")
	}
	u.done = true
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if u.store.version != u.base {
		return fmt.Errorf("%w: store changed since the unit of work began", kardex.ErrConcurrentModification)
	}
	u.store.data = u.data
	u.store.version++
	return nil
}

func (u *unitOfWork) Rollback() error {
	u.done = true
	return nil
}

// Committed reads go straight to the current state. Writes outside a unit of
// work commit immediately.

func (s *Store) MovementTypeBySpecial(ctx context.Context, special kardex.SpecialKind) (mt kardex.MovementType, ok bool, err error) {
	err = s.read(func(r *repo) error {
		mt, ok, err = r.MovementTypeBySpecial(ctx, special)
		return err
	})
	return
}

func (s *Store) Transaction(ctx context.Context, id int64) (tx kardex.Transaction, ok bool, err error) {
	err = s.read(func(r *repo) error {
		tx, ok, err = r.Transaction(ctx, id)
		return err
	})
	return
}

func (s *Store) UncostedTransactions(ctx context.Context) (txs []kardex.Transaction, err error) {
	err = s.read(func(r *repo) error {
		txs, err = r.UncostedTransactions(ctx)
		return err
	})
	return
}

func (s *Store) GroupTransactions(ctx context.Context, key kardex.GroupKey) (txs []kardex.Transaction, err error) {
	err = s.read(func(r *repo) error {
		txs, err = r.GroupTransactions(ctx, key)
		return err
	})
	return
}

func (s *Store) Groups(ctx context.Context) (keys []kardex.GroupKey, err error) {
	err = s.read(func(r *repo) error {
		keys, err = r.Groups(ctx)
		return err
	})
	return
}

func (s *Store) CreateTransaction(ctx context.Context, tx kardex.Transaction) (created kardex.Transaction, err error) {
	err = s.write(func(r *repo) error {
		created, err = r.CreateTransaction(ctx, tx)
		return err
	})
	return
}

func (s *Store) MarkCosted(ctx context.Context, ids []int64) error {
	return s.write(func(r *repo) error { return r.MarkCosted(ctx, ids) })
}

func (s *Store) FlagForReview(ctx context.Context, id int64, reason kardex.ReviewReason, note string) error {
	return s.write(func(r *repo) error { return r.FlagForReview(ctx, id, reason, note) })
}

func (s *Store) ClearReview(ctx context.Context, ids []int64) error {
	return s.write(func(r *repo) error { return r.ClearReview(ctx, ids) })
}

func (s *Store) ResetGroupFlags(ctx context.Context, key kardex.GroupKey, clearNotes bool) error {
	return s.write(func(r *repo) error { return r.ResetGroupFlags(ctx, key, clearNotes) })
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	return s.write(func(r *repo) error { return r.DeleteTransaction(ctx, id) })
}

func (s *Store) GroupEntries(ctx context.Context, key kardex.GroupKey) (entries []kardex.LedgerEntry, err error) {
	err = s.read(func(r *repo) error {
		entries, err = r.GroupEntries(ctx, key)
		return err
	})
	return
}

func (s *Store) AppendEntries(ctx context.Context, entries []kardex.LedgerEntry) error {
	return s.write(func(r *repo) error { return r.AppendEntries(ctx, entries) })
}

func (s *Store) DeleteGroupEntries(ctx context.Context, key kardex.GroupKey) error {
	return s.write(func(r *repo) error { return r.DeleteGroupEntries(ctx, key) })
}

func (s *Store) DeleteTransactionEntries(ctx context.Context, transactionID int64) (n int, err error) {
	err = s.write(func(r *repo) error {
		n, err = r.DeleteTransactionEntries(ctx, transactionID)
		return err
	})
	return
}

func (s *Store) GroupBalance(ctx context.Context, key kardex.GroupKey) (b kardex.GroupBalance, ok bool, err error) {
	err = s.read(func(r *repo) error {
		b, ok, err = r.GroupBalance(ctx, key)
		return err
	})
	return
}

func (s *Store) SaveGroupBalance(ctx context.Context, balance kardex.GroupBalance) error {
	return s.write(func(r *repo) error { return r.SaveGroupBalance(ctx, balance) })
}

func (s *Store) DailyBalances(ctx context.Context, key kardex.GroupKey, from, to time.Time) (out []kardex.DailyBalance, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.DailyBalances(ctx, key, from, to)
		return err
	})
	return
}

func (s *Store) SaveDailyBalances(ctx context.Context, balances []kardex.DailyBalance) error {
	return s.write(func(r *repo) error { return r.SaveDailyBalances(ctx, balances) })
}

func (s *Store) DeleteGroupBalances(ctx context.Context, key kardex.GroupKey) error {
	return s.write(func(r *repo) error { return r.DeleteGroupBalances(ctx, key) })
}

func (s *Store) SnapshotOnOrBefore(ctx context.Context, key kardex.GroupKey, date time.Time) (snap kardex.BalanceSnapshot, ok bool, err error) {
	err = s.read(func(r *repo) error {
		snap, ok, err = r.SnapshotOnOrBefore(ctx, key, date)
		return err
	})
	return
}

func (s *Store) SaveSnapshot(ctx context.Context, snapshot kardex.BalanceSnapshot) error {
	return s.write(func(r *repo) error { return r.SaveSnapshot(ctx, snapshot) })
}

// repo implements kardex.Repository over one state value.
type repo struct {
	data *state
}

func (r *repo) MovementTypeBySpecial(_ context.Context, special kardex.SpecialKind) (kardex.MovementType, bool, error) {
	ids := make([]int64, 0, len(r.data.movementTypes))
	for id := range r.data.movementTypes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if mt := r.data.movementTypes[id]; mt.Special == special {
			return mt, true, nil
		}
	}
	return kardex.MovementType{}, false, nil
}

func (r *repo) Transaction(_ context.Context, id int64) (kardex.Transaction, bool, error) {
	tx, ok := r.data.transactions[id]
	return tx, ok, nil
}

func (r *repo) sorted(keep func(kardex.Transaction) bool) []kardex.Transaction {
	var out []kardex.Transaction
	for _, tx := range r.data.transactions {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *repo) UncostedTransactions(context.Context) ([]kardex.Transaction, error) {
	return r.sorted(func(tx kardex.Transaction) bool {
		return tx.IsCostable() && !tx.Costed && !tx.NeedsReview
	}), nil
}

func (r *repo) GroupTransactions(_ context.Context, key kardex.GroupKey) ([]kardex.Transaction, error) {
	return r.sorted(func(tx kardex.Transaction) bool { return tx.Group == key }), nil
}

func (r *repo) Groups(context.Context) ([]kardex.GroupKey, error) {
	seen := make(map[kardex.GroupKey]bool)
	var keys []kardex.GroupKey
	for _, tx := range r.data.transactions {
		if !seen[tx.Group] {
			seen[tx.Group] = true
			keys = append(keys, tx.Group)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

func (r *repo) CreateTransaction(_ context.Context, tx kardex.Transaction) (kardex.Transaction, error) {
	mt, ok := r.data.movementTypes[tx.MovementTypeID]
	if !ok {
		return kardex.Transaction{}, fmt.Errorf("memstore: movement type %d does not exist", tx.MovementTypeID)
	}
	if err := tx.Group.Validate(); err != nil {
		return kardex.Transaction{}, err
	}
	r.data.nextID++
	tx.ID = r.data.nextID
	tx.MovementName = mt.Name
	tx.Kind = mt.Kind
	tx.Special = mt.Special
	tx.Date = kardex.NormalizeDate(tx.Date)
	switch mt.Kind {
	case kardex.MovementIngress:
		tx.Quantity = tx.Quantity.Abs()
	case kardex.MovementEgress:
		tx.Quantity = tx.Quantity.Abs().Neg()
	}
	r.data.transactions[tx.ID] = tx
	return tx, nil
}

func (r *repo) update(id int64, fn func(*kardex.Transaction)) error {
	tx, ok := r.data.transactions[id]
	if !ok {
		return fmt.Errorf("%w: id=%d", kardex.ErrTransactionNotFound, id)
	}
	fn(&tx)
	r.data.transactions[id] = tx
	return nil
}

func (r *repo) MarkCosted(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if err := r.update(id, func(tx *kardex.Transaction) { tx.Costed = true }); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FlagForReview(_ context.Context, id int64, reason kardex.ReviewReason, note string) error {
	return r.update(id, func(tx *kardex.Transaction) {
		tx.Costed = false
		tx.NeedsReview = true
		tx.ReviewReason = reason
		tx.Note = note
	})
}

func (r *repo) ClearReview(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if err := r.update(id, func(tx *kardex.Transaction) {
			tx.NeedsReview = false
			tx.ReviewReason = kardex.ReviewNone
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ResetGroupFlags(_ context.Context, key kardex.GroupKey, clearNotes bool) error {
	for id, tx := range r.data.transactions {
		if tx.Group != key {
			continue
		}
		tx.Costed = false
		tx.NeedsReview = false
		tx.ReviewReason = kardex.ReviewNone
		if clearNotes {
			tx.Note = ""
		}
		r.data.transactions[id] = tx
	}
	return nil
}

func (r *repo) DeleteTransaction(_ context.Context, id int64) error {
	if _, ok := r.data.transactions[id]; !ok {
		return fmt.Errorf("%w: id=%d", kardex.ErrTransactionNotFound, id)
	}
	delete(r.data.transactions, id)
	return nil
}

func (r *repo) GroupEntries(_ context.Context, key kardex.GroupKey) ([]kardex.LedgerEntry, error) {
	return append([]kardex.LedgerEntry(nil), r.data.entries[key]...), nil
}

func (r *repo) AppendEntries(_ context.Context, entries []kardex.LedgerEntry) error {
	for _, e := range entries {
		r.data.entries[e.Group] = append(r.data.entries[e.Group], e)
	}
	return nil
}

func (r *repo) DeleteGroupEntries(_ context.Context, key kardex.GroupKey) error {
	delete(r.data.entries, key)
	return nil
}

func (r *repo) DeleteTransactionEntries(_ context.Context, transactionID int64) (int, error) {
	removed := 0
	for key, entries := range r.data.entries {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.TransactionID == transactionID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		r.data.entries[key] = kept
	}
	return removed, nil
}

func (r *repo) GroupBalance(_ context.Context, key kardex.GroupKey) (kardex.GroupBalance, bool, error) {
	b, ok := r.data.balances[key]
	return b, ok, nil
}

func (r *repo) SaveGroupBalance(_ context.Context, balance kardex.GroupBalance) error {
	r.data.balances[balance.Group] = balance
	return nil
}

func (r *repo) DailyBalances(_ context.Context, key kardex.GroupKey, from, to time.Time) ([]kardex.DailyBalance, error) {
	var out []kardex.DailyBalance
	for d, b := range r.data.daily[key] {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *repo) SaveDailyBalances(_ context.Context, balances []kardex.DailyBalance) error {
	for _, b := range balances {
		m, ok := r.data.daily[b.Group]
		if !ok {
			m = make(map[time.Time]kardex.DailyBalance)
			r.data.daily[b.Group] = m
		}
		m[kardex.NormalizeDate(b.Date)] = b
	}
	return nil
}

func (r *repo) DeleteGroupBalances(_ context.Context, key kardex.GroupKey) error {
	delete(r.data.balances, key)
	delete(r.data.daily, key)
	return nil
}

func (r *repo) SnapshotOnOrBefore(_ context.Context, key kardex.GroupKey, date time.Time) (kardex.BalanceSnapshot, bool, error) {
	var (
		best  kardex.BalanceSnapshot
		found bool
	)
	for _, s := range r.data.snapshots {
		if s.Group != key || s.Date.After(date) {
			continue
		}
		if !found || s.Date.After(best.Date) {
			best, found = s, true
		}
	}
	return best, found, nil
}

func (r *repo) SaveSnapshot(_ context.Context, snapshot kardex.BalanceSnapshot) error {
	snapshot.Date = kardex.NormalizeDate(snapshot.Date)
	for i, s := range r.data.snapshots {
		if s.Group == snapshot.Group && s.Date.Equal(snapshot.Date) {
			r.data.snapshots[i] = snapshot
			return nil
		}
	}
	r.data.snapshots = append(r.data.snapshots, snapshot)
	return nil
}

var (
	_ kardex.Store      = (*Store)(nil)
	_ kardex.UnitOfWork = (*unitOfWork)(nil)
)
