package kardex_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testKey = kardex.GroupKey{CompanyID: 1, Account: "CUST-001", CustodianID: 7, InstrumentID: 42}

type fixture struct {
	store     *memstore.Store
	engine    *kardex.Engine
	buy       kardex.MovementType
	sell      kardex.MovementType
	other     kardex.MovementType
	opening   kardex.MovementType
	balancing kardex.MovementType
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	withoutTolerance bool
	engineOpts       []kardex.Option
}

func withoutToleranceType() fixtureOption {
	return func(c *fixtureConfig) { c.withoutTolerance = true }
}

func withEngineOptions(opts ...kardex.Option) fixtureOption {
	return func(c *fixtureConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var cfg fixtureConfig
	for _, o := range opts {
		o(&cfg)
	}
	s := memstore.New()
	f := &fixture{
		store:     s,
		buy:       s.AddMovementType(kardex.MovementType{Name: "COMPRA", Kind: kardex.MovementIngress}),
		sell:      s.AddMovementType(kardex.MovementType{Name: "VENTA", Kind: kardex.MovementEgress}),
		other:     s.AddMovementType(kardex.MovementType{Name: "DIVIDENDO", Kind: kardex.MovementOther}),
		opening:   s.AddMovementType(kardex.MovementType{Name: "SALDO INICIAL", Kind: kardex.MovementIngress, Special: kardex.SpecialOpeningBalance}),
		balancing: s.AddMovementType(kardex.MovementType{Name: "AJUSTE CUADRATURA", Kind: kardex.MovementIngress, Special: kardex.SpecialBalancingAdjustment}),
	}
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE INGRESO", Kind: kardex.MovementIngress, Special: kardex.SpecialManualAdjustmentIn})
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE EGRESO", Kind: kardex.MovementEgress, Special: kardex.SpecialManualAdjustmentOut})
	if !cfg.withoutTolerance {
		s.AddMovementType(kardex.MovementType{Name: "AJUSTE AUTO TOLERANCIA", Kind: kardex.MovementIngress, Special: kardex.SpecialToleranceAdjustment})
	}
	f.engine = kardex.NewEngine(s, cfg.engineOpts...)
	return f
}

func (f *fixture) add(t *testing.T, key kardex.GroupKey, mt kardex.MovementType, date, qty, price string) kardex.Transaction {
	t.Helper()
	tx, err := f.store.CreateTransaction(context.Background(), kardex.Transaction{
		Group:          key,
		Date:           day(date),
		MovementTypeID: mt.ID,
		Quantity:       dec(qty),
		UnitPrice:      dec(price),
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) tx(t *testing.T, id int64) kardex.Transaction {
	t.Helper()
	tx, ok, err := f.store.Transaction(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "transaction %d not found", id)
	return tx
}

func (f *fixture) entries(t *testing.T, key kardex.GroupKey) []kardex.LedgerEntry {
	t.Helper()
	entries, err := f.store.GroupEntries(context.Background(), key)
	require.NoError(t, err)
	return entries
}

func (f *fixture) run(t *testing.T) kardex.RunReport {
	t.Helper()
	report, err := f.engine.RunFullCosting(context.Background())
	require.NoError(t, err)
	return report
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func egressRows(entries []kardex.LedgerEntry, txID int64) []kardex.LedgerEntry {
	var out []kardex.LedgerEntry
	for _, e := range entries {
		if e.TransactionID == txID && !e.IsIngress() {
			out = append(out, e)
		}
	}
	return out
}

// failingStore fails AppendEntries inside units of work.
type failingStore struct {
	*memstore.Store
}

func (s failingStore) Begin(ctx context.Context) (kardex.UnitOfWork, error) {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingUnitOfWork{UnitOfWork: uow}, nil
}

type failingUnitOfWork struct {
	kardex.UnitOfWork
}

var errAppendFailed = errors.New("append failed")

func (failingUnitOfWork) AppendEntries(context.Context, []kardex.LedgerEntry) error {
	return errAppendFailed
}

// ledgerLines renders entries field by field so ledgers can be compared by value.
func ledgerLines(entries []kardex.LedgerEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		lot := ""
		if e.LotAcquisitionDate != nil {
			lot = e.LotAcquisitionDate.Format("2006-01-02")
		}
		out = append(out, fmt.Sprintf("%s #%d tx=%d %s %s in=%s@%s out=%s@%s lot=%d/%s px=%s res=%s run=%s/%s",
			e.Group, e.Sequence, e.TransactionID, e.Date.Format("2006-01-02"), e.Kind,
			e.AcquiredQuantity, e.AcquiredUnitCost, e.ConsumedQuantity, e.ConsumedUnitCost,
			e.LotSequence, lot, e.DisposalUnitPrice, e.RealizedResult, e.RunningQuantity, e.RunningTotalCost))
	}
	return out
}
