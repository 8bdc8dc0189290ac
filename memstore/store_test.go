package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = kardex.GroupKey{CompanyID: 1, Account: "A-1", CustodianID: 2, InstrumentID: 3}

func seed(t *testing.T) (*Store, kardex.MovementType) {
	t.Helper()
	s := New()
	buy := s.AddMovementType(kardex.MovementType{Name: "COMPRA", Kind: kardex.MovementIngress})
	return s, buy
}

func TestUnitOfWorkIsolatedUntilCommit(t *testing.T) {
	ctx := context.Background()
	s, buy := seed(t)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	tx, err := uow.CreateTransaction(ctx, kardex.Transaction{Group: key, Date: time.Now(), MovementTypeID: buy.ID, Quantity: decimal.NewFromInt(5)})
	require.NoError(t, err)

	_, ok, err := s.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, uow.Commit())
	got, ok, err := s.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kardex.MovementIngress, got.Kind)
	assert.Equal(t, kardex.SpecialNone, got.Special)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s, buy := seed(t)
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.CreateTransaction(ctx, kardex.Transaction{Group: key, Date: time.Now(), MovementTypeID: buy.ID, Quantity: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.NoError(t, uow.Rollback())

	txs, err := s.GroupTransactions(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCommitRefusedAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s, buy := seed(t)
	uow, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = s.CreateTransaction(ctx, kardex.Transaction{Group: key, Date: time.Now(), MovementTypeID: buy.ID, Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)

	require.ErrorIs(t, uow.Commit(), kardex.ErrConcurrentModification)
}

func TestCreateTransactionSignsQuantity(t *testing.T) {
	ctx := context.Background()
	s := New()
	sell := s.AddMovementType(kardex.MovementType{Name: "VENTA", Kind: kardex.MovementEgress})
	tx, err := s.CreateTransaction(ctx, kardex.Transaction{Group: key, Date: time.Now(), MovementTypeID: sell.ID, Quantity: decimal.NewFromInt(4)})
	require.NoError(t, err)
	assert.True(t, tx.Quantity.Equal(decimal.NewFromInt(-4)))

	_, err = s.CreateTransaction(ctx, kardex.Transaction{Group: key, MovementTypeID: 999})
	require.Error(t, err)
}

func TestSnapshotOnOrBefore(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, d := range []string{"2024-01-01", "2024-01-15", "2024-02-01"} {
		date, _ := time.Parse("2006-01-02", d)
		require.NoError(t, s.SaveSnapshot(ctx, kardex.BalanceSnapshot{Group: key, Date: date, Quantity: decimal.NewFromInt(1)}))
	}
	at, _ := time.Parse("2006-01-02", "2024-01-20")
	snap, ok, err := s.SnapshotOnOrBefore(ctx, key, at)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-15", snap.Date.Format("2006-01-02"))

	early, _ := time.Parse("2006-01-02", "2023-12-31")
	_, ok, err = s.SnapshotOnOrBefore(ctx, key, early)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteTransactionEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendEntries(ctx, []kardex.LedgerEntry{
		{Group: key, Sequence: 1, TransactionID: 10},
		{Group: key, Sequence: 2, TransactionID: 11},
		{Group: key, Sequence: 3, TransactionID: 11},
	}))
	n, err := s.DeleteTransactionEntries(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	entries, err := s.GroupEntries(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].TransactionID)
}
