package kardex_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustmentRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, testKey, f.buy, "2024-01-01", "20", "10")
	sale := f.add(t, testKey, f.sell, "2024-01-02", "-50", "12")
	f.run(t)
	require.True(t, f.tx(t, sale.ID).NeedsReview)

	proposal, err := f.engine.ProposeAdjustment(ctx, sale.ID, kardex.MovementIngress)
	require.NoError(t, err)
	assert.True(t, proposal.HasPriorBalance)
	requireDec(t, "30", proposal.Quantity)
	requireDec(t, "10", proposal.UnitPrice)
	requireDec(t, "20", proposal.PriorQuantity)

	adj, err := f.engine.CommitAdjustment(ctx, kardex.AdjustmentRequest{
		ReferenceTransactionID: sale.ID,
		Kind:                   proposal.Kind,
		Quantity:               proposal.Quantity,
		UnitPrice:              proposal.UnitPrice,
	})
	require.NoError(t, err)
	assert.Equal(t, kardex.SpecialManualAdjustmentIn, adj.Special)
	assert.False(t, adj.Costed)
	assert.Equal(t, sale.ID, adj.ReferenceTransactionID)
	assert.Equal(t, proposal.Date, adj.Date)
	assert.False(t, f.tx(t, sale.ID).NeedsReview)

	f.run(t)
	got := f.tx(t, sale.ID)
	assert.True(t, got.Costed)
	assert.False(t, got.NeedsReview)
	assert.True(t, f.tx(t, adj.ID).Costed)

	rows := egressRows(f.entries(t, testKey), sale.ID)
	total := rows[0].ConsumedQuantity
	for _, r := range rows[1:] {
		total = total.Add(r.ConsumedQuantity)
	}
	requireDec(t, "50", total)
	requireDec(t, "0", rows[len(rows)-1].RunningQuantity)
}

func TestProposeIngressWithoutPriorBalance(t *testing.T) {
	f := newFixture(t)
	sale := f.add(t, testKey, f.sell, "2024-01-10", "-50", "12")
	f.run(t)

	p, err := f.engine.ProposeAdjustment(context.Background(), sale.ID, kardex.MovementIngress)
	require.NoError(t, err)
	assert.False(t, p.HasPriorBalance)
	requireDec(t, "50", p.Quantity)
	requireDec(t, "12", p.UnitPrice)
	assert.Nil(t, p.Snapshot)
}

func TestProposeIngressRoundsAverageCost(t *testing.T) {
	f := newFixture(t)
	f.add(t, testKey, f.buy, "2024-01-01", "3", "10")
	f.add(t, testKey, f.buy, "2024-01-02", "3", "11")
	f.add(t, testKey, f.buy, "2024-01-03", "3", "11")
	sale := f.add(t, testKey, f.sell, "2024-01-04", "-20", "15")
	f.run(t)

	p, err := f.engine.ProposeAdjustment(context.Background(), sale.ID, kardex.MovementIngress)
	require.NoError(t, err)
	requireDec(t, "11", p.Quantity)
	requireDec(t, "10.666667", p.UnitPrice)
}

func TestProposeEgress(t *testing.T) {
	f := newFixture(t)
	f.add(t, testKey, f.buy, "2024-01-01", "20", "10")
	ref := f.add(t, testKey, f.buy, "2024-01-05", "7", "13")
	f.run(t)

	p, err := f.engine.ProposeAdjustment(context.Background(), ref.ID, kardex.MovementEgress)
	require.NoError(t, err)
	requireDec(t, "7", p.Quantity)
	requireDec(t, "13", p.UnitPrice)
}

func TestProposeCarriesSnapshotBeforeReferenceDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.add(t, testKey, f.sell, "2024-01-10", "-50", "12")
	for _, s := range []kardex.BalanceSnapshot{
		{Group: testKey, Date: day("2024-01-08"), Quantity: dec("48"), MarketPrice: dec("11")},
		{Group: testKey, Date: day("2024-01-10"), Quantity: dec("0"), MarketPrice: dec("12")},
	} {
		require.NoError(t, f.store.SaveSnapshot(ctx, s))
	}

	p, err := f.engine.ProposeAdjustment(ctx, sale.ID, kardex.MovementIngress)
	require.NoError(t, err)
	require.NotNil(t, p.Snapshot)
	assert.Equal(t, day("2024-01-08"), p.Snapshot.Date)
	requireDec(t, "48", p.Snapshot.Quantity)
}

func TestProposeRejectsUnknownInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.ProposeAdjustment(ctx, 999, kardex.MovementIngress)
	require.ErrorIs(t, err, kardex.ErrTransactionNotFound)

	sale := f.add(t, testKey, f.sell, "2024-01-10", "-1", "1")
	_, err = f.engine.ProposeAdjustment(ctx, sale.ID, kardex.MovementOther)
	require.ErrorIs(t, err, kardex.ErrInvalidAdjustment)
}

func TestCommitAdjustmentValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.add(t, testKey, f.sell, "2024-01-10", "-1", "1")

	cases := map[string]kardex.AdjustmentRequest{
		"zero quantity":  {ReferenceTransactionID: sale.ID, Kind: kardex.MovementIngress, Quantity: dec("0"), UnitPrice: dec("1")},
		"negative price": {ReferenceTransactionID: sale.ID, Kind: kardex.MovementIngress, Quantity: dec("1"), UnitPrice: dec("-1")},
		"bad kind":       {ReferenceTransactionID: sale.ID, Kind: kardex.MovementOther, Quantity: dec("1"), UnitPrice: dec("1")},
		"missing ref":    {Kind: kardex.MovementIngress, Quantity: dec("1"), UnitPrice: dec("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.CommitAdjustment(ctx, req)
			require.ErrorIs(t, err, kardex.ErrInvalidAdjustment)
		})
	}
}

func TestCommitEgressAdjustmentIsNegative(t *testing.T) {
	f := newFixture(t)
	ref := f.add(t, testKey, f.buy, "2024-01-05", "7", "13")
	adj, err := f.engine.CommitAdjustment(context.Background(), kardex.AdjustmentRequest{
		ReferenceTransactionID: ref.ID,
		Kind:                   kardex.MovementEgress,
		Quantity:               dec("2"),
		UnitPrice:              dec("13"),
	})
	require.NoError(t, err)
	assert.Equal(t, kardex.MovementEgress, adj.Kind)
	requireDec(t, "-2", adj.Quantity)
}

func TestRemoveFoundationalAdjustmentResetsGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opening := f.add(t, testKey, f.opening, "2024-01-01", "100", "10")
	sale := f.add(t, testKey, f.sell, "2024-01-05", "-30", "12")
	short := f.add(t, testKey, f.sell, "2024-01-06", "-500", "12")
	f.run(t)
	require.True(t, f.tx(t, short.ID).NeedsReview)

	res, err := f.engine.RemoveAdjustment(ctx, opening.ID)
	require.NoError(t, err)
	assert.True(t, res.GroupReset)
	assert.Equal(t, 2, res.EntriesRemoved)

	_, ok, err := f.store.Transaction(ctx, opening.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	for _, id := range []int64{sale.ID, short.ID} {
		tx := f.tx(t, id)
		assert.False(t, tx.Costed)
		assert.False(t, tx.NeedsReview)
		assert.Empty(t, tx.Note)
	}
	assert.Empty(t, f.entries(t, testKey))
	_, ok, err = f.store.GroupBalance(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveBalancingAdjustmentResetsGroup(t *testing.T) {
	f := newFixture(t)
	balancing := f.add(t, testKey, f.balancing, "2024-01-01", "5", "10")
	f.run(t)
	res, err := f.engine.RemoveAdjustment(context.Background(), balancing.ID)
	require.NoError(t, err)
	assert.True(t, res.GroupReset)
}

func TestRemoveManualAdjustmentOnlyRemovesItsRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buy := f.add(t, testKey, f.buy, "2024-01-01", "10", "10")
	ref := f.add(t, testKey, f.buy, "2024-01-02", "5", "10")
	adj, err := f.engine.CommitAdjustment(ctx, kardex.AdjustmentRequest{
		ReferenceTransactionID: ref.ID,
		Kind:                   kardex.MovementIngress,
		Quantity:               dec("2"),
		UnitPrice:              dec("10"),
	})
	require.NoError(t, err)
	f.run(t)
	require.Len(t, f.entries(t, testKey), 3)

	res, err := f.engine.RemoveAdjustment(ctx, adj.ID)
	require.NoError(t, err)
	assert.False(t, res.GroupReset)
	assert.Equal(t, 1, res.EntriesRemoved)
	require.NotNil(t, res.Replay)

	entries := f.entries(t, testKey)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, adj.ID, e.TransactionID)
	}
	assert.True(t, f.tx(t, buy.ID).Costed)
	require.NoError(t, f.engine.VerifyGroup(ctx, testKey))
}

func TestRemoveManualAdjustmentReflagsConsumingSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, testKey, f.buy, "2024-01-01", "10", "100")
	sale := f.add(t, testKey, f.sell, "2024-01-05", "-15", "130")
	f.run(t)
	require.True(t, f.tx(t, sale.ID).NeedsReview)

	adj, err := f.engine.CommitAdjustment(ctx, kardex.AdjustmentRequest{
		ReferenceTransactionID: sale.ID,
		Kind:                   kardex.MovementIngress,
		Quantity:               dec("5"),
		UnitPrice:              dec("100"),
	})
	require.NoError(t, err)
	f.run(t)
	require.True(t, f.tx(t, sale.ID).Costed)

	res, err := f.engine.RemoveAdjustment(ctx, adj.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Replay)
	require.NoError(t, f.engine.VerifyGroup(ctx, testKey))

	got := f.tx(t, sale.ID)
	assert.False(t, got.Costed)
	assert.True(t, got.NeedsReview)
	assert.Len(t, f.entries(t, testKey), 1)

	f.add(t, testKey, f.buy, "2024-01-10", "3", "110")
	f.run(t)
	require.NoError(t, f.engine.VerifyGroup(ctx, testKey))
	balance, ok, err := f.engine.Balance(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	requireDec(t, "13", balance.Quantity)
}

func TestRemoveRejectsPlainTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buy := f.add(t, testKey, f.buy, "2024-01-01", "10", "10")

	_, err := f.engine.RemoveAdjustment(ctx, buy.ID)
	require.ErrorIs(t, err, kardex.ErrNotAdjustment)
	_, err = f.engine.RemoveAdjustment(ctx, 12345)
	require.ErrorIs(t, err, kardex.ErrTransactionNotFound)
	f.tx(t, buy.ID)
}
