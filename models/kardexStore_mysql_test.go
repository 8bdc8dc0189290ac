package models

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the database configured by DB_* env vars.
func TestMySQLStoreRunsFIFOCosting(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run against MySQL")
	}
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	require.NoError(t, Migrate(db))
	_, err := SeedMovementTypes(db)
	require.NoError(t, err)

	// a company id nobody else uses, so reruns do not collide
	key := kardex.GroupKey{CompanyID: 900000 + time.Now().Unix()%100000, Account: "IT-MYSQL", CustodianID: 1, InstrumentID: 1}
	t.Cleanup(func() {
		for _, model := range []interface{}{&KardexEntry{}, &KardexDailyBalance{}, &KardexGroupBalance{}, &KardexTransaction{}} {
			db.Where("company_id = ?", key.CompanyID).Delete(model)
		}
	})

	buy, err := CreateMovementType(db, "IT COMPRA", kardex.MovementIngress)
	require.NoError(t, err)
	sell, err := CreateMovementType(db, "IT VENTA", kardex.MovementEgress)
	require.NoError(t, err)

	store := NewStore(db)
	ctx := context.Background()
	for _, tx := range []kardex.Transaction{
		{Group: key, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), MovementTypeID: buy.ID, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("100.25")},
		{Group: key, Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), MovementTypeID: buy.ID, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("120.5")},
		{Group: key, Date: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), MovementTypeID: sell.ID, Quantity: decimal.NewFromInt(15), UnitPrice: decimal.NewFromInt(130)},
	} {
		_, err := store.CreateTransaction(ctx, tx)
		require.NoError(t, err)
	}

	engine := kardex.NewEngine(store)
	outcome, err := engine.RecostGroup(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, outcome.Balance)

	// 10 @ 100.25 + 5 @ 120.5 consumed; 5 @ 120.5 left
	assert.True(t, outcome.Balance.Quantity.Equal(decimal.NewFromInt(5)), outcome.Balance.Quantity.String())
	assert.True(t, outcome.Balance.TotalCost.Equal(decimal.RequireFromString("602.5")), outcome.Balance.TotalCost.String())
	require.NoError(t, engine.VerifyGroup(ctx, key))
}
