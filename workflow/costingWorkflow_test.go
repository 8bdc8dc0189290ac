package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/memstore"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wfKey = kardex.GroupKey{CompanyID: 9, Account: "CUST-9", CustodianID: 2, InstrumentID: 77}

type wfFixture struct {
	store     *memstore.Store
	workflow  *CostingWorkflow
	publisher *MemoryPublisher
	buy       kardex.MovementType
	sell      kardex.MovementType
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newWfFixture(t *testing.T) *wfFixture {
	t.Helper()
	s := memstore.New()
	f := &wfFixture{
		store:     s,
		publisher: &MemoryPublisher{},
		buy:       s.AddMovementType(kardex.MovementType{Name: "COMPRA", Kind: kardex.MovementIngress}),
		sell:      s.AddMovementType(kardex.MovementType{Name: "VENTA", Kind: kardex.MovementEgress}),
	}
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE INGRESO", Kind: kardex.MovementIngress, Special: kardex.SpecialManualAdjustmentIn})
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE EGRESO", Kind: kardex.MovementEgress, Special: kardex.SpecialManualAdjustmentOut})
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE AUTO TOLERANCIA", Kind: kardex.MovementIngress, Special: kardex.SpecialToleranceAdjustment})
	logger := quietLogger()
	engine := kardex.NewEngine(s, kardex.WithLocker(NewLocalGroupLocker()), kardex.WithLogger(logger))
	f.workflow = NewCostingWorkflow(engine, f.publisher, logger)
	return f
}

func (f *wfFixture) add(t *testing.T, mt kardex.MovementType, day int, qty, price int64) kardex.Transaction {
	t.Helper()
	tx, err := f.store.CreateTransaction(context.Background(), kardex.Transaction{
		Group:          wfKey,
		Date:           time.Date(2024, 5, day, 0, 0, 0, 0, time.UTC),
		MovementTypeID: mt.ID,
		Quantity:       decimal.NewFromInt(qty),
		UnitPrice:      decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	return tx
}

func eventNames(events []Event) []EventName {
	out := make([]EventName, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name)
	}
	return out
}

func TestRunPublishesGroupCosted(t *testing.T) {
	f := newWfFixture(t)
	f.add(t, f.buy, 1, 10, 5)
	f.add(t, f.sell, 2, 4, 6)

	report, err := f.workflow.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Succeeded, 1)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventGroupCosted, events[0].Name)
	assert.Equal(t, wfKey, events[0].Group)

	// Without Redis there is no cached summary.
	_, ok, err := f.workflow.LastRun(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveAdjustmentReplaysGroup(t *testing.T) {
	f := newWfFixture(t)
	ctx := context.Background()
	f.add(t, f.buy, 1, 5, 10)
	sale := f.add(t, f.sell, 2, 8, 12)

	_, err := f.workflow.Run(ctx)
	require.NoError(t, err)
	flagged, _, err := f.store.Transaction(ctx, sale.ID)
	require.NoError(t, err)
	require.True(t, flagged.NeedsReview)

	proposal, err := f.workflow.ProposeAdjustment(ctx, sale.ID, kardex.MovementIngress)
	require.NoError(t, err)
	assert.Equal(t, "3", proposal.Quantity.String())

	adj, err := f.workflow.CommitAdjustment(ctx, kardex.AdjustmentRequest{
		ReferenceTransactionID: sale.ID,
		Kind:                   kardex.MovementIngress,
		Quantity:               proposal.Quantity,
		UnitPrice:              proposal.UnitPrice,
	})
	require.NoError(t, err)
	_, err = f.workflow.Run(ctx)
	require.NoError(t, err)

	res, err := f.workflow.RemoveAdjustment(ctx, adj.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Replay)
	assert.True(t, res.Replay.FullReplay)

	reflagged, _, err := f.store.Transaction(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, reflagged.NeedsReview)
	assert.False(t, reflagged.Costed)
	require.NoError(t, f.workflow.Engine().VerifyGroup(ctx, reflagged.Group))

	assert.Equal(t, []EventName{
		EventGroupCosted,
		EventAdjustmentCommitted,
		EventGroupCosted,
		EventAdjustmentRemoved,
		EventGroupRecosted,
	}, eventNames(f.publisher.Events()))
}

func TestHandleRecostMessage(t *testing.T) {
	f := newWfFixture(t)
	ctx := context.Background()
	f.add(t, f.buy, 1, 10, 5)
	_, err := f.workflow.Run(ctx)
	require.NoError(t, err)

	_, _, err = f.workflow.HandleRecostMessage(ctx, "m-1", []byte("{"))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	bad, _ := json.Marshal(config.KardexEventMessage{Event: string(EventRecostRequested), GroupKey: "1|x"})
	_, _, err = f.workflow.HandleRecostMessage(ctx, "m-2", bad)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	other, _ := json.Marshal(config.KardexEventMessage{Event: string(EventGroupCosted), GroupKey: wfKey.String()})
	_, _, err = f.workflow.HandleRecostMessage(ctx, "m-3", other)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	good, _ := json.Marshal(config.KardexEventMessage{Event: string(EventRecostRequested), GroupKey: wfKey.String()})
	outcome, skipped, err := f.workflow.HandleRecostMessage(ctx, "m-4", good)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.True(t, outcome.FullReplay)
	assert.Equal(t, EventGroupRecosted, f.publisher.Events()[len(f.publisher.Events())-1].Name)
}

type memoryLedger struct {
	status map[string]string
}

func (l *memoryLedger) id(companyID int64, handlerName, messageID string) string {
	return fmt.Sprintf("%d/%s/%s", companyID, handlerName, messageID)
}

func (l *memoryLedger) Begin(_ context.Context, companyID int64, handlerName, messageID string) (bool, error) {
	id := l.id(companyID, handlerName, messageID)
	if l.status[id] == "SUCCEEDED" {
		return true, nil
	}
	l.status[id] = "STARTED"
	return false, nil
}

func (l *memoryLedger) Succeeded(_ context.Context, companyID int64, handlerName, messageID string) error {
	l.status[l.id(companyID, handlerName, messageID)] = "SUCCEEDED"
	return nil
}

func (l *memoryLedger) Failed(_ context.Context, companyID int64, handlerName, messageID string, _ error) error {
	l.status[l.id(companyID, handlerName, messageID)] = "FAILED"
	return nil
}

func TestHandleRecostMessageSkipsRedelivery(t *testing.T) {
	f := newWfFixture(t)
	ctx := context.Background()
	f.add(t, f.buy, 1, 10, 5)
	ledger := &memoryLedger{status: map[string]string{}}
	f.workflow.SetMessageLedger(ledger)

	good, _ := json.Marshal(config.KardexEventMessage{Event: string(EventRecostRequested), GroupKey: wfKey.String()})
	_, skipped, err := f.workflow.HandleRecostMessage(ctx, "dup-1", good)
	require.NoError(t, err)
	assert.False(t, skipped)
	published := len(f.publisher.Events())

	_, skipped, err = f.workflow.HandleRecostMessage(ctx, "dup-1", good)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Len(t, f.publisher.Events(), published)

	_, skipped, err = f.workflow.HandleRecostMessage(ctx, "dup-2", good)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, "SUCCEEDED", ledger.status[fmt.Sprintf("%d/%s/dup-2", wfKey.CompanyID, recostHandlerName)])
}

func TestRecostCompany(t *testing.T) {
	f := newWfFixture(t)
	ctx := context.Background()
	f.add(t, f.buy, 1, 10, 5)
	other := wfKey
	other.CompanyID = 100
	_, err := f.store.CreateTransaction(ctx, kardex.Transaction{
		Group:          other,
		Date:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		MovementTypeID: f.buy.ID,
		Quantity:       decimal.NewFromInt(1),
		UnitPrice:      decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	res, err := f.workflow.RecostCompany(ctx, wfKey.CompanyID, true)
	require.NoError(t, err)
	require.Len(t, res.Recosted, 1)
	assert.Equal(t, wfKey, res.Recosted[0].Group)
	assert.Empty(t, res.Failed)
}

func TestNewEventMessageCarriesContext(t *testing.T) {
	ctx := context.Background()
	msg, err := newEventMessage(ctx, Event{Name: EventGroupCosted, Group: wfKey, Payload: map[string]int{"n": 1}})
	require.NoError(t, err)
	assert.Equal(t, wfKey.String(), msg.GroupKey)
	assert.Equal(t, int64(9), msg.CompanyID)
	assert.JSONEq(t, `{"n":1}`, string(msg.Payload))
	assert.NotEmpty(t, msg.ID)
}
