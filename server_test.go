package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/memstore"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apiKey = kardex.GroupKey{CompanyID: 3, Account: "ACC-1", CustodianID: 4, InstrumentID: 12}

type apiFixture struct {
	store     *memstore.Store
	router    *gin.Engine
	publisher *workflow.MemoryPublisher
	buy       kardex.MovementType
	sell      kardex.MovementType
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := memstore.New()
	f := &apiFixture{
		store:     s,
		publisher: &workflow.MemoryPublisher{},
		buy:       s.AddMovementType(kardex.MovementType{Name: "COMPRA", Kind: kardex.MovementIngress}),
		sell:      s.AddMovementType(kardex.MovementType{Name: "VENTA", Kind: kardex.MovementEgress}),
	}
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE INGRESO", Kind: kardex.MovementIngress, Special: kardex.SpecialManualAdjustmentIn})
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE EGRESO", Kind: kardex.MovementEgress, Special: kardex.SpecialManualAdjustmentOut})
	s.AddMovementType(kardex.MovementType{Name: "AJUSTE AUTO TOLERANCIA", Kind: kardex.MovementIngress, Special: kardex.SpecialToleranceAdjustment})

	engine := kardex.NewEngine(s, kardex.WithLocker(workflow.NewLocalGroupLocker()), kardex.WithLogger(logger))
	api := newCostingAPI(logger)
	api.setWorkflow(workflow.NewCostingWorkflow(engine, f.publisher, logger))
	f.router = newRouter(api, logger, nil)
	return f
}

func (f *apiFixture) add(t *testing.T, mt kardex.MovementType, day int, qty, price int64) kardex.Transaction {
	t.Helper()
	tx, err := f.store.CreateTransaction(context.Background(), kardex.Transaction{
		Group:          apiKey,
		Date:           time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		MovementTypeID: mt.ID,
		Quantity:       decimal.NewFromInt(qty),
		UnitPrice:      decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	return tx
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func groupPath(key kardex.GroupKey, suffix string) string {
	return "/costing/groups/" + url.PathEscape(key.String()) + suffix
}

func TestReadinessGate(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := newRouter(newCostingAPI(logger), logger, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/costing/groups", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCorrelationIdIsEchoed(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/costing/groups", nil)
	req.Header.Set("x-correlation-id", "cid-42")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "cid-42", w.Header().Get("x-correlation-id"))

	w = f.do(http.MethodGet, "/costing/groups", nil)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))
}

func TestRunThenQueryGroup(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, f.buy, 1, 10, 5)
	f.add(t, f.sell, 2, 4, 6)

	w := f.do(http.MethodPost, "/costing/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run struct {
		Report kardex.RunReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Len(t, run.Report.Succeeded, 1)
	assert.NotEmpty(t, run.Report.RunID)

	w = f.do(http.MethodGet, "/costing/groups?company_id=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var groups struct {
		Groups []string `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	assert.Equal(t, []string{apiKey.String()}, groups.Groups)

	w = f.do(http.MethodGet, "/costing/groups?company_id=99", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	assert.Empty(t, groups.Groups)

	w = f.do(http.MethodGet, groupPath(apiKey, "/ledger"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ledger struct {
		Entries []kardex.LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 2)
	assert.True(t, ledger.Entries[1].RealizedResult.Equal(decimal.NewFromInt(4)))

	w = f.do(http.MethodGet, groupPath(apiKey, "/ledger?from=2024-03-02&to=2024-03-02"), nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	assert.Len(t, ledger.Entries, 1)

	w = f.do(http.MethodGet, groupPath(apiKey, "/balance"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance kardex.GroupBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.True(t, balance.Quantity.Equal(decimal.NewFromInt(6)))
	assert.True(t, balance.TotalCost.Equal(decimal.NewFromInt(30)))

	w = f.do(http.MethodGet, groupPath(apiKey, "/ledger/last?before=2024-03-02"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var last kardex.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
	assert.Equal(t, 1, last.Sequence)

	w = f.do(http.MethodGet, groupPath(apiKey, "/verify"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, groupPath(apiKey, "/daily"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, groupPath(apiKey, "/summary"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGroupRouteErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/costing/groups/not-a-key/ledger", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, groupPath(apiKey, "/ledger?from=yesterday"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, groupPath(apiKey, "/unrealized"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, groupPath(apiKey, "/ledger/last"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/costing/runs/last", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdjustmentRoutes(t *testing.T) {
	f := newAPIFixture(t)
	buy := f.add(t, f.buy, 1, 10, 5)
	sell := f.add(t, f.sell, 2, 4, 6)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/costing/run", nil).Code)

	w := f.do(http.MethodPost, "/costing/adjustments/propose", map[string]any{"kind": "SIDEWAYS"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var invalid struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invalid))
	assert.Contains(t, invalid.Fields, "ReferenceTransactionID")
	assert.Contains(t, invalid.Fields, "Kind")

	w = f.do(http.MethodPost, "/costing/adjustments/propose", map[string]any{
		"reference_transaction_id": sell.ID,
		"kind":                     "INGRESO",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/costing/adjustments", map[string]any{
		"reference_transaction_id": sell.ID,
		"kind":                     "INGRESO",
		"quantity":                 "0",
		"unit_price":               "5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/costing/adjustments", map[string]any{
		"reference_transaction_id": sell.ID,
		"kind":                     "INGRESO",
		"quantity":                 "2",
		"unit_price":               "5",
		"note":                     "custodian statement",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created kardex.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, kardex.SpecialManualAdjustmentIn, created.Special)

	w = f.do(http.MethodDelete, "/costing/adjustments/"+strconv.FormatInt(buy.ID, 10), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodDelete, "/costing/adjustments/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/costing/adjustments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/costing/adjustments/"+strconv.FormatInt(created.ID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRecostRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, f.buy, 1, 10, 5)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/costing/run", nil).Code)

	w := f.do(http.MethodPost, groupPath(apiKey, "/recost"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, groupPath(apiKey, "/recost?async=true"), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	events := f.publisher.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, workflow.EventRecostRequested, events[len(events)-1].Name)
}

func pushBody(t *testing.T, data []byte) []byte {
	t.Helper()
	var msg PubSubMessage
	msg.Message.ID = "msg-1"
	msg.Message.Data = data
	msg.Subscription = "projects/p/subscriptions/kardex-recost"
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func TestRecostPushHandler(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, f.buy, 1, 10, 5)

	w := f.do(http.MethodPost, "/pubsub/recost", []byte("{not json"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	wrongEvent, _ := json.Marshal(config.KardexEventMessage{Event: string(workflow.EventGroupCosted), GroupKey: apiKey.String()})
	w = f.do(http.MethodPost, "/pubsub/recost", pushBody(t, wrongEvent))
	assert.Equal(t, http.StatusNoContent, w.Code)

	valid, _ := json.Marshal(config.KardexEventMessage{
		ID:       utils.NewCorrelationId(),
		Event:    string(workflow.EventRecostRequested),
		GroupKey: apiKey.String(),
	})
	w = f.do(http.MethodPost, "/pubsub/recost", pushBody(t, valid))
	assert.Equal(t, http.StatusNoContent, w.Code)

	entries, err := f.store.GroupEntries(context.Background(), apiKey)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportRoute(t *testing.T) {
	f := newAPIFixture(t)
	f.add(t, f.buy, 1, 10, 5)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/costing/run", nil).Code)

	w := f.do(http.MethodGet, groupPath(apiKey, "/export.xlsx"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, utils.XlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "kardex_3_4_12.xlsx")
	// xlsx is a zip archive
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(kardex.ErrInvalidGroupKey))
	assert.Equal(t, http.StatusNotFound, statusFor(kardex.ErrTransactionNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(workflow.ErrGroupBusy))
	assert.Equal(t, http.StatusConflict, statusFor(&kardex.GroupError{Group: apiKey, Err: kardex.ErrConcurrentModification}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(kardex.ErrMissingConfiguration))
}
