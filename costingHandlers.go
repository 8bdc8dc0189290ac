package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/mmdatafocus/kardex_backend/workflow"
	"github.com/sirupsen/logrus"
)

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type proposeRequest struct {
	ReferenceTransactionID int64               `json:"reference_transaction_id" validate:"required,gt=0"`
	Kind                   kardex.MovementKind `json:"kind" validate:"required,oneof=INGRESO EGRESO"`
}

var requestValidator = validator.New()

// costingAPI serves the costing routes once a workflow is installed.
type costingAPI struct {
	wf     atomic.Pointer[workflow.CostingWorkflow]
	logger *logrus.Logger
}

func newCostingAPI(logger *logrus.Logger) *costingAPI {
	return &costingAPI{logger: logger}
}

func (a *costingAPI) setWorkflow(wf *workflow.CostingWorkflow) { a.wf.Store(wf) }

func (a *costingAPI) workflow() *workflow.CostingWorkflow { return a.wf.Load() }

func (a *costingAPI) ready() bool { return a.wf.Load() != nil }

func statusFor(err error) int {
	switch {
	case errors.Is(err, kardex.ErrInvalidGroupKey), errors.Is(err, kardex.ErrInvalidAdjustment):
		return http.StatusBadRequest
	case errors.Is(err, kardex.ErrTransactionNotFound), errors.Is(err, kardex.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, kardex.ErrNotAdjustment), errors.Is(err, kardex.ErrConcurrentModification),
		errors.Is(err, workflow.ErrGroupBusy), errors.Is(err, kardex.ErrLedgerMismatch),
		errors.Is(err, kardex.ErrNegativeBalance):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *costingAPI) fail(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		config.LogError(a.logger, "costingHandlers.go", funcName, c.Request.URL.Path, nil, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func groupParam(c *gin.Context) (kardex.GroupKey, error) {
	return kardex.ParseGroupKey(c.Param("key"))
}

func dateRange(c *gin.Context) (from, to time.Time, err error) {
	if from, err = utils.ParseOptionalDate(c.Query("from")); err != nil {
		return
	}
	to, err = utils.ParseOptionalDate(c.Query("to"))
	return
}

func (a *costingAPI) register(r gin.IRouter) {
	g := r.Group("/costing")
	g.POST("/run", a.runHandler)
	g.GET("/runs/last", a.lastRunHandler)
	g.GET("/groups", a.groupsHandler)
	g.POST("/groups/:key/recost", a.recostHandler)
	g.GET("/groups/:key/ledger", a.ledgerHandler)
	g.GET("/groups/:key/ledger/last", a.lastEntryHandler)
	g.GET("/groups/:key/balance", a.balanceHandler)
	g.GET("/groups/:key/daily", a.dailyHandler)
	g.GET("/groups/:key/verify", a.verifyHandler)
	g.GET("/groups/:key/summary", a.summaryHandler)
	g.GET("/groups/:key/unrealized", a.unrealizedHandler)
	g.GET("/groups/:key/export.xlsx", a.exportHandler)
	g.POST("/adjustments/propose", a.proposeHandler)
	g.POST("/adjustments", a.commitHandler)
	g.DELETE("/adjustments/:id", a.removeHandler)
	r.POST("/pubsub/recost", a.recostPushHandler)
}

func (a *costingAPI) runHandler(c *gin.Context) {
	ctx := utils.SetTriggerInContext(c.Request.Context(), "http")
	report, err := a.workflow().Run(ctx)
	if err != nil {
		status := http.StatusOK
		if errors.Is(err, kardex.ErrMissingConfiguration) {
			status = http.StatusInternalServerError
			config.LogError(a.logger, "costingHandlers.go", "runHandler", "RunFullCosting", report.RunID, err)
		}
		c.JSON(status, gin.H{"report": report, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (a *costingAPI) lastRunHandler(c *gin.Context) {
	summary, ok, err := a.workflow().LastRun(c.Request.Context())
	if err != nil {
		a.fail(c, "lastRunHandler", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run recorded"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *costingAPI) groupsHandler(c *gin.Context) {
	var companyID int64
	if raw := c.Query("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company_id"})
			return
		}
		companyID = id
	}
	keys, err := a.workflow().Engine().Groups(c.Request.Context())
	if err != nil {
		a.fail(c, "groupsHandler", err)
		return
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if companyID != 0 && k.CompanyID != companyID {
			continue
		}
		out = append(out, k.String())
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

func (a *costingAPI) recostHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "recostHandler", err)
		return
	}
	if c.Query("async") == "true" {
		if err := a.workflow().RequestRecost(c.Request.Context(), key, "requested over http"); err != nil {
			a.fail(c, "recostHandler", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"group": key.String()})
		return
	}
	outcome, err := a.workflow().Recost(c.Request.Context(), key.String())
	if err != nil {
		a.fail(c, "recostHandler", err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (a *costingAPI) ledgerHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "ledgerHandler", err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := a.workflow().Engine().EntriesInRange(c.Request.Context(), key, from, to)
	if err != nil {
		a.fail(c, "ledgerHandler", err)
		return
	}
	if entries == nil {
		entries = []kardex.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"group": key.String(), "entries": entries})
}

func (a *costingAPI) lastEntryHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "lastEntryHandler", err)
		return
	}
	var (
		entry kardex.LedgerEntry
		ok    bool
	)
	engine := a.workflow().Engine()
	if raw := c.Query("before"); raw != "" {
		before, perr := utils.ParseDate(raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		entry, ok, err = engine.LastLedgerEntryBefore(c.Request.Context(), key, before)
	} else {
		entry, ok, err = engine.LastLedgerEntry(c.Request.Context(), key)
	}
	if err != nil {
		a.fail(c, "lastEntryHandler", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ledger entry"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *costingAPI) balanceHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "balanceHandler", err)
		return
	}
	balance, ok, err := a.workflow().Engine().Balance(c.Request.Context(), key)
	if err != nil {
		a.fail(c, "balanceHandler", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "group has no balance"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (a *costingAPI) dailyHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "dailyHandler", err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	daily, err := a.workflow().Engine().DailyBalances(c.Request.Context(), key, from, to)
	if err != nil {
		a.fail(c, "dailyHandler", err)
		return
	}
	if daily == nil {
		daily = []kardex.DailyBalance{}
	}
	c.JSON(http.StatusOK, gin.H{"group": key.String(), "balances": daily})
}

func (a *costingAPI) verifyHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "verifyHandler", err)
		return
	}
	if err := a.workflow().Engine().VerifyGroup(c.Request.Context(), key); err != nil {
		status := statusFor(err)
		if status == http.StatusConflict {
			c.JSON(status, gin.H{"group": key.String(), "ok": false, "error": err.Error()})
			return
		}
		a.fail(c, "verifyHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": key.String(), "ok": true})
}

func (a *costingAPI) summaryHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "summaryHandler", err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := a.workflow().Engine().Summary(c.Request.Context(), key, from, to)
	if err != nil {
		a.fail(c, "summaryHandler", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *costingAPI) unrealizedHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "unrealizedHandler", err)
		return
	}
	date, err := utils.ParseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	valuation, err := a.workflow().Engine().UnrealizedGain(c.Request.Context(), key, date)
	if err != nil {
		a.fail(c, "unrealizedHandler", err)
		return
	}
	c.JSON(http.StatusOK, valuation)
}

func (a *costingAPI) exportHandler(c *gin.Context) {
	key, err := groupParam(c)
	if err != nil {
		a.fail(c, "exportHandler", err)
		return
	}
	from, to, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Query("upload") == "gcs" {
		uri, err := a.workflow().ExportLedgerToGCS(c.Request.Context(), key, from, to)
		if err != nil {
			a.fail(c, "exportHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uri": uri})
		return
	}
	data, err := a.workflow().ExportLedger(c.Request.Context(), key, from, to)
	if err != nil {
		a.fail(c, "exportHandler", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=kardex_%d_%d_%d.xlsx", key.CompanyID, key.CustodianID, key.InstrumentID))
	c.Data(http.StatusOK, utils.XlsxContentType, data)
}

func (a *costingAPI) proposeHandler(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := requestValidator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	proposal, err := a.workflow().ProposeAdjustment(c.Request.Context(), req.ReferenceTransactionID, req.Kind)
	if err != nil {
		a.fail(c, "proposeHandler", err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (a *costingAPI) commitHandler(c *gin.Context) {
	var req kardex.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, err := a.workflow().CommitAdjustment(c.Request.Context(), req)
	if err != nil {
		a.fail(c, "commitHandler", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (a *costingAPI) removeHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res, err := a.workflow().RemoveAdjustment(c.Request.Context(), id)
	if err != nil {
		a.fail(c, "removeHandler", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// recostPushHandler consumes KARDEX_RECOST_REQUESTED push deliveries.
// Malformed messages are acked; failures return 500 so Pub/Sub retries.
func (a *costingAPI) recostPushHandler(c *gin.Context) {
	var msg PubSubMessage

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		config.LogError(a.logger, "costingHandlers.go", "recostPushHandler", "io.ReadAll", nil, err)
		c.Status(http.StatusNoContent)
		return
	}
	// byte slice unmarshalling handles base64 decoding.
	if err := json.Unmarshal(body, &msg); err != nil {
		config.LogError(a.logger, "costingHandlers.go", "recostPushHandler", "Unmarshal body", string(body), err)
		c.Status(http.StatusNoContent)
		return
	}

	// Correlation: payload correlation_id, then the Pub/Sub message ID.
	ctx := c.Request.Context()
	if c.GetHeader("x-correlation-id") == "" && msg.Message.ID != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.Message.ID)
	}
	ctx = utils.SetTriggerInContext(ctx, "pubsub")

	outcome, skipped, err := a.workflow().HandleRecostMessage(ctx, msg.Message.ID, msg.Message.Data)
	if errors.Is(err, workflow.ErrMalformedMessage) {
		config.LogError(a.logger, "costingHandlers.go", "recostPushHandler", "invalid recost message", msg.Message.ID, err)
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"field":      "recostPushHandler",
			"message_id": msg.Message.ID,
		}).Error("pubsub recost failed: " + err.Error())
		c.Status(http.StatusInternalServerError)
		return
	}
	a.logger.WithFields(logrus.Fields{
		"field":      "recostPushHandler",
		"group":      outcome.Group.String(),
		"message_id": msg.Message.ID,
		"skipped":    skipped,
	}).Info("pubsub recost done")
	c.Status(http.StatusNoContent)
}
