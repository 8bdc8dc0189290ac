package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lastRunKey = "kardex:last_run"

var tracer = otel.Tracer("kardex-backend")

// RunSummary is the compact form of a run kept for the status endpoint.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Trigger      string    `json:"trigger"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	NotAttempted int       `json:"not_attempted"`
	Error        string    `json:"error,omitempty"`
}

// CostingWorkflow wraps the engine with run ids, tracing and event publishing.
type CostingWorkflow struct {
	engine    *kardex.Engine
	publisher EventPublisher
	messages  MessageLedger
	logger    *logrus.Logger
}

func NewCostingWorkflow(engine *kardex.Engine, publisher EventPublisher, logger *logrus.Logger) *CostingWorkflow {
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	return &CostingWorkflow{engine: engine, publisher: publisher, logger: logger}
}

func (w *CostingWorkflow) Engine() *kardex.Engine { return w.engine }

// SetMessageLedger enables redelivery detection in HandleRecostMessage.
func (w *CostingWorkflow) SetMessageLedger(l MessageLedger) { w.messages = l }

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish never fails the caller: the costing work has already committed.
func (w *CostingWorkflow) publish(ctx context.Context, event Event) {
	if err := w.publisher.Publish(ctx, event); err != nil {
		config.LogError(w.logger, "costingWorkflow.go", "publish", string(event.Name), event.Group.String(), err)
	}
}

// Run executes one full costing run and publishes KARDEX_GROUP_COSTED per committed group.
func (w *CostingWorkflow) Run(ctx context.Context) (report kardex.RunReport, err error) {
	runID := uuid.NewString()
	ctx = utils.SetRunIdInContext(ctx, runID)
	ctx, span := tracer.Start(ctx, "kardex.run", trace.WithAttributes(
		attribute.String("kardex.run_id", runID),
		attribute.String("kardex.trigger", utils.GetTriggerFromContext(ctx)),
	))
	defer func() { endSpan(span, err) }()

	report, err = w.engine.RunFullCosting(ctx)
	report.RunID = runID
	span.SetAttributes(
		attribute.Int("kardex.groups.succeeded", len(report.Succeeded)),
		attribute.Int("kardex.groups.failed", len(report.Failed)),
	)
	for _, outcome := range report.Succeeded {
		w.publish(ctx, Event{Name: EventGroupCosted, Group: outcome.Group, Payload: outcome})
	}
	w.saveSummary(ctx, report, err)
	return report, err
}

func (w *CostingWorkflow) saveSummary(ctx context.Context, report kardex.RunReport, runErr error) {
	summary := RunSummary{
		RunID:        report.RunID,
		Trigger:      utils.GetTriggerFromContext(ctx),
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Succeeded:    len(report.Succeeded),
		Failed:       len(report.Failed),
		NotAttempted: len(report.NotAttempted),
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := config.SetRedisObject(ctx, lastRunKey, summary, 7*24*time.Hour); err != nil {
		config.LogError(w.logger, "costingWorkflow.go", "saveSummary", "SetRedisObject", summary.RunID, err)
	}
}

// LastRun returns the summary of the most recent run, if one is cached.
func (w *CostingWorkflow) LastRun(ctx context.Context) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := config.GetRedisObject(ctx, lastRunKey, &summary)
	return summary, ok, err
}

// Recost rebuilds one group from its interchange key.
func (w *CostingWorkflow) Recost(ctx context.Context, groupKey string) (outcome kardex.GroupOutcome, err error) {
	ctx, span := tracer.Start(ctx, "kardex.recost", trace.WithAttributes(attribute.String("kardex.group", groupKey)))
	defer func() { endSpan(span, err) }()

	outcome, err = w.engine.Recost(ctx, groupKey)
	if err != nil {
		return outcome, err
	}
	span.SetAttributes(attribute.Int("kardex.entries", outcome.EntriesAppended))
	w.publish(ctx, Event{Name: EventGroupRecosted, Group: outcome.Group, Payload: outcome})
	return outcome, nil
}

// CompanyRecostResult lists per-group results of a company wide recost.
type CompanyRecostResult struct {
	CompanyID int64                 `json:"company_id"`
	Recosted  []kardex.GroupOutcome `json:"recosted"`
	Failed    []kardex.GroupFailure `json:"failed"`
}

// RecostCompany recosts every group of a company. Without continueOnError the first failure stops it.
func (w *CostingWorkflow) RecostCompany(ctx context.Context, companyID int64, continueOnError bool) (CompanyRecostResult, error) {
	res := CompanyRecostResult{CompanyID: companyID}
	keys, err := w.engine.Groups(ctx)
	if err != nil {
		return res, err
	}
	var errs []error
	for _, key := range keys {
		if key.CompanyID != companyID {
			continue
		}
		outcome, err := w.Recost(ctx, key.String())
		if err != nil {
			res.Failed = append(res.Failed, kardex.GroupFailure{Group: key, Reason: err.Error()})
			errs = append(errs, &kardex.GroupError{Group: key, Err: err})
			if !continueOnError {
				break
			}
			continue
		}
		res.Recosted = append(res.Recosted, outcome)
	}
	return res, errors.Join(errs...)
}

// RequestRecost asks a worker to recost the group asynchronously.
func (w *CostingWorkflow) RequestRecost(ctx context.Context, key kardex.GroupKey, reason string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return w.publisher.Publish(ctx, Event{
		Name:    EventRecostRequested,
		Group:   key,
		Payload: map[string]string{"reason": reason},
	})
}

func (w *CostingWorkflow) ProposeAdjustment(ctx context.Context, referenceTransactionID int64, kind kardex.MovementKind) (proposal kardex.AdjustmentProposal, err error) {
	ctx, span := tracer.Start(ctx, "kardex.adjustment.propose", trace.WithAttributes(
		attribute.Int64("kardex.reference_transaction_id", referenceTransactionID),
	))
	defer func() { endSpan(span, err) }()
	return w.engine.ProposeAdjustment(ctx, referenceTransactionID, kind)
}

func (w *CostingWorkflow) CommitAdjustment(ctx context.Context, req kardex.AdjustmentRequest) (created kardex.Transaction, err error) {
	ctx, span := tracer.Start(ctx, "kardex.adjustment.commit", trace.WithAttributes(
		attribute.Int64("kardex.reference_transaction_id", req.ReferenceTransactionID),
	))
	defer func() { endSpan(span, err) }()

	created, err = w.engine.CommitAdjustment(ctx, req)
	if err != nil {
		return created, err
	}
	w.publish(ctx, Event{Name: EventAdjustmentCommitted, Group: created.Group, Payload: created})
	return created, nil
}

// RemoveAdjustment deletes the adjustment; a replayed group is announced as recosted.
func (w *CostingWorkflow) RemoveAdjustment(ctx context.Context, adjustmentTransactionID int64) (res kardex.RemovalResult, err error) {
	ctx, span := tracer.Start(ctx, "kardex.adjustment.remove", trace.WithAttributes(
		attribute.Int64("kardex.adjustment_id", adjustmentTransactionID),
	))
	defer func() { endSpan(span, err) }()

	res, err = w.engine.RemoveAdjustment(ctx, adjustmentTransactionID)
	if err != nil {
		return res, err
	}
	w.publish(ctx, Event{Name: EventAdjustmentRemoved, Group: res.Removed.Group, Payload: res})
	if res.Replay != nil {
		w.publish(ctx, Event{Name: EventGroupRecosted, Group: res.Removed.Group, Payload: *res.Replay})
	}
	return res, nil
}
