package utils

import (
	"context"

	"github.com/mmdatafocus/kardex_backend/appctx"
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func GetRunIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyRunId)
}

func SetRunIdInContext(ctx context.Context, runId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyRunId, runId)
}

func GetTriggerFromContext(ctx context.Context) string {
	v, _ := appctx.GetString(ctx, appctx.ContextKeyTrigger)
	return v
}

func SetTriggerInContext(ctx context.Context, trigger string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyTrigger, trigger)
}
