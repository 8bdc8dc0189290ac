package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/sirupsen/logrus"
)

const recostHandlerName = "kardex.recost"

// ErrMalformedMessage marks a message that will never succeed and should be acked.
var ErrMalformedMessage = errors.New("malformed recost message")

// MessageLedger remembers push deliveries so a redelivered message is not
// processed twice. Begin reports skip=true for a message that already succeeded.
type MessageLedger interface {
	Begin(ctx context.Context, companyID int64, handlerName, messageID string) (skip bool, err error)
	Succeeded(ctx context.Context, companyID int64, handlerName, messageID string) error
	Failed(ctx context.Context, companyID int64, handlerName, messageID string, cause error) error
}

// HandleRecostMessage recosts the group named by a KARDEX_RECOST_REQUESTED
// message. With a message ledger installed, deliveries that already succeeded
// return skipped=true without touching the group.
func (w *CostingWorkflow) HandleRecostMessage(ctx context.Context, messageID string, data []byte) (outcome kardex.GroupOutcome, skipped bool, err error) {
	var msg config.KardexEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return outcome, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Event != string(EventRecostRequested) {
		return outcome, false, fmt.Errorf("%w: unexpected event %q", ErrMalformedMessage, msg.Event)
	}
	key, err := kardex.ParseGroupKey(msg.GroupKey)
	if err != nil {
		return outcome, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}
	if messageID == "" {
		messageID = msg.ID
	}

	if w.messages == nil || messageID == "" {
		outcome, err = w.Recost(ctx, key.String())
		return outcome, false, err
	}

	skip, err := w.messages.Begin(ctx, key.CompanyID, recostHandlerName, messageID)
	if err != nil {
		return outcome, false, err
	}
	if skip {
		w.logger.WithFields(logrus.Fields{
			"group":      key.String(),
			"message_id": messageID,
		}).Info("kardex.recost.duplicate_delivery")
		return outcome, true, nil
	}

	outcome, err = w.Recost(ctx, key.String())
	if err != nil {
		if markErr := w.messages.Failed(ctx, key.CompanyID, recostHandlerName, messageID, err); markErr != nil {
			config.LogError(w.logger, "recostMessage.go", "HandleRecostMessage", "mark failed", messageID, markErr)
		}
		return outcome, false, err
	}
	if err := w.messages.Succeeded(ctx, key.CompanyID, recostHandlerName, messageID); err != nil {
		// The recost committed; a redelivery recosts again, which is harmless.
		config.LogError(w.logger, "recostMessage.go", "HandleRecostMessage", "mark succeeded", messageID, err)
	}
	return outcome, false, nil
}
