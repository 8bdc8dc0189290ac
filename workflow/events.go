package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/kardex_backend/config"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/mmdatafocus/kardex_backend/utils"
	"github.com/sirupsen/logrus"
)

type EventName string

const (
	EventGroupCosted         EventName = "KARDEX_GROUP_COSTED"
	EventGroupRecosted       EventName = "KARDEX_GROUP_RECOSTED"
	EventAdjustmentCommitted EventName = "KARDEX_ADJUSTMENT_COMMITTED"
	EventAdjustmentRemoved   EventName = "KARDEX_ADJUSTMENT_REMOVED"
	EventRecostRequested     EventName = "KARDEX_RECOST_REQUESTED"
)

// Event is published after the unit of work it describes has committed.
type Event struct {
	Name    EventName
	Group   kardex.GroupKey
	Payload any
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

func newEventMessage(ctx context.Context, event Event) (config.KardexEventMessage, error) {
	msg := config.KardexEventMessage{
		ID:         uuid.NewString(),
		Event:      string(event.Name),
		GroupKey:   event.Group.String(),
		CompanyID:  event.Group.CompanyID,
		OccurredAt: time.Now().UTC(),
	}
	msg.RunID, _ = utils.GetRunIdFromContext(ctx)
	msg.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	if event.Payload != nil {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return config.KardexEventMessage{}, err
		}
		msg.Payload = payload
	}
	return msg, nil
}

// PubSubPublisher publishes events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic  string
	logger *logrus.Logger
}

func NewPubSubPublisher(topic string, logger *logrus.Logger) *PubSubPublisher {
	return &PubSubPublisher{topic: topic, logger: logger}
}

func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := newEventMessage(ctx, event)
	if err != nil {
		return err
	}
	id, err := config.PublishKardexEvent(ctx, p.topic, msg)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"event":      msg.Event,
		"group":      msg.GroupKey,
		"message_id": id,
	}).Debug("kardex.event.published")
	return nil
}

// LogPublisher only logs events. It is used when no topic is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := newEventMessage(ctx, event)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"event":   msg.Event,
		"group":   msg.GroupKey,
		"run_id":  msg.RunID,
		"payload": string(msg.Payload),
	}).Info("kardex.event")
	return nil
}

// MemoryPublisher keeps events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// NewEventPublisher picks Pub/Sub when KARDEX_EVENTS_TOPIC is set.
func NewEventPublisher(logger *logrus.Logger) EventPublisher {
	if topic := config.KardexEventsTopic(); topic != "" {
		return NewPubSubPublisher(topic, logger)
	}
	return NewLogPublisher(logger)
}
