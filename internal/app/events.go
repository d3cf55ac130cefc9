package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/pkg/rabbitmq"
)

// EventPublisher announces lifecycle changes. Publishing is best effort and
// never affects transfer state.
type EventPublisher interface {
	PublishTransferTerminal(ctx context.Context, event domain.TransferTerminalEvent)
	PublishBulkState(ctx context.Context, event domain.BulkStateEvent)
}

// BrokerEventPublisher publishes lifecycle events to a RabbitMQ topic exchange.
type BrokerEventPublisher struct {
	publisher rabbitmq.Publisher
	exchange  string
}

// NewBrokerEventPublisher falls back to a logging no-op publisher when p is nil.
func NewBrokerEventPublisher(p rabbitmq.Publisher, exchange string) *BrokerEventPublisher {
	if p == nil {
		p = &rabbitmq.EventProducerFallback{}
	}
	return &BrokerEventPublisher{publisher: p, exchange: exchange}
}

func (b *BrokerEventPublisher) PublishTransferTerminal(ctx context.Context, event domain.TransferTerminalEvent) {
	routingKey := domain.RoutingKeyTransferCompleted
	if event.Status == domain.TransferStatusFailed {
		routingKey = domain.RoutingKeyTransferFailed
	}
	b.publish(ctx, routingKey, event)
}

func (b *BrokerEventPublisher) PublishBulkState(ctx context.Context, event domain.BulkStateEvent) {
	b.publish(ctx, domain.RoutingKeyBulkPrefix+strings.ToLower(string(event.State)), event)
}

func (b *BrokerEventPublisher) publish(ctx context.Context, routingKey string, body interface{}) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.publisher.Publish(pubCtx, b.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=event_publisher exchange=%s routing_key=%s msg=\"publish failed\" err=%v", b.exchange, routingKey, err)
	}
}

func newTransferTerminalEvent(t *domain.IndividualTransfer, at time.Time) domain.TransferTerminalEvent {
	eventType := "transfer.completed"
	if t.Status == domain.TransferStatusFailed {
		eventType = "transfer.failed"
	}
	return domain.TransferTerminalEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		BulkID:       t.BulkID,
		TransferID:   t.TransferID,
		RowNumber:    t.RowNumber,
		Status:       t.Status,
		ErrorCode:    t.ErrorCode,
		ErrorMessage: t.ErrorMessage,
		Amount:       t.Amount,
		Currency:     t.Currency,
		OccurredAt:   at,
	}
}

func newBulkStateEvent(b *domain.BulkTransfer, state domain.BulkState, at time.Time) domain.BulkStateEvent {
	c := domain.CountStatuses(b.Transfers)
	return domain.BulkStateEvent{
		EventID:    uuid.NewString(),
		EventType:  "bulk." + strings.ToLower(string(state)),
		BulkID:     b.ID,
		State:      state,
		Total:      c.Total,
		Completed:  c.Completed,
		Failed:     c.Failed,
		OccurredAt: at,
	}
}
