// Package events defines the order lifecycle events published to the message
// bus and the publisher services use to emit them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
	"github.com/Additional-Code/printshop/internal/messaging"
)

// Type names a lifecycle event.
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	AttachmentAdded    Type = "attachment.added"
	AttachmentRemoved  Type = "attachment.removed"
	AttachmentOrphaned Type = "attachment.orphaned"
)

// HeaderType carries the event type on every bus message.
const HeaderType = "event-type"

// Event is the payload of every lifecycle message.
type Event struct {
	Type       Type      `json:"type"`
	OrderID    string    `json:"orderId"`
	Version    int64     `json:"version,omitempty"`
	Status     string    `json:"status,omitempty"`
	PrevStatus string    `json:"prevStatus,omitempty"`
	Price      int       `json:"price,omitempty"`
	PublicID   string    `json:"publicId,omitempty"`
	URL        string    `json:"url,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Decode parses an event from a bus message.
func Decode(msg messaging.Message) (Event, error) {
	var e Event
	err := json.Unmarshal(msg.Value, &e)
	return e, err
}

// Publisher emits lifecycle events. Publishing is best effort: failures are
// logged and never fail the operation that produced the event.
type Publisher struct {
	client  messaging.Client
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
}

// Module provides the Publisher.
var Module = fx.Provide(NewPublisher)

// NewPublisher wires a Publisher over the configured messaging client.
func NewPublisher(client messaging.Client, cfg config.Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		enabled: cfg.Messaging.Enabled,
		logger:  logger,
		now:     time.Now,
	}
}

// NewTestPublisher returns an always-enabled publisher over client.
func NewTestPublisher(client messaging.Client) *Publisher {
	return &Publisher{client: client, enabled: true, logger: zap.NewNop(), now: time.Now}
}

// Publish sends e keyed by its order id.
func (p *Publisher) Publish(ctx context.Context, e Event) {
	if p == nil || !p.enabled || p.client == nil {
		return
	}
	if e.At.IsZero() {
		e.At = p.now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal lifecycle event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	msg := messaging.Message{
		Key:     []byte(e.OrderID),
		Value:   payload,
		Headers: map[string]string{HeaderType: string(e.Type)},
	}
	if err := p.client.Publish(ctx, msg); err != nil {
		p.logger.Error("publish lifecycle event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}
