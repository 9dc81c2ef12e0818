package models

import (
	"daypass/src/types"
	"time"

	"github.com/google/uuid"
)

// ProcessedWebhookEvent is the dedup ledger for inbound provider events. The
// primary key is the provider's event id.
type ProcessedWebhookEvent struct {
	ID          string                   `gorm:"primarykey" json:"id"`
	Provider    string                   `gorm:"index" json:"provider"`
	EventType   string                   `json:"event_type"`
	Status      types.WebhookEventStatus `gorm:"index" json:"status"`
	Attempts    int                      `json:"attempts"`
	StartedAt   time.Time                `gorm:"index" json:"started_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Payload     string                   `gorm:"type:text" json:"-"`
	LastError   *string                  `json:"last_error,omitempty"`
	CreatedAt   time.Time                `gorm:"autoCreateTime:nano" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"autoUpdateTime:nano" json:"updated_at"`
}

// OutboxEvent is an append-only domain event awaiting delivery to
// subscribers. AggregateID is the pass the event is about.
type OutboxEvent struct {
	Base

	OrgID        uuid.UUID   `gorm:"type:uuid;index" json:"org_id"`
	AggregateID  uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_outbox_aggregate_topic" json:"aggregate_id"`
	Topic        string      `gorm:"index;uniqueIndex:idx_outbox_aggregate_topic" json:"topic"`
	Payload      types.JSONB `gorm:"type:jsonb" json:"payload"`
	OccurredAt   time.Time   `json:"occurred_at"`
	DispatchedAt *time.Time  `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time   `gorm:"autoCreateTime:nano" json:"created_at"`
}

type WebhookSubscription struct {
	Base

	OrgID          uuid.UUID  `gorm:"type:uuid;index" json:"org_id"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Topics         []string   `gorm:"serializer:json" json:"topics"`
	Active         bool       `gorm:"default:true" json:"active"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`

	types.Timestamps
}

// Subscribes reports whether the subscription lists topic.
func (s *WebhookSubscription) Subscribes(topic string) bool {
	for _, t := range s.Topics {
		if t == topic || t == "*" {
			return true
		}
	}
	return false
}

type WebhookDelivery struct {
	Base

	SubscriptionID uuid.UUID            `gorm:"type:uuid;uniqueIndex:idx_subscription_event" json:"subscription_id"`
	OutboxEventID  uuid.UUID            `gorm:"type:uuid;uniqueIndex:idx_subscription_event" json:"outbox_event_id"`
	Status         types.DeliveryStatus `gorm:"index" json:"status"`
	Attempt        int                  `json:"attempt"`
	HTTPStatus     *int                 `json:"http_status,omitempty"`
	NextRetryAt    *time.Time           `gorm:"index" json:"next_retry_at,omitempty"`
	LastError      *string              `json:"last_error,omitempty"`
	DeliveredAt    *time.Time           `json:"delivered_at,omitempty"`
	CreatedAt      time.Time            `gorm:"autoCreateTime:nano" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime:nano" json:"updated_at"`
}

// IntegrationLog records one outbound call to an external integration.
type IntegrationLog struct {
	Base

	OrgID          uuid.UUID  `gorm:"type:uuid;index" json:"org_id"`
	PassID         *uuid.UUID `gorm:"type:uuid;index" json:"pass_id,omitempty"`
	Provider       string     `json:"provider"`
	URL            string     `json:"url"`
	RequestBody    string     `gorm:"type:text" json:"request_body"`
	ResponseStatus int        `json:"response_status"`
	ResponseBody   string     `gorm:"type:text" json:"response_body"`
	Success        bool       `json:"success"`
	Error          *string    `json:"error,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime:nano" json:"created_at"`
}
