package delivery

import (
	"bytes"
	"context"
	"daypass/src/models"
	"daypass/src/models/scopes"
	"daypass/src/types"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultBatchSize = 50

type Worker struct {
	DB        *gorm.DB
	Client    *http.Client
	Clock     clockwork.Clock
	Policy    RetryPolicy
	BatchSize int
}

func NewWorker(db *gorm.DB) *Worker {
	return &Worker{
		DB:        db,
		Client:    &http.Client{Timeout: 10 * time.Second},
		Clock:     clockwork.NewRealClock(),
		Policy:    DefaultPolicy,
		BatchSize: DefaultBatchSize,
	}
}

type envelope struct {
	ID         string      `json:"id"`
	Topic      string      `json:"topic"`
	OccurredAt string      `json:"occurred_at"`
	Payload    types.JSONB `json:"payload"`
}

// DeliverPending fans each undispatched outbox event out to the active
// subscriptions of its organisation and marks the event dispatched. It
// returns the number of delivery attempts made.
func (w *Worker) DeliverPending(ctx context.Context) (int, error) {
	var events []models.OutboxEvent
	if err := w.DB.
		Scopes(scopes.Undispatched).
		Order("occurred_at asc").
		Limit(w.batchSize()).
		Find(&events).
		Error; err != nil {
		return 0, err
	}
	attempts := 0
	for i := range events {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		ev := &events[i]
		var subs []models.WebhookSubscription
		if err := w.DB.
			Where("org_id = ? AND active = ?", ev.OrgID, true).
			Find(&subs).
			Error; err != nil {
			return attempts, err
		}
		for j := range subs {
			sub := &subs[j]
			if !sub.Subscribes(ev.Topic) {
				continue
			}
			d := models.WebhookDelivery{
				SubscriptionID: sub.ID,
				OutboxEventID:  ev.ID,
				Status:         types.DELIVERY_PENDING,
			}
			res := w.DB.
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&d)
			if res.Error != nil {
				return attempts, fmt.Errorf("record delivery: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			w.attempt(ctx, sub, ev, &d)
			attempts++
		}
		now := w.Clock.Now().UTC()
		if err := w.DB.
			Model(&models.OutboxEvent{}).
			Scopes(scopes.WithID(ev.ID)).
			Update("dispatched_at", now).
			Error; err != nil {
			return attempts, err
		}
	}
	return attempts, nil
}

// RetryDue redelivers retrying deliveries whose backoff has elapsed.
func (w *Worker) RetryDue(ctx context.Context) (int, error) {
	var due []models.WebhookDelivery
	if err := w.DB.
		Where("status = ?", types.DELIVERY_RETRYING).
		Scopes(scopes.DueBefore(w.Clock.Now().UTC())).
		Order("next_retry_at asc").
		Limit(w.batchSize()).
		Find(&due).
		Error; err != nil {
		return 0, err
	}
	attempts := 0
	for i := range due {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		d := &due[i]
		var sub models.WebhookSubscription
		if err := w.DB.Scopes(scopes.WithID(d.SubscriptionID)).First(&sub).Error; err != nil {
			w.finish(d, types.DELIVERY_FAILED, nil, "subscription removed", nil)
			continue
		}
		if !sub.Active {
			w.finish(d, types.DELIVERY_FAILED, nil, "subscription inactive", nil)
			continue
		}
		var ev models.OutboxEvent
		if err := w.DB.Scopes(scopes.WithID(d.OutboxEventID)).First(&ev).Error; err != nil {
			w.finish(d, types.DELIVERY_FAILED, nil, "outbox event missing", nil)
			continue
		}
		w.attempt(ctx, &sub, &ev, d)
		attempts++
	}
	return attempts, nil
}

func (w *Worker) attempt(ctx context.Context, sub *models.WebhookSubscription, ev *models.OutboxEvent, d *models.WebhookDelivery) {
	d.Attempt++
	body, err := json.Marshal(envelope{
		ID:         ev.ID.String(),
		Topic:      ev.Topic,
		OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339),
		Payload:    ev.Payload,
	})
	if err != nil {
		w.finish(d, types.DELIVERY_FAILED, nil, err.Error(), nil)
		return
	}
	now := w.Clock.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		w.finish(d, types.DELIVERY_FAILED, nil, err.Error(), nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body, now))
	req.Header.Set(EventHeader, ev.Topic)
	req.Header.Set(DeliveryHeader, d.ID.String())

	status := 0
	resp, err := w.Client.Do(req)
	if err == nil {
		status = resp.StatusCode
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}
	if err == nil && status >= 200 && status < 300 {
		delivered := w.Clock.Now().UTC()
		w.finish(d, types.DELIVERY_SUCCESS, &status, "", nil)
		if err := w.DB.
			Model(&models.WebhookSubscription{}).
			Scopes(scopes.WithID(sub.ID)).
			Update("last_delivery_at", delivered).
			Error; err != nil {
			log.Printf("[Delivery] Error stamping subscription %s: %s\n", sub.ID, err.Error())
		}
		return
	}

	reason := fmt.Sprintf("subscriber responded %d", status)
	if err != nil {
		reason = err.Error()
	}
	var statusPtr *int
	if status > 0 {
		statusPtr = &status
	}
	if w.Policy.ShouldRetry(status, d.Attempt) {
		next := w.Clock.Now().Add(w.Policy.Delay(d.Attempt)).UTC()
		w.finish(d, types.DELIVERY_RETRYING, statusPtr, reason, &next)
		return
	}
	log.Printf("[Delivery] Giving up on delivery %s to %s after %d attempts: %s\n", d.ID, sub.URL, d.Attempt, reason)
	w.finish(d, types.DELIVERY_FAILED, statusPtr, reason, nil)
}

func (w *Worker) finish(d *models.WebhookDelivery, status types.DeliveryStatus, httpStatus *int, reason string, nextRetry *time.Time) {
	updates := map[string]any{
		"status":        status,
		"attempt":       d.Attempt,
		"http_status":   httpStatus,
		"next_retry_at": nextRetry,
	}
	if reason != "" {
		updates["last_error"] = reason
	} else {
		updates["last_error"] = nil
	}
	if status == types.DELIVERY_SUCCESS {
		updates["delivered_at"] = w.Clock.Now().UTC()
	}
	if err := w.DB.
		Model(&models.WebhookDelivery{}).
		Scopes(scopes.WithID(d.ID)).
		Updates(updates).
		Error; err != nil {
		log.Printf("[Delivery] Error recording delivery %s: %s\n", d.ID, err.Error())
		return
	}
	d.Status = status
	d.HTTPStatus = httpStatus
	d.NextRetryAt = nextRetry
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return w.BatchSize
}
