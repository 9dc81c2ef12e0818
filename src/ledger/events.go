package ledger

import (
	"daypass/src/models"
	"daypass/src/models/scopes"
	"daypass/src/types"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClaimResult int

const (
	// ClaimAcquired means the caller owns processing of the event.
	ClaimAcquired ClaimResult = iota
	// ClaimDuplicate means the event already reached a terminal state.
	ClaimDuplicate
	// ClaimInFlight means another worker is processing the event.
	ClaimInFlight
)

func (c ClaimResult) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimInFlight:
		return "in_flight"
	}
	return "unknown"
}

type EventRecord struct {
	ID        string
	Provider  string
	EventType string
	Payload   string
}

// ClaimEvent records the event as processing before any side effect runs.
// Failed events, and processing events older than staleAfter, can be claimed
// again.
func ClaimEvent(tx *gorm.DB, ev EventRecord, now time.Time, staleAfter time.Duration) (ClaimResult, error) {
	now = now.UTC()
	row := models.ProcessedWebhookEvent{
		ID:        ev.ID,
		Provider:  ev.Provider,
		EventType: ev.EventType,
		Status:    types.WEBHOOK_EVENT_PROCESSING,
		Attempts:  1,
		StartedAt: now,
		Payload:   ev.Payload,
	}
	res := tx.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return 0, fmt.Errorf("claim event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return ClaimAcquired, nil
	}

	var existing models.ProcessedWebhookEvent
	if err := tx.Scopes(scopes.WithID(ev.ID)).First(&existing).Error; err != nil {
		return 0, fmt.Errorf("load claimed event: %w", err)
	}
	switch existing.Status {
	case types.WEBHOOK_EVENT_COMPLETED, types.WEBHOOK_EVENT_REJECTED:
		return ClaimDuplicate, nil
	case types.WEBHOOK_EVENT_PROCESSING:
		if now.Sub(existing.StartedAt) < staleAfter {
			return ClaimInFlight, nil
		}
	}
	return reclaim(tx, &existing, now)
}

// ReclaimEvent claims a stored event for a recovery run.
func ReclaimEvent(tx *gorm.DB, id string, now time.Time) (ClaimResult, error) {
	var existing models.ProcessedWebhookEvent
	if err := tx.Scopes(scopes.WithID(id)).First(&existing).Error; err != nil {
		return 0, err
	}
	if existing.Status == types.WEBHOOK_EVENT_COMPLETED || existing.Status == types.WEBHOOK_EVENT_REJECTED {
		return ClaimDuplicate, nil
	}
	return reclaim(tx, &existing, now.UTC())
}

func reclaim(tx *gorm.DB, existing *models.ProcessedWebhookEvent, now time.Time) (ClaimResult, error) {
	// attempts doubles as a compare-and-swap token between racing workers.
	res := tx.
		Model(&models.ProcessedWebhookEvent{}).
		Where("id = ? AND status = ? AND attempts = ?", existing.ID, existing.Status, existing.Attempts).
		Updates(map[string]any{
			"status":     types.WEBHOOK_EVENT_PROCESSING,
			"attempts":   existing.Attempts + 1,
			"started_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ClaimInFlight, nil
	}
	return ClaimAcquired, nil
}

func CompleteEvent(tx *gorm.DB, id string, now time.Time) error {
	return finishEvent(tx, id, map[string]any{
		"status":       types.WEBHOOK_EVENT_COMPLETED,
		"completed_at": now.UTC(),
		"last_error":   nil,
	})
}

// FailEvent leaves the event reclaimable by provider retries and recovery.
func FailEvent(tx *gorm.DB, id string, cause error) error {
	msg := cause.Error()
	return finishEvent(tx, id, map[string]any{
		"status":     types.WEBHOOK_EVENT_FAILED,
		"last_error": msg,
	})
}

// RejectEvent marks an event terminally unprocessable.
func RejectEvent(tx *gorm.DB, id string, cause error, now time.Time) error {
	msg := cause.Error()
	return finishEvent(tx, id, map[string]any{
		"status":       types.WEBHOOK_EVENT_REJECTED,
		"completed_at": now.UTC(),
		"last_error":   msg,
	})
}

func finishEvent(tx *gorm.DB, id string, updates map[string]any) error {
	res := tx.
		Model(&models.ProcessedWebhookEvent{}).
		Scopes(scopes.WithID(id)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("webhook event not found: " + id)
	}
	return nil
}

// RecoverableEvents lists failed events and processing events stuck longer
// than staleAfter, with fewer than maxAttempts attempts.
func RecoverableEvents(tx *gorm.DB, now time.Time, staleAfter time.Duration, maxAttempts, limit int) ([]models.ProcessedWebhookEvent, error) {
	var events []models.ProcessedWebhookEvent
	cutoff := now.UTC().Add(-staleAfter)
	err := tx.
		Where("attempts < ?", maxAttempts).
		Where("status = ? OR (status = ? AND started_at < ?)", types.WEBHOOK_EVENT_FAILED, types.WEBHOOK_EVENT_PROCESSING, cutoff).
		Order("started_at asc").
		Limit(limit).
		Find(&events).
		Error
	return events, err
}

// AppendOutboxEvent appends a domain event about a pass unless one with the
// same topic already exists for it. The unique (aggregate_id, topic) index
// decides between concurrent writers. It reports whether a row was written.
func AppendOutboxEvent(tx *gorm.DB, orgID, passID uuid.UUID, topic string, payload types.JSONB, occurredAt time.Time) (bool, error) {
	ev := models.OutboxEvent{
		OrgID:       orgID,
		AggregateID: passID,
		Topic:       topic,
		Payload:     payload,
		OccurredAt:  occurredAt.UTC(),
	}
	res := tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "aggregate_id"}, {Name: "topic"}},
			DoNothing: true,
		}).
		Create(&ev)
	if res.Error != nil {
		return false, fmt.Errorf("append outbox event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
