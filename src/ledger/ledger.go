// Package ledger holds the named write paths for passes, payments, lock codes,
// outbox events and the webhook dedup table. All mutation of those tables goes
// through here.
package ledger

import (
	"daypass/src/models"
	"daypass/src/models/scopes"
	"daypass/src/types"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPassNotFound     = errors.New("pass not found")
	ErrLockCodeNotFound = errors.New("lock code not found")
	ErrInvalidWindow    = errors.New("access window end must be after start")
)

func GetPass(tx *gorm.DB, id uuid.UUID) (*models.Pass, error) {
	var pass models.Pass
	err := tx.
		Model(&models.Pass{}).
		Scopes(scopes.WithID(id)).
		First(&pass).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPassNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pass, nil
}

// ActivatePass moves a pass to active with the given access window. It returns
// wasActive=true and leaves the row untouched if the pass is already active.
// A cancelled pass is reactivated: a succeeded payment outranks an earlier
// failure on the same intent.
func ActivatePass(tx *gorm.DB, id uuid.UUID, from, to time.Time) (pass *models.Pass, wasActive bool, err error) {
	if !to.After(from) {
		return nil, false, ErrInvalidWindow
	}
	var p models.Pass
	err = tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(scopes.WithID(id)).
		First(&p).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrPassNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if p.Status == types.PASS_ACTIVE && p.ValidFrom != nil && p.ValidTo != nil {
		return &p, true, nil
	}
	if p.Status != types.PASS_PENDING && p.Status != types.PASS_ACTIVE {
		log.Printf("[Ledger] Reactivating pass %s from status %s\n", id, p.Status)
	}
	from, to = from.UTC(), to.UTC()
	if err := tx.
		Model(&models.Pass{}).
		Scopes(scopes.WithID(id)).
		Updates(map[string]any{
			"status":     types.PASS_ACTIVE,
			"valid_from": from,
			"valid_to":   to,
		}).
		Error; err != nil {
		return nil, false, fmt.Errorf("activate pass: %w", err)
	}
	p.Status = types.PASS_ACTIVE
	p.ValidFrom = &from
	p.ValidTo = &to
	return &p, false, nil
}

// CancelPass marks a pass cancelled after a failed payment.
func CancelPass(tx *gorm.DB, id uuid.UUID) error {
	res := tx.
		Model(&models.Pass{}).
		Scopes(scopes.WithID(id)).
		Update("status", types.PASS_CANCELLED)
	if res.Error != nil {
		return fmt.Errorf("cancel pass: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPassNotFound
	}
	return nil
}

// PaymentRef identifies a provider charge.
type PaymentRef struct {
	SessionID   string
	IntentID    string
	AmountCents int64
	Currency    string
}

// UpsertPaymentSucceeded marks the payment for pass as succeeded. The row is
// found by session or intent id, else the pending checkout row is reused, else
// a new row is created.
func UpsertPaymentSucceeded(tx *gorm.DB, passID uuid.UUID, ref PaymentRef) (*models.Payment, error) {
	payment, err := findPayment(tx, passID, ref)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		payment = &models.Payment{
			PassID:      passID,
			AmountCents: ref.AmountCents,
			Currency:    ref.Currency,
			Status:      types.PAYMENT_SUCCEEDED,
		}
		if ref.SessionID != "" {
			payment.ProviderCheckoutSession = &ref.SessionID
		}
		if ref.IntentID != "" {
			payment.ProviderPaymentIntent = &ref.IntentID
		}
		if err := tx.Create(payment).Error; err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		return payment, nil
	}

	updates := map[string]any{"status": types.PAYMENT_SUCCEEDED}
	if ref.SessionID != "" && payment.ProviderCheckoutSession == nil {
		updates["provider_checkout_session"] = ref.SessionID
		payment.ProviderCheckoutSession = &ref.SessionID
	}
	if ref.IntentID != "" && payment.ProviderPaymentIntent == nil {
		updates["provider_payment_intent"] = ref.IntentID
		payment.ProviderPaymentIntent = &ref.IntentID
	}
	if ref.AmountCents > 0 {
		updates["amount_cents"] = ref.AmountCents
		payment.AmountCents = ref.AmountCents
	}
	if ref.Currency != "" {
		updates["currency"] = ref.Currency
		payment.Currency = ref.Currency
	}
	if err := tx.
		Model(&models.Payment{}).
		Scopes(scopes.WithID(payment.ID)).
		Updates(updates).
		Error; err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	payment.Status = types.PAYMENT_SUCCEEDED
	return payment, nil
}

func findPayment(tx *gorm.DB, passID uuid.UUID, ref PaymentRef) (*models.Payment, error) {
	var payments []models.Payment
	q := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(scopes.WithPassID(passID))
	switch {
	case ref.SessionID != "" && ref.IntentID != "":
		q = q.Where("provider_checkout_session = ? OR provider_payment_intent = ?", ref.SessionID, ref.IntentID)
	case ref.SessionID != "":
		q = q.Where("provider_checkout_session = ?", ref.SessionID)
	case ref.IntentID != "":
		q = q.Where("provider_payment_intent = ?", ref.IntentID)
	default:
		q = q.Where("1 = 0")
	}
	if err := q.Order("created_at asc").Limit(1).Find(&payments).Error; err != nil {
		return nil, err
	}
	if len(payments) > 0 {
		return &payments[0], nil
	}
	if err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(scopes.WithPassID(passID), scopes.WithPendingStatus).
		Order("created_at desc").
		Limit(1).
		Find(&payments).
		Error; err != nil {
		return nil, err
	}
	if len(payments) > 0 {
		return &payments[0], nil
	}
	return nil, nil
}

// FailPayment marks the pass's unsettled payments failed. A failed row keyed
// by intentID is created when none exists.
func FailPayment(tx *gorm.DB, passID uuid.UUID, intentID string, reason string) error {
	updates := map[string]any{"status": types.PAYMENT_FAILED}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	q := tx.
		Model(&models.Payment{}).
		Scopes(scopes.WithPassID(passID)).
		Where("status <> ?", types.PAYMENT_SUCCEEDED)
	if intentID != "" {
		q = q.Where("provider_payment_intent = ? OR provider_payment_intent IS NULL", intentID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("fail payment: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	payment := models.Payment{
		PassID: passID,
		Status: types.PAYMENT_FAILED,
	}
	if intentID != "" {
		payment.ProviderPaymentIntent = &intentID
	}
	if reason != "" {
		payment.FailureReason = &reason
	}
	return tx.Create(&payment).Error
}

// LatestPayment returns the newest payment for a pass, or nil.
func LatestPayment(tx *gorm.DB, passID uuid.UUID) (*models.Payment, error) {
	var payments []models.Payment
	if err := tx.
		Scopes(scopes.WithPassID(passID)).
		Order("created_at desc").
		Limit(1).
		Find(&payments).
		Error; err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}
