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

type LockCodeInput struct {
	PassID   uuid.UUID
	Code     string
	Provider types.PinProvider
	StartsAt time.Time
	EndsAt   time.Time
}

// UpsertLockCode ensures exactly one lock code row exists for the pass. The
// insert relies on the unique pass_id index. A code already present on the
// row is never overwritten.
func UpsertLockCode(tx *gorm.DB, in LockCodeInput) (*models.LockCode, error) {
	startsAt, endsAt := in.StartsAt.UTC(), in.EndsAt.UTC()
	lc := models.LockCode{
		PassID:      in.PassID,
		Status:      types.LOCK_CODE_PENDING,
		Provider:    in.Provider,
		ProviderRef: in.PassID.String(),
		StartsAt:    &startsAt,
		EndsAt:      &endsAt,
	}
	if in.Code != "" {
		lc.Code = &in.Code
		lc.Status = types.LOCK_CODE_ACTIVE
	}
	if err := tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pass_id"}},
			DoNothing: true,
		}).
		Create(&lc).
		Error; err != nil {
		return nil, fmt.Errorf("insert lock code: %w", err)
	}
	if in.Code != "" {
		if err := tx.
			Model(&models.LockCode{}).
			Scopes(scopes.WithPassID(in.PassID)).
			Where("code IS NULL").
			Updates(map[string]any{
				"code":      in.Code,
				"status":    types.LOCK_CODE_ACTIVE,
				"provider":  in.Provider,
				"starts_at": startsAt,
				"ends_at":   endsAt,
			}).
			Error; err != nil {
			return nil, fmt.Errorf("fill lock code: %w", err)
		}
	}
	return GetLockCode(tx, in.PassID)
}

func GetLockCode(tx *gorm.DB, passID uuid.UUID) (*models.LockCode, error) {
	var lc models.LockCode
	err := tx.
		Scopes(scopes.WithPassID(passID)).
		First(&lc).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLockCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lc, nil
}

// AssignProviderCode stores a PIN delivered asynchronously by the reservation
// provider, replacing any backup code.
func AssignProviderCode(tx *gorm.DB, providerRef string, code string) (*models.LockCode, error) {
	res := tx.
		Model(&models.LockCode{}).
		Where("provider_ref = ?", providerRef).
		Updates(map[string]any{
			"code":     code,
			"status":   types.LOCK_CODE_ACTIVE,
			"provider": types.PIN_PROVIDER_ROOMS,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("assign provider code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrLockCodeNotFound
	}
	var lc models.LockCode
	if err := tx.Where("provider_ref = ?", providerRef).First(&lc).Error; err != nil {
		return nil, err
	}
	return &lc, nil
}

// ClaimEmail stamps email_sent_at once. It reports whether the caller won the
// right to send the purchaser email.
func ClaimEmail(tx *gorm.DB, passID uuid.UUID, at time.Time) (bool, error) {
	res := tx.
		Model(&models.LockCode{}).
		Scopes(scopes.WithPassID(passID)).
		Where("email_sent_at IS NULL").
		Update("email_sent_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func DeleteLockCode(tx *gorm.DB, passID uuid.UUID) (int64, error) {
	res := tx.
		Scopes(scopes.WithPassID(passID)).
		Delete(&models.LockCode{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete lock code: %w", res.Error)
	}
	return res.RowsAffected, nil
}
