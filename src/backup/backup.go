// Package backup resolves pre-provisioned fallback PINs. Codes rotate every
// fortnight from a fixed epoch; a year holds 26 periods.
package backup

import (
	"daypass/src/models"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	Period        = 14 * 24 * time.Hour
	MaxFortnights = 26
)

// Epoch is the start of fortnight 1, 2026-01-17 00:00 AEDT.
var Epoch = time.Date(2026, time.January, 17, 0, 0, 0, 0, time.FixedZone("AEDT", 11*60*60))

var ErrNoBackupPincode = errors.New("no backup pincode available")

// FortnightNumber returns the 1-based period index containing t. ok is false
// before the epoch or past the last period.
func FortnightNumber(t time.Time) (n int, ok bool) {
	if t.Before(Epoch) {
		return 0, false
	}
	n = int(t.Sub(Epoch)/Period) + 1
	if n > MaxFortnights {
		return 0, false
	}
	return n, true
}

// PeriodBounds returns the [start, end) interval of fortnight n.
func PeriodBounds(n int) (time.Time, time.Time) {
	start := Epoch.Add(time.Duration(n-1) * Period)
	return start, start.Add(Period)
}

type Query struct {
	DeviceID uuid.UUID
	OrgID    *uuid.UUID
	SiteID   *uuid.UUID
}

// Lookup returns the backup pincode whose period contains at for the device.
func Lookup(tx *gorm.DB, q Query, at time.Time) (*models.BackupPincode, error) {
	at = at.UTC()
	stmt := tx.
		Model(&models.BackupPincode{}).
		Where("device_id = ?", q.DeviceID).
		Where("period_start <= ? AND period_end >= ?", at, at)
	if q.OrgID != nil {
		stmt = stmt.Where("org_id = ?", *q.OrgID)
	}
	if q.SiteID != nil {
		stmt = stmt.Where("site_id = ?", *q.SiteID)
	}
	var rows []models.BackupPincode
	if err := stmt.Order("period_start desc").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoBackupPincode
	}
	return &rows[0], nil
}

// Provision upserts the code for a device and fortnight, deriving the period
// bounds from the fortnight number.
func Provision(tx *gorm.DB, row models.BackupPincode) (*models.BackupPincode, error) {
	if row.FortnightNumber < 1 || row.FortnightNumber > MaxFortnights {
		return nil, errors.New("fortnight number out of range")
	}
	start, end := PeriodBounds(row.FortnightNumber)
	row.PeriodStart, row.PeriodEnd = start.UTC(), end.UTC()

	var existing models.BackupPincode
	err := tx.
		Where("device_id = ? AND fortnight_number = ?", row.DeviceID, row.FortnightNumber).
		First(&existing).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.
		Model(&existing).
		Updates(map[string]any{
			"org_id":       row.OrgID,
			"site_id":      row.SiteID,
			"pincode":      row.Pincode,
			"period_start": row.PeriodStart,
			"period_end":   row.PeriodEnd,
		}).
		Error; err != nil {
		return nil, err
	}
	existing.Pincode = row.Pincode
	return &existing, nil
}
