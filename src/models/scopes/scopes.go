package scopes

import (
	"time"

	"gorm.io/gorm"
)

func WithID(id any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithPassID(id any) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("pass_id = ?", id)
	}
}

func WithPendingStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", "pending")
}

func Undispatched(db *gorm.DB) *gorm.DB {
	return db.Where("dispatched_at IS NULL")
}

// DueBefore matches rows whose next_retry_at has elapsed at t.
func DueBefore(t time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", t)
	}
}
