package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base gives a model a uuid primary key generated on create.
type Base struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
