package models

import (
	"daypass/src/types"

	"github.com/google/uuid"
)

type Organization struct {
	Base

	Name         string `json:"name"`
	Slug         string `gorm:"uniqueIndex" json:"slug"`
	Timezone     string `json:"timezone,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	SupportPhone string `json:"support_phone,omitempty"`

	types.Timestamps
}

type Site struct {
	Base

	OrgID    uuid.UUID `gorm:"type:uuid;index" json:"org_id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	Timezone string    `json:"timezone,omitempty"`

	types.Timestamps
}

// Device is a physical access point (gate, boom, ramp) that accepts PINs.
type Device struct {
	Base

	OrgID  uuid.UUID  `gorm:"type:uuid;index" json:"org_id"`
	SiteID *uuid.UUID `gorm:"type:uuid;index" json:"site_id,omitempty"`
	Name   string     `json:"name"`
	Slug   string     `json:"slug"`

	types.Timestamps
}

type PassType struct {
	Base

	OrgID        uuid.UUID `gorm:"type:uuid;index" json:"org_id"`
	Name         string    `json:"name"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `gorm:"default:'aud'" json:"currency"`
	DurationDays int       `gorm:"default:1" json:"duration_days"`
	Active       bool      `gorm:"default:true" json:"active"`

	types.Timestamps
}

// IntegrationConfig holds per-organisation settings for an external
// reservation provider.
type IntegrationConfig struct {
	Base

	OrgID       uuid.UUID `gorm:"type:uuid;index" json:"org_id"`
	Provider    string    `gorm:"index" json:"provider"`
	BaseURL     string    `json:"base_url"`
	WebhookPath string    `json:"webhook_path"`
	PropertyID  string    `json:"property_id,omitempty"`
	APIKey      string    `json:"-"`
	Active      bool      `json:"active"`

	types.Timestamps
}
