package models

import (
	"daypass/src/types"
	"time"

	"github.com/google/uuid"
)

type Pass struct {
	Base

	OrgID          uuid.UUID        `gorm:"type:uuid;index" json:"org_id"`
	SiteID         *uuid.UUID       `gorm:"type:uuid" json:"site_id,omitempty"`
	DeviceID       uuid.UUID        `gorm:"type:uuid;index" json:"device_id"`
	PassTypeID     uuid.UUID        `gorm:"type:uuid" json:"pass_type_id"`
	Status         types.PassStatus `gorm:"default:'pending';index" json:"status"`
	VehiclePlate   *string          `json:"vehicle_plate,omitempty"`
	PurchaserEmail *string          `json:"purchaser_email,omitempty"`
	PurchaserPhone *string          `json:"purchaser_phone,omitempty"`
	PurchaserName  *string          `json:"purchaser_name,omitempty"`
	NumberOfDays   int              `gorm:"default:1" json:"number_of_days"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidTo        *time.Time       `json:"valid_to,omitempty"`

	types.Timestamps
}

type Payment struct {
	Base

	PassID                  uuid.UUID           `gorm:"type:uuid;index" json:"pass_id"`
	ProviderCheckoutSession *string             `gorm:"index" json:"provider_checkout_session,omitempty"`
	ProviderPaymentIntent   *string             `gorm:"index" json:"provider_payment_intent,omitempty"`
	AmountCents             int64               `json:"amount_cents"`
	Currency                string              `json:"currency"`
	Status                  types.PaymentStatus `gorm:"default:'pending';index" json:"status"`
	FailureReason           *string             `json:"failure_reason,omitempty"`
	Metadata                types.JSONB         `gorm:"type:jsonb" json:"metadata,omitempty"`

	types.Timestamps
}

// BackupPincode returns the PIN captured into the payment metadata at
// checkout, if any.
func (p *Payment) BackupPincode() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[types.MD_BACKUP_PINCODE].(string); ok {
		return v
	}
	return ""
}

// LockCode is the PIN presented to the purchaser. Rows are hard deleted so
// the unique pass_id index stays usable for upserts.
type LockCode struct {
	Base

	PassID      uuid.UUID            `gorm:"type:uuid;uniqueIndex" json:"pass_id"`
	Code        *string              `json:"code,omitempty"`
	Status      types.LockCodeStatus `gorm:"default:'pending'" json:"status"`
	Provider    types.PinProvider    `json:"provider"`
	ProviderRef string               `gorm:"index" json:"provider_ref"`
	StartsAt    *time.Time           `json:"starts_at,omitempty"`
	EndsAt      *time.Time           `json:"ends_at,omitempty"`
	EmailSentAt *time.Time           `json:"email_sent_at,omitempty"`
	CreatedAt   time.Time            `gorm:"autoCreateTime:nano" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"autoUpdateTime:nano" json:"updated_at"`
}

type BackupPincode struct {
	Base

	OrgID           uuid.UUID `gorm:"type:uuid;index" json:"org_id"`
	SiteID          uuid.UUID `gorm:"type:uuid" json:"site_id"`
	DeviceID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_device_fortnight" json:"device_id"`
	FortnightNumber int       `gorm:"uniqueIndex:idx_device_fortnight" json:"fortnight_number"`
	Pincode         string    `json:"-"`
	PeriodStart     time.Time `gorm:"index" json:"period_start"`
	PeriodEnd       time.Time `gorm:"index" json:"period_end"`

	types.Timestamps
}
