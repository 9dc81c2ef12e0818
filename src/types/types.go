package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type PassStatus string

const (
	PASS_PENDING        PassStatus = "pending"
	PASS_ACTIVE         PassStatus = "active"
	PASS_PAYMENT_FAILED PassStatus = "payment_failed"
	PASS_CANCELLED      PassStatus = "cancelled"
)

type PaymentStatus string

const (
	PAYMENT_PENDING   PaymentStatus = "pending"
	PAYMENT_SUCCEEDED PaymentStatus = "succeeded"
	PAYMENT_FAILED    PaymentStatus = "failed"
)

type LockCodeStatus string

const (
	LOCK_CODE_PENDING   LockCodeStatus = "pending"
	LOCK_CODE_ACTIVE    LockCodeStatus = "active"
	LOCK_CODE_EXPIRED   LockCodeStatus = "expired"
	LOCK_CODE_CANCELLED LockCodeStatus = "cancelled"
)

type PinProvider string

const (
	PIN_PROVIDER_ROOMS  PinProvider = "rooms"
	PIN_PROVIDER_BACKUP PinProvider = "backup"
	PIN_PROVIDER_MANUAL PinProvider = "manual"
)

type WebhookEventStatus string

const (
	WEBHOOK_EVENT_PROCESSING WebhookEventStatus = "processing"
	WEBHOOK_EVENT_COMPLETED  WebhookEventStatus = "completed"
	WEBHOOK_EVENT_FAILED     WebhookEventStatus = "failed"
	WEBHOOK_EVENT_REJECTED   WebhookEventStatus = "rejected"
)

type DeliveryStatus string

const (
	DELIVERY_PENDING  DeliveryStatus = "pending"
	DELIVERY_SUCCESS  DeliveryStatus = "success"
	DELIVERY_RETRYING DeliveryStatus = "retrying"
	DELIVERY_FAILED   DeliveryStatus = "failed"
)

// Reservation statuses understood by the Rooms API.
const (
	ROOMS_STATUS_PENDING   = "Pending"
	ROOMS_STATUS_CONFIRMED = "Confirmed"
)

const TOPIC_PASS_PAID = "pass.pass_paid.v1"

type CreateCheckoutRequestBody struct {
	AccessPointID string `json:"access_point_id" binding:"required,uuid"`
	PassTypeID    string `json:"pass_type_id" binding:"required,uuid"`
	Email         string `json:"email" binding:"omitempty,email"`
	Phone         string `json:"phone" binding:"omitempty,max=32"`
	Name          string `json:"name" binding:"omitempty,max=120"`
	VehiclePlate  string `json:"vehicle_plate" binding:"omitempty,max=16"`
	NumberOfDays  int    `json:"number_of_days" binding:"omitempty,min=1,max=366"`
	StartDate     string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
}

type CreateSubscriptionRequestBody struct {
	URL    string   `json:"url" binding:"required,url"`
	Topics []string `json:"topics" binding:"required,min=1,dive,required"`
}

type BackupPincodeItem struct {
	SiteID          string `json:"site_id" binding:"required,uuid"`
	DeviceID        string `json:"device_id" binding:"required,uuid"`
	FortnightNumber int    `json:"fortnight_number" binding:"required,min=1,max=26"`
	Pincode         string `json:"pincode" binding:"required,numeric,min=4,max=8"`
}

type ProvisionBackupPincodesRequestBody struct {
	Items []BackupPincodeItem `json:"items" binding:"required,min=1,dive"`
}

type SimpleRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type UpdateSubscriptionRequestBody struct {
	URL    *string  `json:"url" binding:"omitempty,url"`
	Topics []string `json:"topics" binding:"omitempty,min=1,dive,required"`
	Active *bool    `json:"active"`
}

type RoomsPinRequestBody struct {
	ReservationID string `json:"reservationId" binding:"required,uuid"`
	Pin           string `json:"pin" binding:"required,numeric,min=4,max=12"`
}
