package types

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Keys of the metadata bag attached to a PaymentIntent at checkout and echoed
// back on every payment webhook.
const (
	MD_PASS_ID           = "pass_id"
	MD_ORG_SLUG          = "org_slug"
	MD_ORG_ID            = "org_id"
	MD_ACCESS_POINT_ID   = "access_point_id"
	MD_ACCESS_POINT_NAME = "access_point_name"
	MD_SITE_ID           = "site_id"
	MD_CUSTOMER_EMAIL    = "customer_email"
	MD_CUSTOMER_PHONE    = "customer_phone"
	MD_CUSTOMER_NAME     = "customer_name"
	MD_BACKUP_PINCODE    = "backup_pincode"
	MD_NUMBER_OF_DAYS    = "number_of_days"
	MD_STARTS_AT         = "starts_at"
	MD_ENDS_AT           = "ends_at"
	MD_TIMEZONE          = "timezone"
	MD_VEHICLE_PLATE     = "vehicle_plate"
	MD_ORG_NAME          = "org_name"
	MD_PASS_TYPE_NAME    = "pass_type_name"
	MD_ERROR_REASON      = "error_reason"
)

const metadataTimeLayout = time.RFC3339

var validate = validator.New()

// PaidMetadata is the validated metadata of a checkout_completed or
// payment_succeeded event.
type PaidMetadata struct {
	PassID          string `json:"pass_id" validate:"required,uuid"`
	OrgSlug         string `json:"org_slug,omitempty" validate:"required_without=OrgID,max=120"`
	OrgID           string `json:"org_id,omitempty" validate:"omitempty,uuid"`
	AccessPointID   string `json:"access_point_id" validate:"required,uuid"`
	AccessPointName string `json:"access_point_name,omitempty" validate:"max=120"`
	SiteID          string `json:"site_id,omitempty" validate:"omitempty,uuid"`
	CustomerEmail   string `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerPhone   string `json:"customer_phone,omitempty" validate:"max=32"`
	CustomerName    string `json:"customer_name,omitempty" validate:"max=120"`
	BackupPincode   string `json:"backup_pincode,omitempty" validate:"omitempty,number,min=4,max=8"`
	NumberOfDays    string `json:"number_of_days,omitempty" validate:"omitempty,number"`
	StartsAt        string `json:"starts_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndsAt          string `json:"ends_at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Timezone        string `json:"timezone,omitempty" validate:"max=64"`
	VehiclePlate    string `json:"vehicle_plate,omitempty" validate:"max=16"`
	OrgName         string `json:"org_name,omitempty" validate:"max=120"`
	PassTypeName    string `json:"pass_type_name,omitempty" validate:"max=120"`
}

// FailedMetadata is the validated metadata of a payment_failed event. A
// missing pass id is legal and makes the event a no-op.
type FailedMetadata struct {
	PassID      string `json:"pass_id,omitempty" validate:"omitempty,uuid"`
	ErrorReason string `json:"error_reason,omitempty" validate:"max=500"`
}

func ParsePaidMetadata(md map[string]string) (*PaidMetadata, error) {
	m := &PaidMetadata{
		PassID:          md[MD_PASS_ID],
		OrgSlug:         md[MD_ORG_SLUG],
		OrgID:           md[MD_ORG_ID],
		AccessPointID:   md[MD_ACCESS_POINT_ID],
		AccessPointName: md[MD_ACCESS_POINT_NAME],
		SiteID:          md[MD_SITE_ID],
		CustomerEmail:   md[MD_CUSTOMER_EMAIL],
		CustomerPhone:   md[MD_CUSTOMER_PHONE],
		CustomerName:    md[MD_CUSTOMER_NAME],
		BackupPincode:   md[MD_BACKUP_PINCODE],
		NumberOfDays:    md[MD_NUMBER_OF_DAYS],
		StartsAt:        md[MD_STARTS_AT],
		EndsAt:          md[MD_ENDS_AT],
		Timezone:        md[MD_TIMEZONE],
		VehiclePlate:    md[MD_VEHICLE_PLATE],
		OrgName:         md[MD_ORG_NAME],
		PassTypeName:    md[MD_PASS_TYPE_NAME],
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid payment metadata: %w", err)
	}
	return m, nil
}

func ParseFailedMetadata(md map[string]string) (*FailedMetadata, error) {
	m := &FailedMetadata{
		PassID:      md[MD_PASS_ID],
		ErrorReason: md[MD_ERROR_REASON],
	}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid payment metadata: %w", err)
	}
	return m, nil
}

// Days returns number_of_days, or 0 when absent.
func (m *PaidMetadata) Days() int {
	d, err := strconv.Atoi(m.NumberOfDays)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Window returns the access window captured at payment-intent time. Either
// bound may be nil. A missing end is derived from number_of_days.
func (m *PaidMetadata) Window() (*time.Time, *time.Time) {
	var start, end *time.Time
	if t, err := time.Parse(metadataTimeLayout, m.StartsAt); err == nil {
		start = &t
	}
	if t, err := time.Parse(metadataTimeLayout, m.EndsAt); err == nil {
		end = &t
	}
	if start != nil && end == nil && m.Days() > 0 {
		t := start.Add(time.Duration(m.Days()) * 24 * time.Hour)
		end = &t
	}
	if start != nil && end != nil && !end.After(*start) {
		return nil, nil
	}
	return start, end
}

// ToMap renders the metadata back into the provider's string bag, dropping
// empty values.
func (m *PaidMetadata) ToMap() map[string]string {
	out := map[string]string{
		MD_PASS_ID:           m.PassID,
		MD_ORG_SLUG:          m.OrgSlug,
		MD_ORG_ID:            m.OrgID,
		MD_ACCESS_POINT_ID:   m.AccessPointID,
		MD_ACCESS_POINT_NAME: m.AccessPointName,
		MD_SITE_ID:           m.SiteID,
		MD_CUSTOMER_EMAIL:    m.CustomerEmail,
		MD_CUSTOMER_PHONE:    m.CustomerPhone,
		MD_CUSTOMER_NAME:     m.CustomerName,
		MD_BACKUP_PINCODE:    m.BackupPincode,
		MD_NUMBER_OF_DAYS:    m.NumberOfDays,
		MD_STARTS_AT:         m.StartsAt,
		MD_ENDS_AT:           m.EndsAt,
		MD_TIMEZONE:          m.Timezone,
		MD_VEHICLE_PLATE:     m.VehiclePlate,
		MD_ORG_NAME:          m.OrgName,
		MD_PASS_TYPE_NAME:    m.PassTypeName,
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

func FormatMetadataTime(t time.Time) string {
	return t.Format(metadataTimeLayout)
}
