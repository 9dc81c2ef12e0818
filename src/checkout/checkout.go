// Package checkout opens a pass purchase: a pending pass and payment, a
// PaymentIntent carrying the full reconciliation metadata, and a pending
// reservation with the Rooms gateway.
package checkout

import (
	"context"
	"daypass/src/backup"
	"daypass/src/ledger"
	"daypass/src/lib"
	"daypass/src/models"
	"daypass/src/rooms"
	"daypass/src/types"
	"daypass/src/utils"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

var (
	ErrAccessPointNotFound = errors.New("access point not found")
	ErrPassTypeNotFound    = errors.New("pass type not found")
	ErrInvalidStartDate    = errors.New("invalid start date")
	ErrPaymentProvider     = errors.New("payment provider error")
)

// IntentCreator creates the provider-side payment for a checkout.
type IntentCreator interface {
	Create(ctx context.Context, in lib.PaymentIntentInput) (*stripe.PaymentIntent, error)
}

type Request struct {
	AccessPointID uuid.UUID
	PassTypeID    uuid.UUID
	Email         string
	Phone         string
	Name          string
	VehiclePlate  string
	NumberOfDays  int
	// StartDate is a calendar date in the site's timezone. Empty means now.
	StartDate string
}

type Result struct {
	PassID          uuid.UUID `json:"pass_id"`
	PaymentIntentID string    `json:"payment_intent"`
	ClientSecret    string    `json:"client_secret"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidTo         time.Time `json:"valid_to"`
	BackupCaptured  bool      `json:"-"`
}

type Service struct {
	DB      *gorm.DB
	Intents IntentCreator
	Gateway rooms.Gateway
	Clock   clockwork.Clock
}

func NewService(db *gorm.DB, intents IntentCreator, gateway rooms.Gateway) *Service {
	return &Service{DB: db, Intents: intents, Gateway: gateway, Clock: clockwork.NewRealClock()}
}

func (s *Service) Create(ctx context.Context, req Request) (*Result, error) {
	var device models.Device
	if err := s.DB.Where("id = ?", req.AccessPointID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccessPointNotFound
		}
		return nil, err
	}
	var org models.Organization
	if err := s.DB.Where("id = ?", device.OrgID).First(&org).Error; err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	var site *models.Site
	if device.SiteID != nil {
		var st models.Site
		if err := s.DB.Where("id = ?", *device.SiteID).First(&st).Error; err == nil {
			site = &st
		}
	}
	var passType models.PassType
	if err := s.DB.
		Where("id = ? AND org_id = ? AND active = ?", req.PassTypeID, org.ID, true).
		First(&passType).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPassTypeNotFound
		}
		return nil, err
	}

	tz := org.Timezone
	siteName := ""
	if site != nil {
		siteName = site.Name
		if site.Timezone != "" {
			tz = site.Timezone
		}
	}
	tz = utils.NormalizeTimezone(tz)
	now := s.Clock.Now()
	days := req.NumberOfDays
	if days <= 0 {
		days = passType.DurationDays
	}
	if days <= 0 {
		days = 1
	}
	from, to, err := window(req.StartDate, tz, days, now)
	if err != nil {
		return nil, err
	}

	backupCode := ""
	q := backup.Query{DeviceID: device.ID, OrgID: &org.ID, SiteID: device.SiteID}
	if row, err := backup.Lookup(s.DB, q, now); err == nil {
		backupCode = row.Pincode
	} else if errors.Is(err, backup.ErrNoBackupPincode) {
		log.Printf("[Checkout] No backup pincode for access point %s\n", device.ID)
	} else {
		log.Printf("[Checkout] Error looking up backup pincode: %s\n", err.Error())
	}

	amount := passType.PriceCents * int64(days)
	currency := strings.ToLower(passType.Currency)
	pass := models.Pass{
		OrgID:          org.ID,
		SiteID:         device.SiteID,
		DeviceID:       device.ID,
		PassTypeID:     passType.ID,
		Status:         types.PASS_PENDING,
		VehiclePlate:   optional(strings.ToUpper(req.VehiclePlate)),
		PurchaserEmail: optional(req.Email),
		PurchaserPhone: optional(req.Phone),
		PurchaserName:  optional(req.Name),
		NumberOfDays:   days,
		ValidFrom:      &from,
		ValidTo:        &to,
	}
	var payment models.Payment
	var md *types.PaidMetadata
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&pass).Error; err != nil {
			return err
		}
		md = &types.PaidMetadata{
			PassID:          pass.ID.String(),
			OrgSlug:         org.Slug,
			OrgID:           org.ID.String(),
			AccessPointID:   device.ID.String(),
			AccessPointName: device.Name,
			CustomerEmail:   req.Email,
			CustomerPhone:   req.Phone,
			CustomerName:    req.Name,
			BackupPincode:   backupCode,
			NumberOfDays:    strconv.Itoa(days),
			StartsAt:        types.FormatMetadataTime(from),
			EndsAt:          types.FormatMetadataTime(to),
			Timezone:        tz,
			VehiclePlate:    strings.ToUpper(req.VehiclePlate),
			OrgName:         org.Name,
			PassTypeName:    passType.Name,
		}
		if device.SiteID != nil {
			md.SiteID = device.SiteID.String()
		}
		metadata := types.JSONB{}
		for k, v := range md.ToMap() {
			metadata[k] = v
		}
		payment = models.Payment{
			PassID:      pass.ID,
			AmountCents: amount,
			Currency:    currency,
			Status:      types.PAYMENT_PENDING,
			Metadata:    metadata,
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create pending pass: %w", err)
	}

	pi, err := s.Intents.Create(ctx, lib.PaymentIntentInput{
		AmountCents:   amount,
		Currency:      currency,
		ReceiptEmail:  req.Email,
		Description:   fmt.Sprintf("%s - %s", passType.Name, device.Name),
		Metadata:      md.ToMap(),
		IdempotencyID: pass.ID.String(),
	})
	if err != nil {
		log.Printf("[Checkout] Error creating payment intent for pass %s: %s\n", pass.ID, err.Error())
		if cerr := s.DB.Transaction(func(tx *gorm.DB) error {
			if err := ledger.CancelPass(tx, pass.ID); err != nil {
				return err
			}
			return ledger.FailPayment(tx, pass.ID, "", err.Error())
		}); cerr != nil {
			log.Printf("[Checkout] Error cancelling pass %s: %s\n", pass.ID, cerr.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentProvider, err.Error())
	}
	if err := s.DB.
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("provider_payment_intent", pi.ID).
		Error; err != nil {
		log.Printf("[Checkout] Error recording payment intent %s: %s\n", pi.ID, err.Error())
	}

	if s.Gateway != nil {
		err := s.Gateway.UpsertReservation(ctx, rooms.Reservation{
			OrgID:     org.ID,
			SiteID:    device.SiteID,
			PassID:    pass.ID,
			DeviceID:  device.ID,
			ValidFrom: from,
			ValidTo:   to,
			Name:      req.Name,
			Email:     req.Email,
			Phone:     req.Phone,
			SlugPath:  utils.SlugPath(org.Slug, siteName, device.Name),
			Status:    types.ROOMS_STATUS_PENDING,
		})
		if err != nil {
			log.Printf("[Checkout] Pending reservation for pass %s not created: %s\n", pass.ID, err.Error())
		}
	}

	return &Result{
		PassID:          pass.ID,
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		AmountCents:     amount,
		Currency:        currency,
		ValidFrom:       from,
		ValidTo:         to,
		BackupCaptured:  backupCode != "",
	}, nil
}

// window returns the access window in the site's timezone. A start date
// begins at local midnight; days are calendar days so DST shifts are kept.
func window(startDate, tz string, days int, now time.Time) (time.Time, time.Time, error) {
	loc := utils.LoadLocation(tz)
	start := now.In(loc)
	if startDate != "" {
		d, err := utils.StartOfDay(startDate, loc)
		if err != nil {
			return time.Time{}, time.Time{}, ErrInvalidStartDate
		}
		if d.AddDate(0, 0, 1).Before(now) {
			return time.Time{}, time.Time{}, ErrInvalidStartDate
		}
		if d.After(now) {
			start = d
		}
	}
	return start, start.AddDate(0, 0, days), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
