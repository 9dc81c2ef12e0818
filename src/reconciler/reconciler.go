// Package reconciler turns verified payment webhooks into active passes with
// a known, or explicitly unknown, access PIN.
//
// Every event is claimed in the dedup table before it has side effects. A
// claimed event ends completed, rejected (unknown org or pass), or failed
// (ledger write error); failed and stalled events are replayed by
// RecoverStalled.
package reconciler

import (
	"context"
	"daypass/src/ledger"
	"daypass/src/models"
	"daypass/src/notify"
	"daypass/src/rooms"
	"daypass/src/types"
	"daypass/src/utils"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

var (
	ErrInvalidMetadata     = errors.New("invalid event metadata")
	ErrUnknownOrganization = errors.New("unknown organization")
	ErrUnknownPass         = errors.New("unknown pass")
	ErrEventInFlight       = errors.New("event is already being processed")
)

// errRetryable marks ledger write failures that leave the event reclaimable.
type errRetryable struct{ err error }

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

func retryable(format string, err error) error {
	return &errRetryable{fmt.Errorf(format, err)}
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeFailed means a ledger write failed; the event is left for
	// recovery and the provider still gets an ack.
	OutcomeFailed Outcome = "failed"
)

type Result struct {
	Outcome     Outcome
	PassID      uuid.UUID
	PinCode     string
	PinProvider types.PinProvider
}

type Reconciler struct {
	DB         *gorm.DB
	Gateway    rooms.Gateway
	Notifier   notify.Dispatcher
	Clock      clockwork.Clock
	StaleAfter time.Duration
	// StatusURL, when set, links purchaser emails to the pass status page.
	StatusURL func(passID uuid.UUID) string
}

func New(db *gorm.DB, gateway rooms.Gateway, notifier notify.Dispatcher, staleAfter time.Duration) *Reconciler {
	return &Reconciler{
		DB:         db,
		Gateway:    gateway,
		Notifier:   notifier,
		Clock:      clockwork.NewRealClock(),
		StaleAfter: staleAfter,
	}
}

// Handle validates, claims and processes one event. Returned errors are
// ErrInvalidMetadata, ErrUnknownOrganization, ErrUnknownPass,
// ErrEventInFlight, or a claim failure; ledger write failures surface as
// OutcomeFailed with a nil error.
func (r *Reconciler) Handle(ctx context.Context, ev *Event) (*Result, error) {
	if err := validate(ev); err != nil {
		log.Printf("[Reconciler] Rejecting event %s (%s): %s\n", ev.ID, ev.Type, err.Error())
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	claim, err := ledger.ClaimEvent(r.DB, ledger.EventRecord{
		ID:        ev.ID,
		Provider:  ev.Provider,
		EventType: ev.Type,
		Payload:   string(payload),
	}, r.Clock.Now(), r.StaleAfter)
	if err != nil {
		log.Printf("[Reconciler] Error claiming event %s: %s\n", ev.ID, err.Error())
		return nil, err
	}
	switch claim {
	case ledger.ClaimDuplicate:
		log.Printf("[Reconciler] Duplicate event %s ignored\n", ev.ID)
		return &Result{Outcome: OutcomeDuplicate}, nil
	case ledger.ClaimInFlight:
		return nil, ErrEventInFlight
	}
	return r.run(ctx, ev)
}

// Reprocess replays a stored event that failed or stalled.
func (r *Reconciler) Reprocess(ctx context.Context, row models.ProcessedWebhookEvent) (*Result, error) {
	var ev Event
	if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
		rejectErr := fmt.Errorf("%w: stored payload unreadable: %s", ErrInvalidMetadata, err.Error())
		if err := ledger.RejectEvent(r.DB, row.ID, rejectErr, r.Clock.Now()); err != nil {
			log.Printf("[Reconciler] Error rejecting event %s: %s\n", row.ID, err.Error())
		}
		return nil, rejectErr
	}
	claim, err := ledger.ReclaimEvent(r.DB, row.ID, r.Clock.Now())
	if err != nil {
		return nil, err
	}
	switch claim {
	case ledger.ClaimDuplicate:
		return &Result{Outcome: OutcomeDuplicate}, nil
	case ledger.ClaimInFlight:
		return nil, ErrEventInFlight
	}
	log.Printf("[Reconciler] Replaying event %s attempt %d\n", row.ID, row.Attempts+1)
	return r.run(ctx, &ev)
}

func (r *Reconciler) run(ctx context.Context, ev *Event) (*Result, error) {
	var (
		res *Result
		err error
	)
	if ev.Kind == PaymentFailed {
		res, err = r.processFailure(ev)
	} else {
		res, err = r.processSuccess(ctx, ev)
	}

	now := r.Clock.Now()
	var retry *errRetryable
	switch {
	case err == nil:
		if cerr := ledger.CompleteEvent(r.DB, ev.ID, now); cerr != nil {
			log.Printf("[Reconciler] Error completing event %s: %s\n", ev.ID, cerr.Error())
		}
		return res, nil
	case errors.As(err, &retry):
		log.Printf("[Reconciler] Event %s failed, left for recovery: %s\n", ev.ID, err.Error())
		if ferr := ledger.FailEvent(r.DB, ev.ID, err); ferr != nil {
			log.Printf("[Reconciler] Error marking event %s failed: %s\n", ev.ID, ferr.Error())
		}
		if res == nil {
			res = &Result{}
		}
		res.Outcome = OutcomeFailed
		return res, nil
	default:
		log.Printf("[Reconciler] Event %s rejected: %s\n", ev.ID, err.Error())
		if rerr := ledger.RejectEvent(r.DB, ev.ID, err, now); rerr != nil {
			log.Printf("[Reconciler] Error rejecting event %s: %s\n", ev.ID, rerr.Error())
		}
		return nil, err
	}
}

func validate(ev *Event) error {
	switch ev.Kind {
	case CheckoutCompleted, PaymentSucceeded:
		if _, err := types.ParsePaidMetadata(ev.Metadata); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidMetadata, err.Error())
		}
	case PaymentFailed:
		if _, err := types.ParseFailedMetadata(ev.Metadata); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidMetadata, err.Error())
		}
	default:
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidMetadata, ev.Kind)
	}
	if ev.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidMetadata)
	}
	return nil
}

func (r *Reconciler) processSuccess(ctx context.Context, ev *Event) (*Result, error) {
	md, err := types.ParsePaidMetadata(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMetadata, err.Error())
	}
	org, err := r.resolveOrganization(md)
	if err != nil {
		return nil, err
	}
	passID := uuid.MustParse(md.PassID)
	pass, err := ledger.GetPass(r.DB, passID)
	if errors.Is(err, ledger.ErrPassNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPass, passID)
	}
	if err != nil {
		return nil, retryable("load pass: %w", err)
	}
	if pass.OrgID != org.ID {
		return nil, fmt.Errorf("%w: pass %s does not belong to %s", ErrUnknownPass, passID, org.Slug)
	}

	from, to := r.accessWindow(md, pass)
	var (
		activated *models.Pass
		wasActive bool
		payment   *models.Payment
		hadCode   bool
	)
	// The lock code row must exist before the reservation is confirmed: rooms
	// may deliver its PIN while that call is still open.
	err = r.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		activated, wasActive, err = ledger.ActivatePass(tx, pass.ID, from, to)
		if err != nil {
			return err
		}
		payment, err = ledger.UpsertPaymentSucceeded(tx, pass.ID, ledger.PaymentRef{
			SessionID:   ev.SessionID,
			IntentID:    ev.IntentID,
			AmountCents: ev.AmountCents,
			Currency:    ev.Currency,
		})
		if err != nil {
			return err
		}
		existing, err := ledger.GetLockCode(tx, pass.ID)
		if err != nil && !errors.Is(err, ledger.ErrLockCodeNotFound) {
			return err
		}
		hadCode = existing != nil
		_, err = ledger.UpsertLockCode(tx, ledger.LockCodeInput{
			PassID:   pass.ID,
			Code:     md.BackupPincode,
			Provider: types.PIN_PROVIDER_BACKUP,
			StartsAt: *activated.ValidFrom,
			EndsAt:   *activated.ValidTo,
		})
		return err
	})
	if err != nil {
		return nil, retryable("activate pass: %w", err)
	}
	from, to = *activated.ValidFrom, *activated.ValidTo
	res := &Result{Outcome: OutcomeProcessed, PassID: pass.ID}

	device, site := r.loadPlacement(md, pass)
	email, phone, name := contact(md, ev, pass)

	if wasActive && hadCode {
		log.Printf("[Reconciler] Pass %s already active with a lock code, skipping reservation\n", pass.ID)
	} else {
		r.confirmReservation(ctx, org, site, device, pass, from, to, email, phone, name)
	}

	var (
		lockCode  *models.LockCode
		sendEmail bool
	)
	err = r.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		lockCode, err = ledger.GetLockCode(tx, pass.ID)
		if err != nil {
			return err
		}
		if email != "" || phone != "" {
			sendEmail, err = ledger.ClaimEmail(tx, pass.ID, r.Clock.Now())
		}
		return err
	})
	if err != nil {
		return res, retryable("load lock code: %w", err)
	}
	if lockCode.Code != nil {
		res.PinCode = *lockCode.Code
		res.PinProvider = lockCode.Provider
	} else {
		log.Printf("[Reconciler] Pass %s has no PIN yet, lock code left pending\n", pass.ID)
	}

	if sendEmail && r.Notifier != nil {
		r.Notifier.Dispatch(r.notification(md, org, site, device, pass, res.PinCode, from, to, email, phone))
	}

	r.appendPaidEvent(md, ev, org, pass, payment, res, from, to, email, phone)
	return res, nil
}

func (r *Reconciler) processFailure(ev *Event) (*Result, error) {
	md, err := types.ParseFailedMetadata(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMetadata, err.Error())
	}
	if md.PassID == "" {
		log.Printf("[Reconciler] Failure event %s carries no pass id, nothing to do\n", ev.ID)
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	passID := uuid.MustParse(md.PassID)
	if _, err := ledger.GetPass(r.DB, passID); err != nil {
		if errors.Is(err, ledger.ErrPassNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPass, passID)
		}
		return nil, retryable("load pass: %w", err)
	}
	reason := md.ErrorReason
	if reason == "" {
		reason = ev.ErrorReason
	}
	err = r.DB.Transaction(func(tx *gorm.DB) error {
		removed, err := ledger.DeleteLockCode(tx, passID)
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Printf("[Reconciler] Removed lock code of unpaid pass %s\n", passID)
		}
		if err := ledger.CancelPass(tx, passID); err != nil {
			return err
		}
		return ledger.FailPayment(tx, passID, ev.IntentID, reason)
	})
	if err != nil {
		return nil, retryable("cancel pass: %w", err)
	}
	return &Result{Outcome: OutcomeProcessed, PassID: passID}, nil
}

func (r *Reconciler) resolveOrganization(md *types.PaidMetadata) (*models.Organization, error) {
	var orgs []models.Organization
	q := r.DB.Model(&models.Organization{})
	if md.OrgID != "" {
		q = q.Where("id = ?", md.OrgID)
	} else {
		q = q.Where("slug = ?", md.OrgSlug)
	}
	if err := q.Limit(1).Find(&orgs).Error; err != nil {
		return nil, retryable("resolve organization: %w", err)
	}
	if len(orgs) == 0 {
		return nil, fmt.Errorf("%w: %s%s", ErrUnknownOrganization, md.OrgSlug, md.OrgID)
	}
	return &orgs[0], nil
}

// accessWindow prefers the window captured at intent creation, then the
// pass's own window, then now plus the purchased days.
func (r *Reconciler) accessWindow(md *types.PaidMetadata, pass *models.Pass) (time.Time, time.Time) {
	if start, end := md.Window(); start != nil && end != nil {
		return *start, *end
	}
	if pass.ValidFrom != nil && pass.ValidTo != nil && pass.ValidTo.After(*pass.ValidFrom) {
		return *pass.ValidFrom, *pass.ValidTo
	}
	days := md.Days()
	if days <= 0 {
		days = pass.NumberOfDays
	}
	if days <= 0 {
		days = 1
	}
	now := r.Clock.Now()
	return now, now.Add(time.Duration(days) * 24 * time.Hour)
}

func (r *Reconciler) loadPlacement(md *types.PaidMetadata, pass *models.Pass) (*models.Device, *models.Site) {
	var device models.Device
	deviceID := pass.DeviceID.String()
	if md.AccessPointID != "" {
		deviceID = md.AccessPointID
	}
	if err := r.DB.Where("id = ?", deviceID).First(&device).Error; err != nil {
		log.Printf("[Reconciler] Access point %s not found: %s\n", deviceID, err.Error())
		device = models.Device{Base: models.Base{ID: pass.DeviceID}, Name: md.AccessPointName}
	}
	siteID := md.SiteID
	if siteID == "" && pass.SiteID != nil {
		siteID = pass.SiteID.String()
	}
	if siteID == "" && device.SiteID != nil {
		siteID = device.SiteID.String()
	}
	if siteID == "" {
		return &device, nil
	}
	var site models.Site
	if err := r.DB.Where("id = ?", siteID).First(&site).Error; err != nil {
		log.Printf("[Reconciler] Site %s not found: %s\n", siteID, err.Error())
		return &device, nil
	}
	return &device, &site
}

func (r *Reconciler) confirmReservation(ctx context.Context, org *models.Organization, site *models.Site, device *models.Device, pass *models.Pass, from, to time.Time, email, phone, name string) {
	if r.Gateway == nil {
		return
	}
	siteName := ""
	var siteID *uuid.UUID
	if site != nil {
		siteName = site.Name
		siteID = &site.ID
	}
	err := r.Gateway.UpsertReservation(ctx, rooms.Reservation{
		OrgID:     org.ID,
		SiteID:    siteID,
		PassID:    pass.ID,
		DeviceID:  device.ID,
		ValidFrom: from,
		ValidTo:   to,
		Name:      name,
		Email:     email,
		Phone:     phone,
		SlugPath:  utils.SlugPath(org.Slug, siteName, device.Name),
		Status:    types.ROOMS_STATUS_CONFIRMED,
	})
	if err != nil {
		log.Printf("[Reconciler] Reservation for pass %s not confirmed, relying on backup PIN: %s\n", pass.ID, err.Error())
	}
}

func (r *Reconciler) notification(md *types.PaidMetadata, org *models.Organization, site *models.Site, device *models.Device, pass *models.Pass, pin string, from, to time.Time, email, phone string) notify.Notification {
	details := notify.PinDetails{
		AccessPointName: firstNonEmpty(md.AccessPointName, device.Name),
		Pin:             pin,
		ValidFrom:       from,
		ValidTo:         to,
		VehiclePlate:    md.VehiclePlate,
		OrgName:         firstNonEmpty(md.OrgName, org.Name),
		PassTypeName:    md.PassTypeName,
	}
	if details.VehiclePlate == "" && pass.VehiclePlate != nil {
		details.VehiclePlate = *pass.VehiclePlate
	}
	if details.PassTypeName == "" {
		var pt models.PassType
		if err := r.DB.Where("id = ?", pass.PassTypeID).First(&pt).Error; err == nil {
			details.PassTypeName = pt.Name
		}
	}
	tz := md.Timezone
	if tz == "" && site != nil {
		tz = site.Timezone
	}
	if tz == "" {
		tz = org.Timezone
	}
	n := notify.Notification{
		Email:    email,
		Phone:    phone,
		Details:  details,
		Timezone: tz,
	}
	if r.StatusURL != nil {
		n.StatusURL = r.StatusURL(pass.ID)
	}
	return n
}

func (r *Reconciler) appendPaidEvent(md *types.PaidMetadata, ev *Event, org *models.Organization, pass *models.Pass, payment *models.Payment, res *Result, from, to time.Time, email, phone string) {
	occurredAt := r.Clock.Now().UTC()
	providerRef := ev.IntentID
	if providerRef == "" {
		providerRef = ev.SessionID
	}
	payload := types.JSONB{
		"org_id":              org.ID.String(),
		"pass_id":             pass.ID.String(),
		"access_point_id":     firstNonEmpty(md.AccessPointID, pass.DeviceID.String()),
		"pin_code":            nullable(res.PinCode),
		"pin_provider":        nullable(string(res.PinProvider)),
		"starts_at":           from.UTC().Format(time.RFC3339),
		"ends_at":             to.UTC().Format(time.RFC3339),
		"customer_identifier": nullable(firstNonEmpty(email, phone)),
		"provider":            ev.Provider,
		"provider_intent_id":  providerRef,
		"amount_cents":        payment.AmountCents,
		"currency":            payment.Currency,
		"occurred_at":         occurredAt.Format(time.RFC3339),
	}
	written, err := ledger.AppendOutboxEvent(r.DB, org.ID, pass.ID, types.TOPIC_PASS_PAID, payload, occurredAt)
	if err != nil {
		log.Printf("[Reconciler] Error appending outbox event for pass %s: %s\n", pass.ID, err.Error())
		return
	}
	if !written {
		log.Printf("[Reconciler] Outbox event for pass %s already recorded\n", pass.ID)
	}
}

func contact(md *types.PaidMetadata, ev *Event, pass *models.Pass) (email, phone, name string) {
	email = firstNonEmpty(md.CustomerEmail, ev.CustomerEmail, deref(pass.PurchaserEmail))
	phone = firstNonEmpty(md.CustomerPhone, ev.CustomerPhone, deref(pass.PurchaserPhone))
	name = firstNonEmpty(md.CustomerName, ev.CustomerName, deref(pass.PurchaserName))
	return
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
