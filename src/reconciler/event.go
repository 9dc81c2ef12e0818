package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

type Kind string

const (
	CheckoutCompleted Kind = "checkout_completed"
	PaymentSucceeded  Kind = "payment_succeeded"
	PaymentFailed     Kind = "payment_failed"
)

const ProviderStripe = "stripe"

var ErrUnhandledEvent = errors.New("unhandled event type")

// Event is a payment provider webhook reduced to what reconciliation needs.
// It is stored with the dedup row so stalled events can be replayed.
type Event struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Type          string            `json:"type"`
	Kind          Kind              `json:"kind"`
	SessionID     string            `json:"session_id,omitempty"`
	IntentID      string            `json:"intent_id,omitempty"`
	AmountCents   int64             `json:"amount_cents,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	ErrorReason   string            `json:"error_reason,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

// FromStripeEvent translates the three Stripe event types that drive pass
// activation. Anything else returns ErrUnhandledEvent.
func FromStripeEvent(se stripe.Event) (*Event, error) {
	if se.Data == nil {
		return nil, errors.New("stripe event has no data")
	}
	ev := &Event{ID: se.ID, Provider: ProviderStripe, Type: string(se.Type)}
	switch se.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(se.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		ev.Kind = CheckoutCompleted
		ev.SessionID = cs.ID
		if cs.PaymentIntent != nil {
			ev.IntentID = cs.PaymentIntent.ID
		}
		ev.AmountCents = cs.AmountTotal
		ev.Currency = string(cs.Currency)
		if cs.CustomerDetails != nil {
			ev.CustomerEmail = cs.CustomerDetails.Email
			ev.CustomerName = cs.CustomerDetails.Name
			ev.CustomerPhone = cs.CustomerDetails.Phone
		}
		ev.Metadata = cs.Metadata
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		ev.Kind = PaymentSucceeded
		ev.IntentID = pi.ID
		ev.AmountCents = pi.Amount
		ev.Currency = string(pi.Currency)
		ev.CustomerEmail = pi.ReceiptEmail
		ev.Metadata = pi.Metadata
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		ev.Kind = PaymentFailed
		ev.IntentID = pi.ID
		ev.AmountCents = pi.Amount
		ev.Currency = string(pi.Currency)
		if pi.LastPaymentError != nil {
			ev.ErrorReason = pi.LastPaymentError.Msg
		}
		ev.Metadata = pi.Metadata
	default:
		return nil, ErrUnhandledEvent
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	return ev, nil
}

// FromPaymentIntent builds a synthetic success event for a manual sync of a
// pass whose webhook never arrived.
func FromPaymentIntent(pi *stripe.PaymentIntent) *Event {
	md := pi.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return &Event{
		ID:            "sync:" + pi.ID,
		Provider:      ProviderStripe,
		Type:          "payment_intent.sync",
		Kind:          PaymentSucceeded,
		IntentID:      pi.ID,
		AmountCents:   pi.Amount,
		Currency:      string(pi.Currency),
		CustomerEmail: pi.ReceiptEmail,
		Metadata:      md,
	}
}
