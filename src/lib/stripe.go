package lib

import (
	"context"
	"os"

	"github.com/stripe/stripe-go/v82"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	apiKey := os.Getenv("STRIPE_SECRET_KEY")
	sc := stripe.NewClient(apiKey)
	stripeClient = sc

	return sc
}

func NewStripeClient(c *stripe.Client) {
	stripeClient = c
}

type PaymentIntentInput struct {
	AmountCents   int64
	Currency      string
	ReceiptEmail  string
	Description   string
	Metadata      map[string]string
	IdempotencyID string
}

// StripePaymentIntents creates and reads PaymentIntents through the shared
// client.
type StripePaymentIntents struct {
	Client *stripe.Client
}

func NewStripePaymentIntents() *StripePaymentIntents {
	return &StripePaymentIntents{Client: GetStripeClient()}
}

func (s *StripePaymentIntents) Create(ctx context.Context, in PaymentIntentInput) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: in.Metadata,
	}
	if in.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(in.ReceiptEmail)
	}
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.IdempotencyID != "" {
		params.SetIdempotencyKey(in.IdempotencyID)
	}
	return s.Client.V1PaymentIntents.Create(ctx, params)
}

func (s *StripePaymentIntents) Retrieve(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return s.Client.V1PaymentIntents.Retrieve(ctx, id, nil)
}
