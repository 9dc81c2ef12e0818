package main

import (
	"daypass/src/reconciler"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82/webhook"
)

// reconcileStatus maps a reconciler error to the response code the payment
// provider sees. Rejected events are acked with 400 so the provider stops
// retrying them, in-flight ones with 409 so it tries again later.
func reconcileStatus(err error) int {
	switch {
	case errors.Is(err, reconciler.ErrInvalidMetadata),
		errors.Is(err, reconciler.ErrUnknownOrganization),
		errors.Is(err, reconciler.ErrUnknownPass):
		return http.StatusBadRequest
	case errors.Is(err, reconciler.ErrEventInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *server) stripeWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, 1<<20))
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		event, err := webhook.ConstructEventWithOptions(payload, ctx.GetHeader("Stripe-Signature"), s.webhookSecret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.Printf("[StripeEvent] %s %s\n", event.ID, event.Type)

		ev, err := reconciler.FromStripeEvent(event)
		if errors.Is(err, reconciler.ErrUnhandledEvent) {
			ctx.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		if err != nil {
			log.Printf("[Stripe] Error parsing event %s: %s\n", event.ID, err.Error())
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := s.reconciler.Handle(ctx.Request.Context(), ev)
		if err != nil {
			ctx.JSON(reconcileStatus(err), gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"received": true,
			"outcome":  res.Outcome,
		})
	})
	return apiv1
}
