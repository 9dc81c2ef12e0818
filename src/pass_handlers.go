package main

import (
	"daypass/src/checkout"
	"daypass/src/ledger"
	"daypass/src/models"
	"daypass/src/reconciler"
	"daypass/src/types"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
)

func (s *server) passRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := s.rateLimited(g)
	apiv1.
		POST("/checkout", func(ctx *gin.Context) {
			var body types.CreateCheckoutRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				log.Printf("[Checkout] Invalid request: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			res, err := s.checkout.Create(ctx.Request.Context(), checkout.Request{
				AccessPointID: uuid.MustParse(body.AccessPointID),
				PassTypeID:    uuid.MustParse(body.PassTypeID),
				Email:         body.Email,
				Phone:         body.Phone,
				Name:          body.Name,
				VehiclePlate:  body.VehiclePlate,
				NumberOfDays:  body.NumberOfDays,
				StartDate:     body.StartDate,
			})
			if err != nil {
				switch {
				case errors.Is(err, checkout.ErrAccessPointNotFound), errors.Is(err, checkout.ErrPassTypeNotFound):
					ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				case errors.Is(err, checkout.ErrInvalidStartDate):
					ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				case errors.Is(err, checkout.ErrPaymentProvider):
					ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				default:
					log.Printf("[Checkout] Error creating checkout: %s\n", err.Error())
					ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not create checkout"})
				}
				return
			}
			ctx.JSON(http.StatusCreated, res)
		}).
		GET("/passes/:id/status", func(ctx *gin.Context) {
			pass, ok := s.bindPass(ctx)
			if !ok {
				return
			}
			payment, err := ledger.LatestPayment(s.db, pass.ID)
			if err != nil {
				log.Printf("[Status] Error loading payment for pass %s: %s\n", pass.ID, err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load payment"})
				return
			}
			paymentStatus := types.PAYMENT_PENDING
			if payment != nil {
				paymentStatus = payment.Status
			}

			if pass.Status != types.PASS_ACTIVE {
				res := gin.H{
					"error":         "pass is not active",
					"status":        pass.Status,
					"paymentStatus": paymentStatus,
					"backupCode":    nil,
				}
				if pass.Status == types.PASS_PENDING {
					res["error"] = "payment pending"
					if code := payment.BackupPincode(); code != "" {
						res["backupCode"] = code
					}
				}
				ctx.JSON(http.StatusConflict, res)
				return
			}

			var code, backupCode string
			var pinSource types.PinProvider
			lc, err := ledger.GetLockCode(s.db, pass.ID)
			if err != nil && !errors.Is(err, ledger.ErrLockCodeNotFound) {
				log.Printf("[Status] Error loading lock code for pass %s: %s\n", pass.ID, err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load lock code"})
				return
			}
			if lc != nil && lc.Code != nil {
				code = *lc.Code
				pinSource = lc.Provider
			}
			backupCode = payment.BackupPincode()

			var passType models.PassType
			s.db.Where("id = ?", pass.PassTypeID).Limit(1).Find(&passType)

			ctx.JSON(http.StatusOK, gin.H{
				"pass_id":         pass.ID,
				"code":            nullString(code),
				"backupCode":      nullString(backupCode),
				"pinSource":       nullString(string(pinSource)),
				"codeUnavailable": code == "" && backupCode == "",
				"valid_from":      pass.ValidFrom,
				"valid_to":        pass.ValidTo,
				"passType":        nullString(passType.Name),
				"vehiclePlate":    pass.VehiclePlate,
				"device_id":       pass.DeviceID,
				"returnUrl":       s.returnURL(pass),
			})
		}).
		POST("/passes/:id/sync", func(ctx *gin.Context) {
			pass, ok := s.bindPass(ctx)
			if !ok {
				return
			}
			if pass.Status == types.PASS_ACTIVE {
				ctx.JSON(http.StatusOK, gin.H{"status": pass.Status, "synced": false})
				return
			}
			payment, err := ledger.LatestPayment(s.db, pass.ID)
			if err != nil {
				log.Printf("[Sync] Error loading payment for pass %s: %s\n", pass.ID, err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load payment"})
				return
			}
			if payment == nil || payment.ProviderPaymentIntent == nil {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "no payment intent for pass"})
				return
			}
			pi, err := s.intents.Retrieve(ctx.Request.Context(), *payment.ProviderPaymentIntent)
			if err != nil {
				log.Printf("[Sync] Error retrieving intent %s: %s\n", *payment.ProviderPaymentIntent, err.Error())
				ctx.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
				return
			}
			if pi.Status != stripe.PaymentIntentStatusSucceeded {
				ctx.JSON(http.StatusConflict, gin.H{
					"error":         "payment not completed",
					"paymentStatus": pi.Status,
				})
				return
			}
			res, err := s.reconciler.Handle(ctx.Request.Context(), reconciler.FromPaymentIntent(pi))
			if err != nil {
				ctx.JSON(reconcileStatus(err), gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{
				"status":  types.PASS_ACTIVE,
				"synced":  true,
				"outcome": res.Outcome,
			})
		})
	return apiv1
}

func (s *server) bindPass(ctx *gin.Context) (*models.Pass, bool) {
	var params types.SimpleRequestParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	pass, err := ledger.GetPass(s.db, uuid.MustParse(params.ID))
	if errors.Is(err, ledger.ErrPassNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		log.Printf("Error loading pass %s: %s\n", params.ID, err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load pass"})
		return nil, false
	}
	return pass, true
}

func (s *server) returnURL(pass *models.Pass) string {
	var org models.Organization
	if err := s.db.Where("id = ?", pass.OrgID).First(&org).Error; err != nil {
		return ""
	}
	var device models.Device
	s.db.Where("id = ?", pass.DeviceID).Limit(1).Find(&device)
	var site *models.Site
	siteID := pass.SiteID
	if siteID == nil {
		siteID = device.SiteID
	}
	if siteID != nil {
		var row models.Site
		if err := s.db.Where("id = ?", *siteID).First(&row).Error; err == nil {
			site = &row
		}
	}
	if device.ID == uuid.Nil {
		return purchaseURL(&org, site, nil)
	}
	return purchaseURL(&org, site, &device)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
