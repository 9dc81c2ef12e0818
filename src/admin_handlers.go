package main

import (
	"bytes"
	"crypto/rand"
	"daypass/src/backup"
	"daypass/src/middlewares"
	"daypass/src/models"
	"daypass/src/types"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yeqown/go-qrcode"
	"gorm.io/gorm"
)

func newSubscriptionSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// adminOrg resolves the organization named by the token's org claim.
func (s *server) adminOrg(ctx *gin.Context) (*models.Organization, bool) {
	var org models.Organization
	err := s.db.Where("slug = ?", ctx.GetString("org")).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown organization"})
		return nil, false
	}
	if err != nil {
		log.Printf("[Admin] Error loading organization: %s\n", err.Error())
		ctx.AbortWithStatus(http.StatusInternalServerError)
		return nil, false
	}
	return &org, true
}

func (s *server) findSubscription(ctx *gin.Context, org *models.Organization) (*models.WebhookSubscription, bool) {
	var params types.SimpleRequestParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	var sub models.WebhookSubscription
	if err := s.db.
		Where("id = ? AND org_id = ?", params.ID, org.ID).
		First(&sub).
		Error; err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return nil, false
	}
	return &sub, true
}

func (s *server) adminRoutes(g *gin.Engine) *gin.RouterGroup {
	admin := apiv1Group(g).Group("/admin")
	admin.Use(middlewares.AdminAuth)
	admin.
		GET("/subscriptions", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			var subs []models.WebhookSubscription
			if err := s.db.Where("org_id = ?", org.ID).Order("created_at").Find(&subs).Error; err != nil {
				log.Printf("[Admin] Error listing subscriptions: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": subs, "count": len(subs)})
		}).
		POST("/subscriptions", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			var body types.CreateSubscriptionRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			secret, err := newSubscriptionSecret()
			if err != nil {
				log.Printf("[Admin] Error generating secret: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			sub := models.WebhookSubscription{
				OrgID:  org.ID,
				URL:    body.URL,
				Secret: secret,
				Topics: body.Topics,
				Active: true,
			}
			if err := s.db.Create(&sub).Error; err != nil {
				log.Printf("[Admin] Error creating subscription: %s\n", err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			log.Printf("[Admin] %s created subscription %s for %s\n", ctx.GetString("username"), sub.ID, org.Slug)
			// The secret is only ever returned here.
			ctx.JSON(http.StatusCreated, gin.H{"subscription": sub, "secret": secret})
		}).
		GET("/subscriptions/:id", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			sub, ok := s.findSubscription(ctx, org)
			if !ok {
				return
			}
			ctx.JSON(http.StatusOK, sub)
		}).
		PATCH("/subscriptions/:id", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			sub, ok := s.findSubscription(ctx, org)
			if !ok {
				return
			}
			var body types.UpdateSubscriptionRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if body.URL != nil {
				sub.URL = *body.URL
			}
			if body.Topics != nil {
				sub.Topics = body.Topics
			}
			if body.Active != nil {
				sub.Active = *body.Active
			}
			if err := s.db.
				Model(sub).
				Select("url", "topics", "active").
				Updates(sub).
				Error; err != nil {
				log.Printf("[Admin] Error updating subscription %s: %s\n", sub.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.JSON(http.StatusOK, sub)
		}).
		DELETE("/subscriptions/:id", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			sub, ok := s.findSubscription(ctx, org)
			if !ok {
				return
			}
			if err := s.db.Delete(sub).Error; err != nil {
				log.Printf("[Admin] Error deleting subscription %s: %s\n", sub.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.Status(http.StatusNoContent)
		}).
		POST("/backup-pincodes", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			var body types.ProvisionBackupPincodesRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var provisioned []models.BackupPincode
			err := s.db.Transaction(func(tx *gorm.DB) error {
				for _, item := range body.Items {
					deviceID := uuid.MustParse(item.DeviceID)
					siteID := uuid.MustParse(item.SiteID)
					var device models.Device
					if err := tx.
						Where("id = ? AND org_id = ?", deviceID, org.ID).
						First(&device).
						Error; err != nil {
						return fmt.Errorf("%w: device %s", errNotInOrganization, deviceID)
					}
					if device.SiteID != nil && *device.SiteID != siteID {
						return fmt.Errorf("%w: device %s is not at site %s", errNotInOrganization, deviceID, siteID)
					}
					row, err := backup.Provision(tx, models.BackupPincode{
						OrgID:           org.ID,
						SiteID:          siteID,
						DeviceID:        deviceID,
						FortnightNumber: item.FortnightNumber,
						Pincode:         item.Pincode,
					})
					if err != nil {
						return err
					}
					provisioned = append(provisioned, *row)
				}
				return nil
			})
			if errors.Is(err, errNotInOrganization) {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				log.Printf("[Admin] Error provisioning backup pincodes: %s\n", err.Error())
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not provision backup pincodes"})
				return
			}
			log.Printf("[Admin] %s provisioned %d backup pincodes for %s\n", ctx.GetString("username"), len(provisioned), org.Slug)
			ctx.JSON(http.StatusCreated, gin.H{"data": provisioned, "count": len(provisioned)})
		}).
		GET("/access-points/:id/qr", func(ctx *gin.Context) {
			org, ok := s.adminOrg(ctx)
			if !ok {
				return
			}
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var device models.Device
			if err := s.db.
				Where("id = ? AND org_id = ?", params.ID, org.ID).
				First(&device).
				Error; err != nil {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "access point not found"})
				return
			}
			var site *models.Site
			if device.SiteID != nil {
				var row models.Site
				if err := s.db.Where("id = ?", *device.SiteID).First(&row).Error; err == nil {
					site = &row
				}
			}
			target := purchaseURL(org, site, &device)
			qrc, err := qrcode.New(target)
			if err != nil {
				log.Printf("[Admin] Error generating QR code for %s: %s\n", device.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			var buf bytes.Buffer
			if err := qrc.SaveTo(&buf); err != nil {
				log.Printf("[Admin] Error encoding QR code for %s: %s\n", device.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			ctx.Header("X-Purchase-URL", target)
			ctx.Data(http.StatusOK, "image/jpeg", buf.Bytes())
		})
	return admin
}

var errNotInOrganization = errors.New("not part of this organization")
