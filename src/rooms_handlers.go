package main

import (
	"crypto/subtle"
	"daypass/src/ledger"
	"daypass/src/models"
	"daypass/src/rooms"
	"daypass/src/types"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const roomsAPIKeyHeader = "X-Api-Key"

// pinFromRoomsBody accepts the field names Rooms has used for the PIN.
func pinFromRoomsBody(res gjson.Result) string {
	for _, key := range []string{"pin", "pinCode", "lockCode", "accessCode"} {
		if v := res.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func (s *server) roomsWebhookRoute(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/rooms", func(ctx *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, 64<<10))
		if err != nil || !gjson.ValidBytes(payload) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		res := gjson.ParseBytes(payload)
		body := types.RoomsPinRequestBody{
			ReservationID: res.Get("reservationId").String(),
			Pin:           pinFromRoomsBody(res),
		}
		if err := binding.Validator.ValidateStruct(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pass, err := ledger.GetPass(s.db, uuid.MustParse(body.ReservationID))
		if errors.Is(err, ledger.ErrPassNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Printf("[Rooms] Error loading pass %s: %s\n", body.ReservationID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}

		var cfg models.IntegrationConfig
		if err := s.db.
			Where("org_id = ? AND provider = ? AND active = ?", pass.OrgID, rooms.Provider, true).
			First(&cfg).
			Error; err != nil {
			log.Printf("[Rooms] PIN for pass %s rejected: no active integration\n", pass.ID)
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		key := ctx.GetHeader(roomsAPIKeyHeader)
		if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) != 1 {
			log.Printf("[Rooms] PIN for pass %s rejected: bad api key\n", pass.ID)
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var lc *models.LockCode
		err = s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			lc, err = ledger.AssignProviderCode(tx, pass.ID.String(), body.Pin)
			return err
		})
		if errors.Is(err, ledger.ErrLockCodeNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Printf("[Rooms] Error storing PIN for pass %s: %s\n", pass.ID, err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		log.Printf("[Rooms] PIN received for pass %s\n", pass.ID)
		ctx.JSON(http.StatusOK, gin.H{
			"pass_id":   lc.PassID,
			"pinSource": lc.Provider,
		})
	})
	return apiv1
}
