package main

import (
	"bytes"
	"context"
	"daypass/src/checkout"
	"daypass/src/db"
	"daypass/src/ledger"
	"daypass/src/lib"
	"daypass/src/middlewares"
	"daypass/src/models"
	"daypass/src/notify"
	"daypass/src/reconciler"
	"daypass/src/rooms"
	"daypass/src/types"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_test"
	appHost       = "https://app.example.com"
	roomsKey      = "rooms-key"
)

type fakeIntents struct {
	mu        sync.Mutex
	created   []lib.PaymentIntentInput
	retrieved *stripe.PaymentIntent
}

func (f *fakeIntents) Create(ctx context.Context, in lib.PaymentIntentInput) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return &stripe.PaymentIntent{ID: "pi_checkout_1", ClientSecret: "pi_checkout_1_secret"}, nil
}

func (f *fakeIntents) Retrieve(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieved == nil || f.retrieved.ID != id {
		return nil, errors.New("no such payment_intent")
	}
	return f.retrieved, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []rooms.Reservation
}

func (g *fakeGateway) UpsertReservation(ctx context.Context, r rooms.Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, r)
	return &rooms.Failure{Kind: rooms.Timeout, Message: "deadline exceeded"}
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *fakeDispatcher) Dispatch(n notify.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

type TestSuite struct {
	suite.Suite
	DB       *gorm.DB
	Clock    *clockwork.FakeClock
	Intents  *fakeIntents
	Gateway  *fakeGateway
	Notifier *fakeDispatcher
	Router   *gin.Engine
	Token    *string

	Org      models.Organization
	Site     models.Site
	Device   models.Device
	PassType models.PassType
}

func (s *TestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", "test-jwt-secret")
	os.Setenv("APP_HOST", appHost)

	token, err := middlewares.NewAdminToken("ops@example.com", "test-org", time.Hour)
	if err != nil {
		log.Fatalf("Error generating JWT token: %s\n", err.Error())
		return
	}
	s.Token = &token
}

func (s *TestSuite) TearDownSuite() {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("APP_HOST")
}

func (s *TestSuite) SetupTest() {
	d, err := db.NewMemoryDB("api_"+uuid.NewString(), models.All()...)
	s.Require().NoError(err)
	s.DB = d
	s.Clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	s.Intents = &fakeIntents{}
	s.Gateway = &fakeGateway{}
	s.Notifier = &fakeDispatcher{}

	rec := reconciler.New(d, s.Gateway, s.Notifier, 5*time.Minute)
	rec.Clock = s.Clock
	rec.StatusURL = statusURL
	co := checkout.NewService(d, s.Intents, s.Gateway)
	co.Clock = s.Clock

	srv := &server{
		db:            d,
		reconciler:    rec,
		checkout:      co,
		intents:       s.Intents,
		webhookSecret: webhookSecret,
	}
	s.Router = setupRouter()
	srv.routes(s.Router)

	s.Org = models.Organization{Name: "Test Org", Slug: "test-org", Timezone: "Australia/Sydney"}
	s.Require().NoError(d.Create(&s.Org).Error)
	s.Site = models.Site{OrgID: s.Org.ID, Name: "North Ramp", Timezone: "Australia/Sydney"}
	s.Require().NoError(d.Create(&s.Site).Error)
	s.Device = models.Device{OrgID: s.Org.ID, SiteID: &s.Site.ID, Name: "Gate 1"}
	s.Require().NoError(d.Create(&s.Device).Error)
	s.PassType = models.PassType{OrgID: s.Org.ID, Name: "Day Pass", PriceCents: 1500, Currency: "aud", DurationDays: 1, Active: true}
	s.Require().NoError(d.Create(&s.PassType).Error)
}

// pendingPass creates a pass awaiting payment with its checkout payment row.
func (s *TestSuite) pendingPass(intentID, backupCode string) *models.Pass {
	email := "jo@example.com"
	pass := models.Pass{
		OrgID:          s.Org.ID,
		SiteID:         &s.Site.ID,
		DeviceID:       s.Device.ID,
		PassTypeID:     s.PassType.ID,
		Status:         types.PASS_PENDING,
		PurchaserEmail: &email,
		NumberOfDays:   1,
	}
	s.Require().NoError(s.DB.Create(&pass).Error)
	md := types.JSONB{}
	if backupCode != "" {
		md[types.MD_BACKUP_PINCODE] = backupCode
	}
	payment := models.Payment{
		PassID:                pass.ID,
		ProviderPaymentIntent: &intentID,
		AmountCents:           1500,
		Currency:              "aud",
		Status:                types.PAYMENT_PENDING,
		Metadata:              md,
	}
	s.Require().NoError(s.DB.Create(&payment).Error)
	return &pass
}

func (s *TestSuite) paidMetadata(pass *models.Pass, backupCode string) map[string]string {
	md := map[string]string{
		types.MD_PASS_ID:         pass.ID.String(),
		types.MD_ORG_SLUG:        s.Org.Slug,
		types.MD_ACCESS_POINT_ID: s.Device.ID.String(),
	}
	if backupCode != "" {
		md[types.MD_BACKUP_PINCODE] = backupCode
	}
	return md
}

func checkoutCompletedEvent(id, sessionID, intentID string, md map[string]string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_intent": intentID,
				"amount_total":   1500,
				"currency":       "aud",
				"metadata":       md,
			},
		},
	})
	return payload
}

func (s *TestSuite) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, _ := http.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) postStripe(payload []byte) *httptest.ResponseRecorder {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  webhookSecret,
	})
	return s.do(http.MethodPost, "/api/v1/webhook/stripe", payload, map[string]string{
		"Stripe-Signature": signed.Header,
	})
}

func (s *TestSuite) bearer() map[string]string {
	return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", *s.Token)}
}

func NewMockDB() (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening gorm database", err)
	}

	return gormDB, mock
}

func (s *TestSuite) TestPingRoute() {
	w := s.do(http.MethodGet, "/", nil, nil)

	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func (s *TestSuite) TestMaintenanceMode() {
	cases := []struct {
		value string
		code  int
	}{
		{"", http.StatusOK},
		{"false", http.StatusOK},
		{"true", http.StatusServiceUnavailable},
		{"yes please", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		s.Run("MAINTENANCE_MODE="+tc.value, func() {
			s.T().Setenv("MAINTENANCE_MODE", tc.value)

			router := setupRouter()
			router = maintenanceModeMiddleware(router)
			apiv1Group(router).GET("/health", func(ctx *gin.Context) {
				ctx.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/api/v1/health", nil)
			router.ServeHTTP(w, req)

			assert.Equal(s.T(), tc.code, w.Code)
		})
	}
}

func (s *TestSuite) TestStripeWebhook() {
	pass := s.pendingPass("pi_test_1", "123456")
	payload := checkoutCompletedEvent("evt_test_1", "cs_test_1", "pi_test_1", s.paidMetadata(pass, "123456"))

	s.Run("Should activate the pass with the backup PIN", func() {
		w := s.postStripe(payload)
		s.Equal(http.StatusOK, w.Code, w.Body.String())
		s.Equal("processed", gjson.Get(w.Body.String(), "outcome").String())

		got, err := ledger.GetPass(s.DB, pass.ID)
		s.Require().NoError(err)
		s.Equal(types.PASS_ACTIVE, got.Status)
		lc, err := ledger.GetLockCode(s.DB, pass.ID)
		s.Require().NoError(err)
		s.Equal("123456", *lc.Code)
		s.Equal(types.PIN_PROVIDER_BACKUP, lc.Provider)
		s.Len(s.Gateway.calls, 1)
		s.Equal(types.ROOMS_STATUS_CONFIRMED, s.Gateway.calls[0].Status)
		s.Require().Len(s.Notifier.sent, 1)
		s.Equal(fmt.Sprintf("%s/passes/%s", appHost, pass.ID), s.Notifier.sent[0].StatusURL)
	})

	s.Run("Should ack a redelivery as a duplicate", func() {
		w := s.postStripe(payload)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("duplicate", gjson.Get(w.Body.String(), "outcome").String())

		var outbox int64
		s.DB.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", pass.ID).Count(&outbox)
		s.EqualValues(1, outbox)
		s.Len(s.Notifier.sent, 1)
	})

	s.Run("Should reject a bad signature", func() {
		w := s.do(http.MethodPost, "/api/v1/webhook/stripe", payload, map[string]string{
			"Stripe-Signature": "t=1,v1=deadbeef",
		})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("invalid signature", gjson.Get(w.Body.String(), "error").String())
	})

	s.Run("Should ack unhandled event types", func() {
		other, _ := json.Marshal(map[string]any{
			"id":          "evt_other",
			"type":        "customer.created",
			"api_version": stripe.APIVersion,
			"data":        map[string]any{"object": map[string]any{"id": "cus_1"}},
		})
		w := s.postStripe(other)
		s.Equal(http.StatusOK, w.Code)
		s.True(gjson.Get(w.Body.String(), "received").Bool())
	})

	s.Run("Should reject invalid metadata without recording the event", func() {
		bad := checkoutCompletedEvent("evt_bad", "cs_bad", "pi_bad", map[string]string{types.MD_PASS_ID: "nope"})
		w := s.postStripe(bad)
		s.Equal(http.StatusBadRequest, w.Code)

		var count int64
		s.DB.Model(&models.ProcessedWebhookEvent{}).Where("id = ?", "evt_bad").Count(&count)
		s.EqualValues(0, count)
	})

	s.Run("Should reject events for an unknown organization", func() {
		md := s.paidMetadata(pass, "")
		md[types.MD_ORG_SLUG] = "someone-else"
		w := s.postStripe(checkoutCompletedEvent("evt_unknown_org", "cs_x", "pi_x", md))
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(gjson.Get(w.Body.String(), "error").String(), "unknown organization")
	})
}

func (s *TestSuite) TestPassStatus() {
	pass := s.pendingPass("pi_test_1", "654321")

	s.Run("Should return 409 with the backup code while payment is pending", func() {
		w := s.do(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", pass.ID), nil, nil)
		s.Equal(http.StatusConflict, w.Code)
		body := w.Body.String()
		s.Equal("payment pending", gjson.Get(body, "error").String())
		s.Equal("pending", gjson.Get(body, "status").String())
		s.Equal("pending", gjson.Get(body, "paymentStatus").String())
		s.Equal("654321", gjson.Get(body, "backupCode").String())
	})

	s.Require().Equal(http.StatusOK, s.postStripe(checkoutCompletedEvent("evt_status", "cs_status", "pi_test_1", s.paidMetadata(pass, "654321"))).Code)

	s.Run("Should return the PIN once active", func() {
		w := s.do(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", pass.ID), nil, nil)
		s.Equal(http.StatusOK, w.Code)
		body := w.Body.String()
		s.Equal(pass.ID.String(), gjson.Get(body, "pass_id").String())
		s.Equal("654321", gjson.Get(body, "code").String())
		s.Equal("backup", gjson.Get(body, "pinSource").String())
		s.False(gjson.Get(body, "codeUnavailable").Bool())
		s.Equal("Day Pass", gjson.Get(body, "passType").String())
		s.Equal(s.Device.ID.String(), gjson.Get(body, "device_id").String())
		s.Equal(appHost+"/test-org/north-ramp/gate-1", gjson.Get(body, "returnUrl").String())
		s.True(gjson.Get(body, "valid_from").Exists())
	})

	s.Run("Should return 404 for an unknown pass", func() {
		w := s.do(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", uuid.New()), nil, nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("Should return 400 for a malformed id", func() {
		w := s.do(http.MethodGet, "/api/v1/passes/not-a-uuid/status", nil, nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *TestSuite) TestPassStatusWithoutAnyCode() {
	pass := s.pendingPass("pi_nocode", "")
	s.Require().Equal(http.StatusOK, s.postStripe(checkoutCompletedEvent("evt_nocode", "cs_nocode", "pi_nocode", s.paidMetadata(pass, ""))).Code)

	w := s.do(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", pass.ID), nil, nil)
	s.Equal(http.StatusOK, w.Code)
	s.True(gjson.Get(w.Body.String(), "codeUnavailable").Bool())
	s.Equal(gjson.Null, gjson.Get(w.Body.String(), "code").Type)
}

func (s *TestSuite) TestPassSync() {
	pass := s.pendingPass("pi_sync_1", "111222")
	url := fmt.Sprintf("/api/v1/passes/%s/sync", pass.ID)

	s.Run("Should refuse while the intent has not succeeded", func() {
		s.Intents.retrieved = &stripe.PaymentIntent{ID: "pi_sync_1", Status: stripe.PaymentIntentStatusProcessing}
		w := s.do(http.MethodPost, url, nil, nil)
		s.Equal(http.StatusConflict, w.Code)
		s.Equal("processing", gjson.Get(w.Body.String(), "paymentStatus").String())
	})

	s.Run("Should activate the pass from a succeeded intent", func() {
		s.Intents.retrieved = &stripe.PaymentIntent{
			ID:       "pi_sync_1",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Amount:   1500,
			Currency: "aud",
			Metadata: s.paidMetadata(pass, "111222"),
		}
		w := s.do(http.MethodPost, url, nil, nil)
		s.Equal(http.StatusOK, w.Code, w.Body.String())
		s.True(gjson.Get(w.Body.String(), "synced").Bool())

		got, err := ledger.GetPass(s.DB, pass.ID)
		s.Require().NoError(err)
		s.Equal(types.PASS_ACTIVE, got.Status)

		var ev models.ProcessedWebhookEvent
		s.Require().NoError(s.DB.Where("id = ?", "sync:pi_sync_1").First(&ev).Error)
		s.Equal(types.WEBHOOK_EVENT_COMPLETED, ev.Status)
	})

	s.Run("Should be a no-op for an active pass", func() {
		w := s.do(http.MethodPost, url, nil, nil)
		s.Equal(http.StatusOK, w.Code)
		s.False(gjson.Get(w.Body.String(), "synced").Bool())
	})
}

func (s *TestSuite) TestCheckout() {
	s.Run("Should open a checkout", func() {
		body, _ := json.Marshal(types.CreateCheckoutRequestBody{
			AccessPointID: s.Device.ID.String(),
			PassTypeID:    s.PassType.ID.String(),
			Email:         "jo@example.com",
			NumberOfDays:  2,
		})
		w := s.do(http.MethodPost, "/api/v1/checkout", body, nil)
		s.Equal(http.StatusCreated, w.Code, w.Body.String())
		res := w.Body.String()
		s.Equal("pi_checkout_1_secret", gjson.Get(res, "client_secret").String())
		s.Equal("pi_checkout_1", gjson.Get(res, "payment_intent").String())
		s.EqualValues(3000, gjson.Get(res, "amount_cents").Int())

		passID := uuid.MustParse(gjson.Get(res, "pass_id").String())
		pass, err := ledger.GetPass(s.DB, passID)
		s.Require().NoError(err)
		s.Equal(types.PASS_PENDING, pass.Status)
		s.Require().Len(s.Intents.created, 1)
		s.Equal(passID.String(), s.Intents.created[0].Metadata[types.MD_PASS_ID])
	})

	s.Run("Should reject an invalid body", func() {
		w := s.do(http.MethodPost, "/api/v1/checkout", []byte(`{"access_point_id":"x"}`), nil)
		s.Equal(http.StatusBadRequest, w.Code)
		s.NotEmpty(gjson.Get(w.Body.String(), "error").String())
	})

	s.Run("Should return 404 for an unknown access point", func() {
		body, _ := json.Marshal(types.CreateCheckoutRequestBody{
			AccessPointID: uuid.NewString(),
			PassTypeID:    s.PassType.ID.String(),
		})
		w := s.do(http.MethodPost, "/api/v1/checkout", body, nil)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *TestSuite) TestRoomsWebhook() {
	s.Require().NoError(s.DB.Create(&models.IntegrationConfig{
		OrgID:       s.Org.ID,
		Provider:    rooms.Provider,
		BaseURL:     "https://rooms.example.com",
		WebhookPath: "/reservations",
		APIKey:      roomsKey,
		Active:      true,
	}).Error)
	pass := s.pendingPass("pi_rooms", "777888")
	s.Require().Equal(http.StatusOK, s.postStripe(checkoutCompletedEvent("evt_rooms", "cs_rooms", "pi_rooms", s.paidMetadata(pass, "777888"))).Code)

	body := []byte(fmt.Sprintf(`{"reservationId":%q,"pinCode":"4321"}`, pass.ID))

	s.Run("Should reject a bad api key", func() {
		w := s.do(http.MethodPost, "/api/v1/webhook/rooms", body, map[string]string{roomsAPIKeyHeader: "wrong"})
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("Should reject a body without a PIN", func() {
		w := s.do(http.MethodPost, "/api/v1/webhook/rooms", []byte(fmt.Sprintf(`{"reservationId":%q}`, pass.ID)), map[string]string{roomsAPIKeyHeader: roomsKey})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("Should replace the backup PIN", func() {
		w := s.do(http.MethodPost, "/api/v1/webhook/rooms", body, map[string]string{roomsAPIKeyHeader: roomsKey})
		s.Equal(http.StatusOK, w.Code, w.Body.String())
		s.Equal("rooms", gjson.Get(w.Body.String(), "pinSource").String())

		lc, err := ledger.GetLockCode(s.DB, pass.ID)
		s.Require().NoError(err)
		s.Equal("4321", *lc.Code)
		s.Equal(types.PIN_PROVIDER_ROOMS, lc.Provider)

		status := s.do(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", pass.ID), nil, nil)
		s.Equal("4321", gjson.Get(status.Body.String(), "code").String())
		s.Equal("rooms", gjson.Get(status.Body.String(), "pinSource").String())
	})
}

func (s *TestSuite) TestAdminSubscriptions() {
	s.Run("Should require a token", func() {
		w := s.do(http.MethodGet, "/api/v1/admin/subscriptions", nil, nil)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	body, _ := json.Marshal(types.CreateSubscriptionRequestBody{
		URL:    "https://hooks.example.com/daypass",
		Topics: []string{types.TOPIC_PASS_PAID},
	})
	w := s.do(http.MethodPost, "/api/v1/admin/subscriptions", body, s.bearer())
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.True(strings.HasPrefix(gjson.Get(w.Body.String(), "secret").String(), "whsec_"))
	s.False(gjson.Get(w.Body.String(), "subscription.secret").Exists())
	id := gjson.Get(w.Body.String(), "subscription.id").String()

	w = s.do(http.MethodGet, "/api/v1/admin/subscriptions", nil, s.bearer())
	s.Equal(http.StatusOK, w.Code)
	s.EqualValues(1, gjson.Get(w.Body.String(), "count").Int())
	s.Equal(types.TOPIC_PASS_PAID, gjson.Get(w.Body.String(), "data.0.topics.0").String())

	w = s.do(http.MethodPatch, "/api/v1/admin/subscriptions/"+id, []byte(`{"active":false}`), s.bearer())
	s.Equal(http.StatusOK, w.Code, w.Body.String())
	var sub models.WebhookSubscription
	s.Require().NoError(s.DB.Where("id = ?", id).First(&sub).Error)
	s.False(sub.Active)

	w = s.do(http.MethodDelete, "/api/v1/admin/subscriptions/"+id, nil, s.bearer())
	s.Equal(http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/api/v1/admin/subscriptions/"+id, nil, s.bearer())
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *TestSuite) TestAdminBackupPincodes() {
	body, _ := json.Marshal(types.ProvisionBackupPincodesRequestBody{
		Items: []types.BackupPincodeItem{{
			SiteID:          s.Site.ID.String(),
			DeviceID:        s.Device.ID.String(),
			FortnightNumber: 3,
			Pincode:         "246810",
		}},
	})
	w := s.do(http.MethodPost, "/api/v1/admin/backup-pincodes", body, s.bearer())
	s.Equal(http.StatusCreated, w.Code, w.Body.String())
	s.EqualValues(1, gjson.Get(w.Body.String(), "count").Int())
	s.False(gjson.Get(w.Body.String(), "data.0.pincode").Exists())

	var row models.BackupPincode
	s.Require().NoError(s.DB.Where("device_id = ? AND fortnight_number = ?", s.Device.ID, 3).First(&row).Error)
	s.Equal("246810", row.Pincode)

	s.Run("Should reject devices from another organization", func() {
		other := models.Organization{Name: "Other", Slug: "other-org"}
		s.Require().NoError(s.DB.Create(&other).Error)
		foreign := models.Device{OrgID: other.ID, Name: "Gate X"}
		s.Require().NoError(s.DB.Create(&foreign).Error)

		body, _ := json.Marshal(types.ProvisionBackupPincodesRequestBody{
			Items: []types.BackupPincodeItem{{
				SiteID:          s.Site.ID.String(),
				DeviceID:        foreign.ID.String(),
				FortnightNumber: 3,
				Pincode:         "135790",
			}},
		})
		w := s.do(http.MethodPost, "/api/v1/admin/backup-pincodes", body, s.bearer())
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *TestSuite) TestAccessPointQR() {
	w := s.do(http.MethodGet, fmt.Sprintf("/api/v1/admin/access-points/%s/qr", s.Device.ID), nil, s.bearer())
	s.Equal(http.StatusOK, w.Code)
	s.Equal("image/jpeg", w.Header().Get("Content-Type"))
	s.Equal(appHost+"/test-org/north-ramp/gate-1", w.Header().Get("X-Purchase-URL"))
	s.NotZero(w.Body.Len())

	w = s.do(http.MethodGet, fmt.Sprintf("/api/v1/admin/access-points/%s/qr", uuid.New()), nil, s.bearer())
	s.Equal(http.StatusNotFound, w.Code)
}

func TestStatusDatabaseError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gormDB, mock := NewMockDB()
	mock.ExpectQuery(`SELECT \* FROM "passes"`).WillReturnError(errors.New("connection reset"))

	router := setupRouter()
	(&server{db: gormDB}).passRoutes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/passes/%s/status", uuid.New()), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "could not load pass", gjson.Get(w.Body.String(), "error").String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
