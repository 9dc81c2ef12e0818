// Package rooms is the client for the Rooms reservation API. A reservation is
// created per pass; the PIN for it arrives later on a separate webhook, so a
// successful call never yields a code.
package rooms

import (
	"bytes"
	"context"
	"daypass/src/models"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const Provider = "rooms"

type FailureKind string

const (
	NotConfigured FailureKind = "not_configured"
	Timeout       FailureKind = "timeout"
	HTTPStatus    FailureKind = "http_status"
	Transport     FailureKind = "transport"
)

// Failure is the only error type returned by Client.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("rooms %s (%d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("rooms %s: %s", f.Kind, f.Message)
}

// IsFailure reports whether err is a gateway failure of the given kind.
func IsFailure(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

type Reservation struct {
	OrgID     uuid.UUID
	SiteID    *uuid.UUID
	PassID    uuid.UUID
	DeviceID  uuid.UUID
	ValidFrom time.Time
	ValidTo   time.Time
	Name      string
	Email     string
	Phone     string
	// SlugPath names the org, site and device, e.g. "acme/north-ramp/gate-1".
	SlugPath string
	Status   string
}

// Gateway creates or updates the reservation backing a pass.
type Gateway interface {
	UpsertReservation(ctx context.Context, r Reservation) error
}

type payload struct {
	PropertyID     string `json:"propertyId"`
	ReservationID  string `json:"reservationId"`
	ArrivalDate    string `json:"arrivalDate"`
	DepartureDate  string `json:"departureDate"`
	GuestID        string `json:"guestId"`
	GuestFirstName string `json:"guestFirstName"`
	GuestLastName  string `json:"guestLastName"`
	GuestEmail     string `json:"guestEmail"`
	GuestPhone     string `json:"guestPhone"`
	RoomID         string `json:"roomId"`
	RoomName       string `json:"roomName"`
	Status         string `json:"status"`
}

type Client struct {
	db      *gorm.DB
	http    *http.Client
	timeout time.Duration
}

func NewClient(db *gorm.DB, timeout time.Duration) *Client {
	return &Client{
		db:      db,
		http:    &http.Client{},
		timeout: timeout,
	}
}

func (c *Client) UpsertReservation(ctx context.Context, r Reservation) error {
	cfg, err := c.activeConfig(r.OrgID)
	if err != nil {
		log.Printf("[Rooms] Error loading integration config for org %s: %s\n", r.OrgID, err.Error())
		return &Failure{Kind: NotConfigured, Message: err.Error()}
	}
	if cfg == nil {
		return &Failure{Kind: NotConfigured, Message: "no active rooms integration"}
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.WebhookPath, "/")
	body, _ := json.Marshal(buildPayload(cfg, r))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	status, respBody, callErr := c.post(ctx, url, cfg.APIKey, body)
	elapsed := time.Since(started)

	var failure *Failure
	switch {
	case callErr != nil && isTimeout(ctx, callErr):
		failure = &Failure{Kind: Timeout, Message: callErr.Error()}
	case callErr != nil:
		failure = &Failure{Kind: Transport, Message: callErr.Error()}
	case status < 200 || status > 299:
		failure = &Failure{Kind: HTTPStatus, StatusCode: status, Message: errorMessage(respBody, status)}
	}

	c.audit(r, cfg, url, body, status, respBody, failure, elapsed)
	if failure != nil {
		log.Printf("[Rooms] Reservation %s (%s) failed after %s: %s\n", r.PassID, r.Status, elapsed, failure.Error())
		return failure
	}
	log.Printf("[Rooms] Reservation %s accepted with status %s in %s\n", r.PassID, r.Status, elapsed)
	return nil
}

func (c *Client) activeConfig(orgID uuid.UUID) (*models.IntegrationConfig, error) {
	var configs []models.IntegrationConfig
	if err := c.db.
		Where("org_id = ? AND provider = ? AND active = ?", orgID, Provider, true).
		Order("updated_at desc").
		Limit(1).
		Find(&configs).
		Error; err != nil {
		return nil, err
	}
	if len(configs) == 0 || configs[0].BaseURL == "" {
		return nil, nil
	}
	return &configs[0], nil
}

func (c *Client) post(ctx context.Context, url, apiKey string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, respBody, nil
}

func (c *Client) audit(r Reservation, cfg *models.IntegrationConfig, url string, reqBody []byte, status int, respBody []byte, failure *Failure, elapsed time.Duration) {
	passID := r.PassID
	entry := models.IntegrationLog{
		OrgID:          cfg.OrgID,
		PassID:         &passID,
		Provider:       Provider,
		URL:            url,
		RequestBody:    string(reqBody),
		ResponseStatus: status,
		ResponseBody:   string(respBody),
		Success:        failure == nil,
		DurationMs:     elapsed.Milliseconds(),
	}
	if failure != nil {
		msg := failure.Error()
		entry.Error = &msg
	}
	if err := c.db.Create(&entry).Error; err != nil {
		log.Printf("[Rooms] Error writing integration log: %s\n", err.Error())
	}
}

func buildPayload(cfg *models.IntegrationConfig, r Reservation) payload {
	first, last := splitName(r.Name)
	propertyID := cfg.PropertyID
	if propertyID == "" && r.SiteID != nil {
		propertyID = r.SiteID.String()
	}
	guestID := r.Email
	if guestID == "" {
		guestID = r.Phone
	}
	if guestID == "" {
		guestID = r.PassID.String()
	}
	return payload{
		PropertyID:     propertyID,
		ReservationID:  r.PassID.String(),
		ArrivalDate:    r.ValidFrom.Format(time.RFC3339),
		DepartureDate:  r.ValidTo.Format(time.RFC3339),
		GuestID:        guestID,
		GuestFirstName: first,
		GuestLastName:  last,
		GuestEmail:     r.Email,
		GuestPhone:     r.Phone,
		RoomID:         r.DeviceID.String(),
		RoomName:       r.SlugPath,
		Status:         r.Status,
	}
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "Guest", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func errorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
				return v.String()
			}
		}
	}
	return http.StatusText(status)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
