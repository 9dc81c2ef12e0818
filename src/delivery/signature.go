// Package delivery relays outbox events to integrator webhook subscriptions
// with signed, retried HTTP POSTs.
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Daypass-Signature"
	EventHeader     = "X-Daypass-Event"
	DeliveryHeader  = "X-Daypass-Delivery"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
)

func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// Sign returns the signature header value "t=<unix>,v1=<hex hmac>" for
// payload sent at ts.
func Sign(secret string, payload []byte, ts time.Time) string {
	t := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", t, hex.EncodeToString(computeSignature(secret, t, payload)))
}

// Verify checks a signature header produced by Sign. Any v1 entry may match,
// so secrets can be rotated by sending two.
func Verify(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			ts, haveTS = v, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS || len(signatures) == 0 {
		return ErrMalformedSignature
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if tolerance > 0 && age > tolerance {
		return ErrSignatureExpired
	}
	expected := computeSignature(secret, ts, payload)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
