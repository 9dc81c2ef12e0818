package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// const dsn = "host=localhost user=postgres password=password dbname=daypass port=5432 sslmode=disable TimeZone=Australia/Sydney"

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

// Fallback timezone for sites without a usable IANA zone.
const DEFAULT_TIMEZONE = "Australia/Sydney"

// MaintenanceMode reports whether MAINTENANCE_MODE is on. Unset means off; a
// value that is not a boolean keeps the API closed.
func MaintenanceMode() bool {
	mm := os.Getenv("MAINTENANCE_MODE")
	if mm == "" {
		return false
	}
	on, err := strconv.ParseBool(mm)
	return err != nil || on
}

// DatabaseDriver is "postgres" (default) or "sqlite" for local runs.
func DatabaseDriver() string {
	if d := os.Getenv("DATABASE_DRIVER"); d != "" {
		return d
	}
	return "postgres"
}

func SQLitePath() string {
	if p := os.Getenv("SQLITE_PATH"); p != "" {
		return p
	}
	return "daypass.db"
}

func ApiEnv() string {
	return os.Getenv("API_ENV")
}

func AppHost() string {
	return os.Getenv("APP_HOST")
}

func JWTSecret() []byte {
	return []byte(os.Getenv("JWT_SECRET"))
}

func SMTPFrom() string {
	return os.Getenv("SMTP_FROM")
}

func SMTPFromName() string {
	return os.Getenv("SMTP_FROM_NAME")
}

func StripeWebhookSecret() string {
	return os.Getenv("STRIPE_WEBHOOK_SECRET")
}

// EmailTransport selects the purchaser email transport: "smtp" (default) or "ses".
func EmailTransport() string {
	if t := os.Getenv("EMAIL_TRANSPORT"); t != "" {
		return t
	}
	return "smtp"
}

// RoomsTimeout bounds a single Reservation Gateway call.
func RoomsTimeout() time.Duration {
	return secondsFromEnv("ROOMS_TIMEOUT_SECONDS", 20)
}

// CountdownDuration is how long the success page waits before showing a PIN.
func CountdownDuration() time.Duration {
	return secondsFromEnv("COUNTDOWN_SECONDS", 20)
}

// EventStaleAfter is how long a webhook event may sit in processing before
// it can be claimed again.
func EventStaleAfter() time.Duration {
	return secondsFromEnv("EVENT_STALE_AFTER_SECONDS", 300)
}

func DeliveryInterval() time.Duration {
	return secondsFromEnv("DELIVERY_INTERVAL_SECONDS", 30)
}

func NotificationTimeout() time.Duration {
	return secondsFromEnv("NOTIFICATION_TIMEOUT_SECONDS", 15)
}

func RateLimitPerMinute() int {
	return intFromEnv("RATE_LIMIT_PER_MINUTE", 60)
}

func SMSEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("SMS_ENABLED"))
	return err == nil && v
}

func secondsFromEnv(key string, def int) time.Duration {
	return time.Duration(intFromEnv(key, def)) * time.Second
}

func intFromEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
