// Package notify sends the purchaser their PIN. Dispatch is fire-and-forget:
// failures are logged and never reach the caller.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

type PinDetails struct {
	AccessPointName string
	Pin             string
	ValidFrom       time.Time
	ValidTo         time.Time
	VehiclePlate    string
	OrgName         string
	PassTypeName    string
}

type Notification struct {
	Email    string
	Phone    string
	Details  PinDetails
	Timezone string
	// StatusURL links back to the pass status page.
	StatusURL string
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html, text string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// Dispatcher hands a notification off without waiting for delivery.
type Dispatcher interface {
	Dispatch(n Notification)
}

// AsyncDispatcher sends each notification on its own goroutine bounded by
// Timeout. SMS is nil when SMS sharing is disabled.
type AsyncDispatcher struct {
	Email   EmailSender
	SMS     SMSSender
	Timeout time.Duration

	wg sync.WaitGroup
}

func NewAsyncDispatcher(email EmailSender, sms SMSSender, timeout time.Duration) *AsyncDispatcher {
	return &AsyncDispatcher{Email: email, SMS: sms, Timeout: timeout}
}

func (d *AsyncDispatcher) Dispatch(n Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
		defer cancel()
		d.send(ctx, n)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

func (d *AsyncDispatcher) send(ctx context.Context, n Notification) {
	msg, err := Render(n)
	if err != nil {
		log.Printf("[Notify] Error rendering notification: %s\n", err.Error())
		return
	}
	if n.Email != "" && d.Email != nil {
		if err := d.Email.SendEmail(ctx, n.Email, msg.Subject, msg.HTML, msg.Text); err != nil {
			log.Printf("[Notify] Error sending email: %s\n", err.Error())
		} else {
			log.Println("[Notify] Purchaser email sent")
		}
	}
	if n.Phone != "" && d.SMS != nil {
		if err := d.SMS.SendSMS(ctx, n.Phone, msg.SMS); err != nil {
			log.Printf("[Notify] Error sending SMS: %s\n", err.Error())
		}
	}
}
