package notify

import (
	"context"
	"daypass/src/config"
	"daypass/src/lib"
	awslib "daypass/src/lib/aws"
	"daypass/src/lib/mailer"
	"errors"
	"log"

	"github.com/wneessen/go-mail"
)

// SMTPSender sends email through go-mail. Dial is replaceable in tests.
type SMTPSender struct {
	From     string
	FromName string
	Dial     func() (MailClient, error)
}

type MailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

func NewSMTPSender(from, fromName string) *SMTPSender {
	return &SMTPSender{
		From:     from,
		FromName: fromName,
		Dial: func() (MailClient, error) {
			return lib.GetSMTPClient()
		},
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, html, text string) error {
	msg, err := mailer.NewMessage(&mailer.SendMailInput{
		From:     s.From,
		FromName: s.FromName,
		To:       []string{to},
		Subject:  subject,
		Html:     html,
		Text:     text,
	})
	if err != nil {
		return err
	}
	c, err := s.Dial()
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

type SESSender struct {
	From   string
	Client awslib.SESAPI
}

func (s *SESSender) SendEmail(ctx context.Context, to, subject, html, text string) error {
	return awslib.SESSendMessage(ctx, s.Client, s.From, []string{to}, subject, html, text)
}

type SNSSender struct {
	Client awslib.SNSAPI
}

func (s *SNSSender) SendSMS(ctx context.Context, phone, message string) error {
	return awslib.SNSPublishSMS(ctx, s.Client, phone, message)
}

// NewDispatcherFromEnv wires the configured email transport and, when enabled,
// SNS SMS sharing.
func NewDispatcherFromEnv() (*AsyncDispatcher, error) {
	var email EmailSender
	switch config.EmailTransport() {
	case "ses":
		c, err := lib.AWSGetSESClient()
		if err != nil {
			return nil, err
		}
		email = &SESSender{From: config.SMTPFrom(), Client: c}
	case "smtp":
		email = NewSMTPSender(config.SMTPFrom(), config.SMTPFromName())
	default:
		return nil, errors.New("unknown email transport: " + config.EmailTransport())
	}

	var sms SMSSender
	if config.SMSEnabled() {
		c, err := lib.AWSGetSNSClient()
		if err != nil {
			log.Printf("[Notify] SMS disabled: %s\n", err.Error())
		} else {
			sms = &SNSSender{Client: c}
		}
	}
	return NewAsyncDispatcher(email, sms, config.NotificationTimeout()), nil
}
