package mailer

import (
	"fmt"
	"log"

	"github.com/wneessen/go-mail"
)

type SendMailInput struct {
	From     string
	FromName string
	To       []string
	ReplyTo  string
	Subject  string
	Html     string
	Text     string
}

// NewMessage builds a multipart message with a plain-text alternative when
// both bodies are given.
func NewMessage(input *SendMailInput) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if input.FromName != "" {
		if err := msg.FromFormat(input.FromName, input.From); err != nil {
			return nil, fmt.Errorf("invalid from address: %w", err)
		}
	} else if err := msg.From(input.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(input.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if input.ReplyTo != "" {
		if err := msg.ReplyTo(input.ReplyTo); err != nil {
			log.Printf("Failed to set Reply-To address: %s\n", err.Error())
		}
	}
	msg.Subject(input.Subject)
	switch {
	case input.Html != "" && input.Text != "":
		msg.SetBodyString(mail.TypeTextPlain, input.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, input.Html)
	case input.Html != "":
		msg.SetBodyString(mail.TypeTextHTML, input.Html)
	default:
		msg.SetBodyString(mail.TypeTextPlain, input.Text)
	}
	return msg, nil
}
