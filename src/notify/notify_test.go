package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type sentEmail struct {
	to, subject, html, text string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, to, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmail{to, subject, html, text})
	return f.err
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, phone+": "+message)
	return nil
}

func notification() Notification {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Notification{
		Email: "jo@example.com",
		Phone: "+61400000000",
		Details: PinDetails{
			AccessPointName: "North <Ramp>",
			Pin:             "123456",
			ValidFrom:       from,
			ValidTo:         from.Add(24 * time.Hour),
			VehiclePlate:    "ABC123",
			OrgName:         "Acme Parks",
		},
		Timezone: "Australia/Sydney",
	}
}

func TestRender(t *testing.T) {
	msg, err := Render(notification())
	require.NoError(t, err)

	assert.Equal(t, "Your access PIN for North <Ramp>", msg.Subject)
	assert.Contains(t, msg.HTML, "123456")
	assert.Contains(t, msg.HTML, "North &lt;Ramp&gt;")
	assert.Contains(t, msg.HTML, "Sun 1 Mar 2026, 11:00 AM AEDT")
	assert.Contains(t, msg.Text, "PIN: 123456")
	assert.Contains(t, msg.Text, "Vehicle: ABC123")
	assert.Contains(t, msg.SMS, "123456")
}

func TestRenderWithoutPin(t *testing.T) {
	n := notification()
	n.Details.Pin = ""
	msg, err := Render(n)
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "not available yet")
	assert.Contains(t, msg.SMS, "pending")
}

func TestAsyncDispatcher(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	d := NewAsyncDispatcher(email, sms, time.Second)

	d.Dispatch(notification())
	d.Wait()

	require.Len(t, email.sent, 1)
	assert.Equal(t, "jo@example.com", email.sent[0].to)
	require.Len(t, sms.sent, 1)
	assert.True(t, strings.HasPrefix(sms.sent[0], "+61400000000"))
}

func TestAsyncDispatcherSwallowsErrors(t *testing.T) {
	email := &fakeEmail{err: errors.New("smtp down")}
	d := NewAsyncDispatcher(email, nil, time.Second)

	n := notification()
	n.Phone = ""
	assert.NotPanics(t, func() {
		d.Dispatch(n)
		d.Wait()
	})
	assert.Len(t, email.sent, 1)
}

type fakeMailClient struct {
	msgs []*mail.Msg
}

func (f *fakeMailClient) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	f.msgs = append(f.msgs, messages...)
	return nil
}

func TestSMTPSender(t *testing.T) {
	client := &fakeMailClient{}
	s := &SMTPSender{
		From:     "noreply@example.com",
		FromName: "Day Pass",
		Dial:     func() (MailClient, error) { return client, nil },
	}
	require.NoError(t, s.SendEmail(context.Background(), "jo@example.com", "subject", "<p>hi</p>", "hi"))
	require.Len(t, client.msgs, 1)
	to := client.msgs[0].GetTo()
	require.Len(t, to, 1)
	assert.Equal(t, "jo@example.com", to[0].Address)
}

type fakeSES struct {
	input *ses.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = params
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	return &sns.PublishOutput{MessageId: aws.String("s-1")}, nil
}

func TestAWSSenders(t *testing.T) {
	sesClient := &fakeSES{}
	require.NoError(t, (&SESSender{From: "noreply@example.com", Client: sesClient}).SendEmail(context.Background(), "jo@example.com", "s", "<p>h</p>", "h"))
	assert.Equal(t, []string{"jo@example.com"}, sesClient.input.Destination.ToAddresses)
	assert.Equal(t, "noreply@example.com", aws.ToString(sesClient.input.Source))

	snsClient := &fakeSNS{}
	require.NoError(t, (&SNSSender{Client: snsClient}).SendSMS(context.Background(), "+61400000000", "PIN 1"))
	assert.Equal(t, "+61400000000", aws.ToString(snsClient.input.PhoneNumber))
}
