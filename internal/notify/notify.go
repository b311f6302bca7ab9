// Package notify sends order confirmations as SMS through Twilio.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// ErrInvalidPhone is returned for numbers that cannot be put in E.164 form.
var ErrInvalidPhone = errors.New("invalid phone number")

// Sender delivers a text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// messageCreator is the slice of the Twilio API the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio SMS client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio SMS client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending number in E.164 form.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	api  messageCreator
	from string
}

// NewTwilioSender builds a sender. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("notify.NewTwilioSender: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	from, err := NormalizePhone(cfg.FromNumber)
	if err != nil {
		return nil, fmt.Errorf("from number: %w", err)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: from}, nil
}

// SendMessage texts body to the given number.
func (s *TwilioSender) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := NormalizePhone(to)
	if err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(dest)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioSender.SendMessage: send failed", "to", dest, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", dest, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("TwilioSender.SendMessage: message sent", "to", dest, "sid", sid)
	return nil
}

// NormalizePhone returns the number in E.164 form. Ten-digit numbers are
// taken as North American.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	n := b.String()
	digits := strings.TrimPrefix(n, "+")
	switch {
	case strings.HasPrefix(n, "+") && len(digits) >= 8 && len(digits) <= 15:
		return n, nil
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
}

// MockSender records messages instead of sending them.
type MockSender struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// SentMessage is one message captured by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the captured messages.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
