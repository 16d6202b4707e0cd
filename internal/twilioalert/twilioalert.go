// Package twilioalert mirrors operator alerts to a phone over Twilio, as
// WhatsApp or SMS depending on the configured sender.
package twilioalert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const whatsappPrefix = "whatsapp:"

// Sender delivers a plain-text alert.
type Sender interface {
	Alert(ctx context.Context, text string) error
}

// messageCreator is the part of the Twilio REST API the client calls.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio alert client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// Option defines a configuration option for the Twilio alert client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender. A "whatsapp:" prefix selects WhatsApp delivery.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the alert recipient in E.164 form.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// Client sends alerts through the Twilio Messages API.
type Client struct {
	api  messageCreator
	from string
	to   string
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client, falling back to TWILIO_* environment variables
// and ALERT_TO for unset options.
func NewClient(opts ...Option) (*Client, error) {
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
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("ALERT_TO")
	}
	slog.Debug("Twilio alert config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("alert sender and recipient must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg.From, cfg.To), nil
}

func newClient(api messageCreator, from, to string) *Client {
	if strings.HasPrefix(from, whatsappPrefix) && !strings.HasPrefix(to, whatsappPrefix) {
		to = whatsappPrefix + to
	}
	return &Client{api: api, from: from, to: to}
}

// Alert sends text to the configured recipient.
func (c *Client) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.to)
	params.SetFrom(c.from)
	params.SetBody(text)

	if _, err := c.api.CreateMessage(params); err != nil {
		slog.Error("Twilio alert failed", "error", err)
		return fmt.Errorf("failed to send alert: %w", err)
	}
	slog.Debug("Twilio alert sent")
	return nil
}

// MockClient records alerts for tests.
type MockClient struct {
	Alerts []string
	Err    error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{Alerts: []string{}}
}

func (m *MockClient) Alert(_ context.Context, text string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Alerts = append(m.Alerts, text)
	return nil
}
