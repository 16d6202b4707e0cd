package twilioalert

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return &twilioApi.ApiV2010Message{}, f.err
}

func TestAlert_WhatsAppRecipientPrefixed(t *testing.T) {
	api := &fakeCreator{}
	c := newClient(api, "whatsapp:+14155238886", "+380501112233")

	if err := c.Alert(context.Background(), "booking B1 failed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := api.params[0]
	if *p.To != "whatsapp:+380501112233" || *p.From != "whatsapp:+14155238886" || *p.Body != "booking B1 failed" {
		t.Errorf("unexpected params to=%q from=%q body=%q", *p.To, *p.From, *p.Body)
	}
}

func TestAlert_SMSRecipientUnchanged(t *testing.T) {
	api := &fakeCreator{}
	c := newClient(api, "+15005550006", "+380501112233")
	if err := c.Alert(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if *api.params[0].To != "+380501112233" {
		t.Errorf("unexpected to %q", *api.params[0].To)
	}
}

func TestAlert_ErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	c := newClient(&fakeCreator{err: boom}, "+1", "+2")
	if err := c.Alert(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	t.Setenv("ALERT_TO", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("t"), WithFrom("+1")); err == nil {
		t.Error("expected error without recipient")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("t"), WithFrom("+1"), WithTo("+2")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockClient_Alert(t *testing.T) {
	m := NewMockClient()
	if err := m.Alert(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if len(m.Alerts) != 1 || m.Alerts[0] != "hello" {
		t.Errorf("unexpected alerts %v", m.Alerts)
	}
}
