package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestTwilioService(t *testing.T) *TwilioService {
	t.Helper()
	s, err := NewTwilioService(
		WithAccountSID("ACxxxxxxxx"),
		WithAuthToken("token"),
		WithFromWhats("+15550001111"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	s := newTestTwilioService(t)

	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"+5511999887766", "+5511999887766", true},
		{"5511999887766", "+5511999887766", true},
		{" +55 (11) 99988-7766 ", "+5511999887766", true},
		{"whatsapp:+5511999887766", "+5511999887766", true},
		{"abc", "", false},
		{"", "", false},
		{"+0123", "", false},
	}
	for _, c := range cases {
		got, err := s.ValidateAndCanonicalizeRecipient(c.input)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = (%q, %v), want %q", c.input, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) should fail", c.input)
		}
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	s := newTestTwilioService(t)
	handler := s.WebhookHandler(func(r *http.Request) string { return "acme" })

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999887766")
	form.Set("Body", "oi")
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Response>") {
		t.Errorf("expected empty TwiML body, got %q", rec.Body.String())
	}

	select {
	case msg := <-s.Messages():
		if msg.TenantID != "acme" || msg.From != "5511999887766" || msg.Body != "oi" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook did not forward the message")
	}
}

func TestTwilioWebhookHandlerRejectsUnknownTenant(t *testing.T) {
	s := newTestTwilioService(t)
	handler := s.WebhookHandler(func(r *http.Request) string { return "" })

	form := url.Values{}
	form.Set("From", "whatsapp:+5511999887766")
	form.Set("Body", "oi")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestNewTwilioServiceValidation(t *testing.T) {
	if _, err := NewTwilioService(WithFromWhats("+1555")); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioService(WithAccountSID("AC"), WithAuthToken("t")); err == nil {
		t.Error("expected error without sender number")
	}
}
