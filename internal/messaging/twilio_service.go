package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/conversia/conversia/internal/models"
)

// TwilioService implements Service using the Twilio WhatsApp Business
// API. Unlike the Whatsmeow transport there is no per-tenant session:
// one Twilio account and sender number serve every tenant, and inbound
// traffic arrives through the webhook handler, which carries the tenant
// in the request path.
type TwilioService struct {
	client    *twilio.RestClient
	fromWhats string // sender in "whatsapp:+1234567890" format
	messages  chan models.Message
	done      chan struct{}
}

// TwilioOpts holds configuration options for the Twilio transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// NewTwilioService creates a Twilio-backed messaging service.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if !strings.HasPrefix(cfg.FromWhats, "whatsapp:") {
		cfg.FromWhats = "whatsapp:" + cfg.FromWhats
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	slog.Debug("TwilioService created", "from", cfg.FromWhats)
	return &TwilioService{
		client:    client,
		fromWhats: cfg.FromWhats,
		messages:  make(chan models.Message, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates a phone number and returns
// it in E.164 format with a leading plus.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(strings.TrimPrefix(recipient, "whatsapp:")))
	if !phoneNumberRegex.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned, nil
}

// SendMessage sends a WhatsApp message via the Twilio REST API. The
// tenant is recorded for logging only; Twilio routing is account-wide.
func (s *TwilioService) SendMessage(ctx context.Context, tenantID, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + strings.TrimPrefix(to, "whatsapp:"))
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendMessage failed", "error", err, "tenantID", tenantID, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("TwilioService message sent", "tenantID", tenantID, "to", to, "body_length", len(body))
	return nil
}

// Start begins background processing. Twilio delivery is webhook-driven,
// so there is nothing to launch here.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService Start invoked")
	return nil
}

// Stop closes the inbound message channel.
func (s *TwilioService) Stop() error {
	slog.Info("TwilioService Stop invoked")
	close(s.done)
	close(s.messages)
	return nil
}

// Messages returns the inbound message channel.
func (s *TwilioService) Messages() <-chan models.Message {
	return s.messages
}

// WebhookHandler returns an HTTP handler for Twilio inbound-message
// webhooks. resolveTenant extracts the tenant identifier from the
// request (usually a path parameter); an empty result rejects the call.
func (s *TwilioService) WebhookHandler(resolveTenant func(r *http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			slog.Warn("TwilioService webhook form parse failed", "error", err)
			http.Error(w, "invalid form payload", http.StatusBadRequest)
			return
		}
		tenantID := resolveTenant(r)
		if tenantID == "" {
			http.Error(w, "unknown tenant", http.StatusNotFound)
			return
		}
		from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
		body := r.FormValue("Body")
		if from == "" || body == "" {
			slog.Debug("TwilioService webhook missing From or Body", "tenantID", tenantID)
			w.WriteHeader(http.StatusOK)
			return
		}

		msg := models.Message{
			TenantID: tenantID,
			From:     strings.TrimPrefix(from, "+"),
			Body:     body,
			Time:     time.Now().Unix(),
		}
		select {
		case s.messages <- msg:
			slog.Debug("TwilioService inbound message forwarded", "tenantID", tenantID, "from", msg.From)
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("TwilioService messages channel blocked, dropping message", "tenantID", tenantID, "from", msg.From)
		}
		// Twilio expects 2xx with an empty TwiML body to send no reply.
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<Response></Response>"))
	}
}
