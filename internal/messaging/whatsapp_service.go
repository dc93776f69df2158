package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/whatsapp"
)

// phoneNumberRegex validates E.164-ish phone numbers after cleanup.
var phoneNumberRegex = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// WhatsAppService implements Service over the per-tenant Whatsmeow
// session manager.
type WhatsAppService struct {
	manager  *whatsapp.Manager
	messages chan models.Message
	done     chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given
// session manager. It registers itself as the manager's inbound
// handler, so it must be created before any session is started.
func NewWhatsAppService(manager *whatsapp.Manager) *WhatsAppService {
	s := &WhatsAppService{
		manager:  manager,
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	manager.OnMessage(s.enqueue)
	slog.Debug("WhatsAppService created")
	return s
}

// ValidateAndCanonicalizeRecipient validates a phone number and returns
// it in E.164 format with a leading plus.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(recipient))
	if !phoneNumberRegex.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number: %s", recipient)
	}
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}
	return cleaned, nil
}

// SendMessage sends a message through the tenant's WhatsApp session.
func (s *WhatsAppService) SendMessage(ctx context.Context, tenantID, to, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "tenantID", tenantID, "to", to, "body_length", len(body))
	return s.manager.SendMessage(ctx, tenantID, to, body)
}

// Start begins background processing. Session startup is driven by the
// control plane, so there is nothing to launch here.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	return nil
}

// Stop disconnects every session and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	s.manager.Stop()
	close(s.messages)
	return nil
}

// Messages returns the inbound message channel.
func (s *WhatsAppService) Messages() <-chan models.Message {
	return s.messages
}

// enqueue forwards one inbound message without ever blocking the
// whatsmeow event loop. A full channel drops the message with a warning.
func (s *WhatsAppService) enqueue(msg models.Message) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "tenantID", msg.TenantID, "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "tenantID", msg.TenantID, "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
