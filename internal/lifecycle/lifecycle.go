// Package lifecycle posts conversation-started notifications to each
// tenant's site. Notifications are fire-and-forget: they run detached
// from the message-reply path and are never retried.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conversia/conversia/internal/metrics"
	"github.com/conversia/conversia/internal/store"
)

// startConversationPath is the fixed sub-path appended to the tenant's
// site URL, kept compatible with the original WordPress plugin.
const startConversationPath = "/wp-json/convers-ia/v1/start-conversation"

// DefaultNotifyTimeout bounds one callback POST.
const DefaultNotifyTimeout = 5 * time.Second

// startedPayload is the callback body.
type startedPayload struct {
	PartyID   string `json:"party_id"`
	Timestamp string `json:"timestamp"`
}

// Hook posts conversation-started callbacks for tenants that configured
// a site URL.
type Hook struct {
	tenants store.TenantFlowStore
	client  *http.Client
}

// Option configures a Hook.
type Option func(*Hook)

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(h *Hook) { h.client = c }
}

// NewHook creates a lifecycle hook over the given tenant store.
func NewHook(tenants store.TenantFlowStore, opts ...Option) *Hook {
	h := &Hook{
		tenants: tenants,
		client:  &http.Client{Timeout: DefaultNotifyTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NotifyConversationStarted posts {party_id, timestamp} to the tenant's
// site. It detaches from the caller: timeouts and non-2xx responses are
// logged, never surfaced, and never block the reply path.
func (h *Hook) NotifyConversationStarted(ctx context.Context, tenantID, partyID string) {
	cfg, err := h.tenants.GetTenant(tenantID)
	if err != nil {
		slog.Error("Lifecycle failed to read tenant config", "error", err, "tenantID", tenantID)
		return
	}
	if cfg == nil || cfg.SiteURL == "" {
		slog.Debug("Lifecycle no site URL configured", "tenantID", tenantID)
		return
	}
	url := strings.TrimRight(cfg.SiteURL, "/") + startConversationPath

	go h.post(tenantID, partyID, url)
}

// post performs the detached callback with its own deadline.
func (h *Hook) post(tenantID, partyID, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultNotifyTimeout)
	defer cancel()

	body, err := json.Marshal(startedPayload{
		PartyID:   partyID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Lifecycle payload marshal failed", "error", err, "tenantID", tenantID)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		slog.Error("Lifecycle request build failed", "error", err, "tenantID", tenantID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.LifecycleNotifications.WithLabelValues(tenantID, "failed").Inc()
		slog.Warn("Lifecycle notification failed", "error", err, "tenantID", tenantID, "partyID", partyID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LifecycleNotifications.WithLabelValues(tenantID, "failed").Inc()
		slog.Warn("Lifecycle notification rejected", "status", resp.StatusCode, "tenantID", tenantID, "partyID", partyID)
		return
	}
	metrics.LifecycleNotifications.WithLabelValues(tenantID, "ok").Inc()
	slog.Info("Lifecycle conversation registered", "tenantID", tenantID, "partyID", partyID)
}
