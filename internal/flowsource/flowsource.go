// Package flowsource fetches tenant flow definitions from their remote
// endpoints and refreshes the in-process flow store.
//
// Loading is best-effort background work: configuration, network and
// data errors are logged and swallowed, and a malformed refresh never
// replaces a previously loaded, valid flow set.
package flowsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/conversia/conversia/internal/metrics"
	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/store"
)

// DefaultFetchTimeout bounds one remote flow fetch.
const DefaultFetchTimeout = 8 * time.Second

// maxResponseBytes caps how much of a flow response is read.
const maxResponseBytes = 4 << 20

// Loader refreshes tenants' flow sets from their configured endpoints.
type Loader struct {
	tenants store.TenantFlowStore
	client  *http.Client
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// NewLoader creates a Loader over the given tenant/flow store.
func NewLoader(tenants store.TenantFlowStore, opts ...Option) *Loader {
	l := &Loader{
		tenants: tenants,
		client:  &http.Client{Timeout: DefaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFlows fetches the tenant's remote flow list and atomically
// replaces its active-flow set. The previous set is left untouched on
// any failure, including a non-array response body.
func (l *Loader) LoadFlows(ctx context.Context, tenantID string) error {
	cfg, err := l.tenants.GetTenant(tenantID)
	if err != nil {
		slog.Error("Loader failed to read tenant config", "error", err, "tenantID", tenantID)
		return err
	}
	if cfg == nil {
		return models.ErrTenantNotFound
	}
	if cfg.FlowsEndpoint == "" {
		slog.Debug("Loader tenant has no flows endpoint", "tenantID", tenantID)
		return models.ErrNoFlowsEndpoint
	}
	if !isValidHTTPURL(cfg.FlowsEndpoint) {
		metrics.FlowLoads.WithLabelValues(tenantID, "failed").Inc()
		slog.Warn("Loader invalid flows endpoint", "tenantID", tenantID, "endpoint", cfg.FlowsEndpoint)
		return models.ErrInvalidEndpoint
	}

	body, err := l.fetch(ctx, cfg.FlowsEndpoint)
	if err != nil {
		metrics.FlowLoads.WithLabelValues(tenantID, "failed").Inc()
		slog.Warn("Loader fetch failed", "error", err, "tenantID", tenantID)
		return err
	}

	flows, err := ParseFlowList(body)
	if err != nil {
		metrics.FlowLoads.WithLabelValues(tenantID, "failed").Inc()
		slog.Warn("Loader discarding malformed flow response", "error", err, "tenantID", tenantID)
		return err
	}

	if err := l.tenants.ReplaceFlows(tenantID, flows); err != nil {
		metrics.FlowLoads.WithLabelValues(tenantID, "failed").Inc()
		slog.Error("Loader flow replacement failed", "error", err, "tenantID", tenantID)
		return err
	}
	if err := l.tenants.SetLastLoadAt(tenantID, time.Now()); err != nil {
		slog.Warn("Loader failed to record load time", "error", err, "tenantID", tenantID)
	}
	metrics.FlowLoads.WithLabelValues(tenantID, "ok").Inc()
	slog.Info("Loader flows refreshed", "tenantID", tenantID, "count", len(flows))
	return nil
}

// LoadAll sweeps every tenant with a configured endpoint. Failures for
// one tenant never block the others.
func (l *Loader) LoadAll(ctx context.Context) {
	tenants, err := l.tenants.ListTenants()
	if err != nil {
		slog.Error("Loader sweep failed to list tenants", "error", err)
		return
	}
	for _, cfg := range tenants {
		if cfg.FlowsEndpoint == "" {
			continue
		}
		if err := l.LoadFlows(ctx, cfg.TenantID); err != nil {
			slog.Debug("Loader sweep tenant refresh failed", "error", err, "tenantID", cfg.TenantID)
		}
	}
}

// fetch GETs the endpoint with the loader's bounded timeout.
func (l *Loader) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build flow request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flow fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("flow fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read flow response: %w", err)
	}
	return body, nil
}

// ParseFlowList decodes a remote flow list. The response must be a JSON
// array; anything else is a hard failure. Individual entries are decoded
// leniently: legacy payloads carry numeric ids and represent is_active
// as 1/0, "1"/"0" or a bool. Entries that are inactive or missing
// flow_data are filtered out.
func ParseFlowList(body []byte) ([]models.Flow, error) {
	if !gjson.ValidBytes(body) {
		return nil, models.ErrNotArray
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, models.ErrNotArray
	}

	var flows []models.Flow
	root.ForEach(func(_, entry gjson.Result) bool {
		if !truthy(entry.Get("is_active")) {
			return true
		}
		flowData := entry.Get("flow_data")
		if !flowData.Exists() {
			return true
		}
		f := models.Flow{
			ID:       entry.Get("id").String(),
			IsActive: true,
		}
		flowData.Get("blocks").ForEach(func(_, raw gjson.Result) bool {
			f.FlowData.Blocks = append(f.FlowData.Blocks, parseBlock(raw))
			return true
		})
		if err := f.Validate(); err != nil {
			slog.Warn("ParseFlowList flow has invalid block collection", "error", err, "flowID", f.ID)
		}
		flows = append(flows, f)
		return true
	})
	return flows, nil
}

// parseBlock decodes one block, tolerating numeric ids and references.
func parseBlock(raw gjson.Result) models.Block {
	b := models.Block{
		ID:       raw.Get("id").String(),
		Type:     models.BlockType(raw.Get("type").String()),
		Content:  raw.Get("content").String(),
		Question: raw.Get("question").String(),
		Title:    raw.Get("title").String(),
		Next:     raw.Get("next").String(),
		NextYes:  raw.Get("next_yes").String(),
		NextNo:   raw.Get("next_no").String(),
	}
	options := raw.Get("next_options")
	if options.IsObject() {
		b.NextOptions = make(map[string]string)
		options.ForEach(func(label, target gjson.Result) bool {
			b.NextOptions[label.String()] = target.String()
			return true
		})
	}
	return b
}

// truthy interprets the boolean-ish is_active field.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Int() != 0
	case gjson.String:
		return v.String() == "1" || v.String() == "true"
	default:
		return false
	}
}

// isValidHTTPURL reports whether s parses as an http(s) URL.
func isValidHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
