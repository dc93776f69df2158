// Package store provides storage backends for Conversia.
//
// It includes in-memory stores for tenants, flow sets and conversation
// state, plus SQLite/Postgres backends for tenant configuration and the
// flow cache and an optional Redis backend for conversation state.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/conversia/conversia/internal/models"
)

// TenantFlowStore persists tenant configuration and each tenant's
// currently-active flow set. Flow replacement is atomic: readers never
// observe a partially-replaced set.
type TenantFlowStore interface {
	UpsertTenant(cfg models.TenantConfig) (models.TenantConfig, error)
	GetTenant(tenantID string) (*models.TenantConfig, error)
	ListTenants() ([]models.TenantConfig, error)
	SetLastLoadAt(tenantID string, t time.Time) error

	ReplaceFlows(tenantID string, flows []models.Flow) error
	ActiveFlow(tenantID string) (*models.Flow, error)
}

// ConversationStore holds per-(tenant, party) conversation positions.
// A nil conversation with a nil error means "no state".
type ConversationStore interface {
	GetConversation(tenantID, partyID string) (*models.Conversation, error)
	SaveConversation(c models.Conversation) error
	DeleteConversation(tenantID, partyID string) error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// convKey scopes conversation lookups by tenant first.
type convKey struct {
	tenant string
	party  string
}

// InMemoryStore implements TenantFlowStore and ConversationStore with
// mutex-guarded maps. It is the default backend; all state dies with the
// process, which resets every party to "no state".
type InMemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]models.TenantConfig
	flows   map[string][]models.Flow
	convs   map[convKey]models.Conversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tenants: make(map[string]models.TenantConfig),
		flows:   make(map[string][]models.Flow),
		convs:   make(map[convKey]models.Conversation),
	}
}

// UpsertTenant creates or updates a tenant configuration. Empty fields
// in cfg preserve previously stored values, matching the behaviour of
// repeated connect calls that omit one of the URLs.
func (s *InMemoryStore) UpsertTenant(cfg models.TenantConfig) (models.TenantConfig, error) {
	if cfg.TenantID == "" {
		return models.TenantConfig{}, models.ErrEmptyTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.tenants[cfg.TenantID]
	if !ok {
		existing = models.TenantConfig{TenantID: cfg.TenantID, CreatedAt: now}
	}
	if cfg.SiteURL != "" {
		existing.SiteURL = cfg.SiteURL
	}
	if cfg.FlowsEndpoint != "" {
		existing.FlowsEndpoint = cfg.FlowsEndpoint
	}
	existing.UpdatedAt = now
	s.tenants[cfg.TenantID] = existing
	slog.Debug("InMemoryStore UpsertTenant succeeded", "tenantID", cfg.TenantID)
	return existing, nil
}

// GetTenant returns the tenant configuration, or nil when unregistered.
func (s *InMemoryStore) GetTenant(tenantID string) (*models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// ListTenants returns all registered tenant configurations.
func (s *InMemoryStore) ListTenants() ([]models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TenantConfig, 0, len(s.tenants))
	for _, cfg := range s.tenants {
		out = append(out, cfg)
	}
	return out, nil
}

// SetLastLoadAt records the time of the last successful flow fetch.
func (s *InMemoryStore) SetLastLoadAt(tenantID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.tenants[tenantID]
	if !ok {
		return models.ErrTenantNotFound
	}
	cfg.LastLoadAt = t
	s.tenants[tenantID] = cfg
	return nil
}

// ReplaceFlows swaps the tenant's flow set in one step.
func (s *InMemoryStore) ReplaceFlows(tenantID string, flows []models.Flow) error {
	if tenantID == "" {
		return models.ErrEmptyTenantID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[tenantID] = flows
	slog.Debug("InMemoryStore ReplaceFlows succeeded", "tenantID", tenantID, "count", len(flows))
	return nil
}

// ActiveFlow returns the first active flow with a non-empty block
// sequence, in source order. Multiple active flows are accepted by the
// store but only the first is ever executed.
func (s *InMemoryStore) ActiveFlow(tenantID string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.flows[tenantID] {
		f := s.flows[tenantID][i]
		if f.Runnable() {
			return &f, nil
		}
	}
	return nil, nil
}

// GetConversation returns the party's conversation state, or nil.
func (s *InMemoryStore) GetConversation(tenantID, partyID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convKey{tenantID, partyID}]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SaveConversation stores or replaces the party's conversation state.
func (s *InMemoryStore) SaveConversation(c models.Conversation) error {
	if c.TenantID == "" {
		return models.ErrEmptyTenantID
	}
	if c.PartyID == "" {
		return models.ErrEmptyPartyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[convKey{c.TenantID, c.PartyID}] = c
	return nil
}

// DeleteConversation removes the party's conversation state. Deleting
// absent state is not an error.
func (s *InMemoryStore) DeleteConversation(tenantID, partyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, convKey{tenantID, partyID})
	return nil
}
