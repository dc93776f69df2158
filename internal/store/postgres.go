// Package store provides storage backends for Conversia.
//
// This file implements the PostgreSQL-backed tenant and flow-cache store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/conversia/conversia/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists tenant configuration and the flow cache in
// PostgreSQL. Conversation state lives in the composed ConversationStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// UpsertTenant creates or updates a tenant row, preserving previously
// stored URLs when the new config omits them.
func (s *PostgresStore) UpsertTenant(cfg models.TenantConfig) (models.TenantConfig, error) {
	if cfg.TenantID == "" {
		return models.TenantConfig{}, models.ErrEmptyTenantID
	}
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO tenants (tenant_id, site_url, flows_endpoint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			site_url = COALESCE(EXCLUDED.site_url, tenants.site_url),
			flows_endpoint = COALESCE(EXCLUDED.flows_endpoint, tenants.flows_endpoint),
			updated_at = EXCLUDED.updated_at`,
		cfg.TenantID, nilIfZero(cfg.SiteURL), nilIfZero(cfg.FlowsEndpoint), now, now)
	if err != nil {
		slog.Error("PostgresStore UpsertTenant failed", "error", err, "tenantID", cfg.TenantID)
		return models.TenantConfig{}, fmt.Errorf("failed to upsert tenant %s: %w", cfg.TenantID, err)
	}
	stored, err := s.GetTenant(cfg.TenantID)
	if err != nil {
		return models.TenantConfig{}, err
	}
	slog.Debug("PostgresStore UpsertTenant succeeded", "tenantID", cfg.TenantID)
	return *stored, nil
}

// GetTenant retrieves a tenant row, or nil when absent.
func (s *PostgresStore) GetTenant(tenantID string) (*models.TenantConfig, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, site_url, flows_endpoint, last_load_at, created_at, updated_at
		FROM tenants WHERE tenant_id = $1`, tenantID)
	cfg, err := scanTenant(row.Scan)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetTenant not found", "tenantID", tenantID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTenant failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query tenant %s: %w", tenantID, err)
	}
	return &cfg, nil
}

// ListTenants returns all registered tenants.
func (s *PostgresStore) ListTenants() ([]models.TenantConfig, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, site_url, flows_endpoint, last_load_at, created_at, updated_at
		FROM tenants ORDER BY tenant_id`)
	if err != nil {
		slog.Error("PostgresStore ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.TenantConfig
	for rows.Next() {
		cfg, err := scanTenant(rows.Scan)
		if err != nil {
			slog.Error("PostgresStore ListTenants scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, cfg)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListTenants rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	slog.Debug("PostgresStore ListTenants succeeded", "count", len(tenants))
	return tenants, nil
}

// SetLastLoadAt records the time of the last successful flow fetch.
func (s *PostgresStore) SetLastLoadAt(tenantID string, t time.Time) error {
	res, err := s.db.Exec(`UPDATE tenants SET last_load_at = $1 WHERE tenant_id = $2`, t, tenantID)
	if err != nil {
		slog.Error("PostgresStore SetLastLoadAt failed", "error", err, "tenantID", tenantID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	return nil
}

// ReplaceFlows swaps the tenant's cached flow set inside a transaction.
func (s *PostgresStore) ReplaceFlows(tenantID string, flows []models.Flow) error {
	if tenantID == "" {
		return models.ErrEmptyTenantID
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore ReplaceFlows begin failed", "error", err, "tenantID", tenantID)
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM flows WHERE tenant_id = $1`, tenantID); err != nil {
		slog.Error("PostgresStore ReplaceFlows delete failed", "error", err, "tenantID", tenantID)
		return err
	}
	for i, f := range flows {
		payload, err := json.Marshal(f)
		if err != nil {
			slog.Error("PostgresStore ReplaceFlows marshal failed", "error", err, "tenantID", tenantID, "flowID", f.ID)
			return err
		}
		if _, err := tx.Exec(`INSERT INTO flows (tenant_id, position, flow_id, payload) VALUES ($1, $2, $3, $4)`,
			tenantID, i, f.ID, string(payload)); err != nil {
			slog.Error("PostgresStore ReplaceFlows insert failed", "error", err, "tenantID", tenantID, "flowID", f.ID)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore ReplaceFlows commit failed", "error", err, "tenantID", tenantID)
		return err
	}
	slog.Debug("PostgresStore ReplaceFlows succeeded", "tenantID", tenantID, "count", len(flows))
	return nil
}

// ActiveFlow returns the first active flow with blocks, in cached order.
func (s *PostgresStore) ActiveFlow(tenantID string) (*models.Flow, error) {
	rows, err := s.db.Query(`SELECT payload FROM flows WHERE tenant_id = $1 ORDER BY position`, tenantID)
	if err != nil {
		slog.Error("PostgresStore ActiveFlow query failed", "error", err, "tenantID", tenantID)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			slog.Error("PostgresStore ActiveFlow scan failed", "error", err, "tenantID", tenantID)
			return nil, err
		}
		var f models.Flow
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			slog.Error("PostgresStore ActiveFlow unmarshal failed", "error", err, "tenantID", tenantID)
			continue
		}
		if f.Runnable() {
			return &f, nil
		}
	}
	return nil, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
