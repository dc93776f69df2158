// Package store provides storage backends for Conversia.
//
// This file implements the SQLite-backed tenant and flow-cache store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/conversia/conversia/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists tenant configuration and the flow cache in a
// SQLite file. Conversation state is deliberately not stored here; it is
// ephemeral and lives in the composed ConversationStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path; missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// UpsertTenant creates or updates a tenant row, preserving previously
// stored URLs when the new config omits them.
func (s *SQLiteStore) UpsertTenant(cfg models.TenantConfig) (models.TenantConfig, error) {
	if cfg.TenantID == "" {
		return models.TenantConfig{}, models.ErrEmptyTenantID
	}
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO tenants (tenant_id, site_url, flows_endpoint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			site_url = COALESCE(excluded.site_url, tenants.site_url),
			flows_endpoint = COALESCE(excluded.flows_endpoint, tenants.flows_endpoint),
			updated_at = excluded.updated_at`,
		cfg.TenantID, nilIfZero(cfg.SiteURL), nilIfZero(cfg.FlowsEndpoint), now, now)
	if err != nil {
		slog.Error("SQLiteStore UpsertTenant failed", "error", err, "tenantID", cfg.TenantID)
		return models.TenantConfig{}, fmt.Errorf("failed to upsert tenant %s: %w", cfg.TenantID, err)
	}
	stored, err := s.GetTenant(cfg.TenantID)
	if err != nil {
		return models.TenantConfig{}, err
	}
	slog.Debug("SQLiteStore UpsertTenant succeeded", "tenantID", cfg.TenantID)
	return *stored, nil
}

// GetTenant retrieves a tenant row, or nil when absent.
func (s *SQLiteStore) GetTenant(tenantID string) (*models.TenantConfig, error) {
	row := s.db.QueryRow(`
		SELECT tenant_id, site_url, flows_endpoint, last_load_at, created_at, updated_at
		FROM tenants WHERE tenant_id = ?`, tenantID)
	cfg, err := scanTenant(row.Scan)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetTenant not found", "tenantID", tenantID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTenant failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query tenant %s: %w", tenantID, err)
	}
	return &cfg, nil
}

// ListTenants returns all registered tenants.
func (s *SQLiteStore) ListTenants() ([]models.TenantConfig, error) {
	rows, err := s.db.Query(`
		SELECT tenant_id, site_url, flows_endpoint, last_load_at, created_at, updated_at
		FROM tenants ORDER BY tenant_id`)
	if err != nil {
		slog.Error("SQLiteStore ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.TenantConfig
	for rows.Next() {
		cfg, err := scanTenant(rows.Scan)
		if err != nil {
			slog.Error("SQLiteStore ListTenants scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, cfg)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListTenants rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	slog.Debug("SQLiteStore ListTenants succeeded", "count", len(tenants))
	return tenants, nil
}

// SetLastLoadAt records the time of the last successful flow fetch.
func (s *SQLiteStore) SetLastLoadAt(tenantID string, t time.Time) error {
	res, err := s.db.Exec(`UPDATE tenants SET last_load_at = ? WHERE tenant_id = ?`, t, tenantID)
	if err != nil {
		slog.Error("SQLiteStore SetLastLoadAt failed", "error", err, "tenantID", tenantID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	return nil
}

// ReplaceFlows swaps the tenant's cached flow set inside a transaction
// so readers never observe a partial replacement.
func (s *SQLiteStore) ReplaceFlows(tenantID string, flows []models.Flow) error {
	if tenantID == "" {
		return models.ErrEmptyTenantID
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore ReplaceFlows begin failed", "error", err, "tenantID", tenantID)
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM flows WHERE tenant_id = ?`, tenantID); err != nil {
		slog.Error("SQLiteStore ReplaceFlows delete failed", "error", err, "tenantID", tenantID)
		return err
	}
	for i, f := range flows {
		payload, err := json.Marshal(f)
		if err != nil {
			slog.Error("SQLiteStore ReplaceFlows marshal failed", "error", err, "tenantID", tenantID, "flowID", f.ID)
			return err
		}
		if _, err := tx.Exec(`INSERT INTO flows (tenant_id, position, flow_id, payload) VALUES (?, ?, ?, ?)`,
			tenantID, i, f.ID, string(payload)); err != nil {
			slog.Error("SQLiteStore ReplaceFlows insert failed", "error", err, "tenantID", tenantID, "flowID", f.ID)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore ReplaceFlows commit failed", "error", err, "tenantID", tenantID)
		return err
	}
	slog.Debug("SQLiteStore ReplaceFlows succeeded", "tenantID", tenantID, "count", len(flows))
	return nil
}

// ActiveFlow returns the first active flow with blocks, in cached order.
func (s *SQLiteStore) ActiveFlow(tenantID string) (*models.Flow, error) {
	rows, err := s.db.Query(`SELECT payload FROM flows WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		slog.Error("SQLiteStore ActiveFlow query failed", "error", err, "tenantID", tenantID)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			slog.Error("SQLiteStore ActiveFlow scan failed", "error", err, "tenantID", tenantID)
			return nil, err
		}
		var f models.Flow
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			slog.Error("SQLiteStore ActiveFlow unmarshal failed", "error", err, "tenantID", tenantID)
			continue
		}
		if f.Runnable() {
			return &f, nil
		}
	}
	return nil, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// scanTenant reads one tenant row via the given scan function.
func scanTenant(scan func(dest ...interface{}) error) (models.TenantConfig, error) {
	var cfg models.TenantConfig
	var siteURL, flowsEndpoint sql.NullString
	var lastLoadAt sql.NullTime
	err := scan(&cfg.TenantID, &siteURL, &flowsEndpoint, &lastLoadAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return cfg, err
	}
	cfg.SiteURL = siteURL.String
	cfg.FlowsEndpoint = flowsEndpoint.String
	if lastLoadAt.Valid {
		cfg.LastLoadAt = lastLoadAt.Time
	}
	return cfg, nil
}
