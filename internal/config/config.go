// Package config loads the optional tenant bootstrap file.
//
// Conversia can start with a pre-registered tenant list so that a
// restart brings every known channel session back up without waiting
// for each site to call connect again.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/util"
)

// tenantsFile is the on-disk shape of the bootstrap file.
type tenantsFile struct {
	Tenants []tenantEntry `yaml:"tenants"`
}

type tenantEntry struct {
	ID            string `yaml:"id"`
	SiteURL       string `yaml:"site_url"`
	FlowsEndpoint string `yaml:"flows_endpoint"`
}

// LoadTenantsFile reads a YAML tenant bootstrap file. Entries with an
// empty id are skipped with a warning; ids are sanitized the same way
// the connect endpoint sanitizes them.
func LoadTenantsFile(path string) ([]models.TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	var file tenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	out := make([]models.TenantConfig, 0, len(file.Tenants))
	for _, entry := range file.Tenants {
		if entry.ID == "" {
			slog.Warn("Tenants file entry without id skipped", "path", path)
			continue
		}
		out = append(out, models.TenantConfig{
			TenantID:      util.SanitizeTenantID(entry.ID),
			SiteURL:       entry.SiteURL,
			FlowsEndpoint: entry.FlowsEndpoint,
		})
	}
	slog.Debug("Tenants file loaded", "path", path, "count", len(out))
	return out, nil
}
