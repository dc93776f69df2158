package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTenantsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `tenants:
  - id: "Café Cliente"
    site_url: https://acme.example
    flows_endpoint: https://acme.example/wp-json/convers-ia/v1/automations
  - id: loja
  - site_url: https://orphan.example
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tenants, err := LoadTenantsFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tenants) != 2 {
		t.Fatalf("expected 2 tenants (entry without id skipped), got %d", len(tenants))
	}
	if tenants[0].TenantID != "Cafe_Cliente" {
		t.Errorf("tenant id not sanitized: %q", tenants[0].TenantID)
	}
	if tenants[0].SiteURL != "https://acme.example" {
		t.Errorf("site URL not loaded: %+v", tenants[0])
	}
	if tenants[1].TenantID != "loja" || tenants[1].SiteURL != "" {
		t.Errorf("unexpected second tenant: %+v", tenants[1])
	}
}

func TestLoadTenantsFileErrors(t *testing.T) {
	if _, err := LoadTenantsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("tenants: {not a list"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadTenantsFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
