package store

import "strings"

// DetectDSNType determines the database backend a DSN refers to.
// Returns "postgres" for PostgreSQL connection strings and "sqlite" for
// anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// nilIfZero returns nil for zero-valued strings so nullable columns stay
// NULL instead of storing empty text.
func nilIfZero(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
