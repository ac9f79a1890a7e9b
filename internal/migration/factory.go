package migration

import (
	"fmt"
	"strings"

	"github.com/BaSui01/membroker/config"
)

// NewMigratorFromConfig builds a migrator for the analytical store of an
// application configuration.
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromStoreConfig(cfg.AnalyticalStore)
}

// NewMigratorFromStoreConfig builds a migrator from an analytical store
// section. Only the sql driver has versioned migrations; redis and mongo
// stores are schemaless.
func NewMigratorFromStoreConfig(store config.AnalyticalStoreConfig) (*DefaultMigrator, error) {
	if store.Driver != "sql" {
		return nil, fmt.Errorf("migrations require the sql driver, got %q", store.Driver)
	}

	dbType, err := ParseDatabaseType(store.Dialect)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	// The store DSN is reused verbatim. MySQL needs multiStatements
	// because each migration file holds one statement per table.
	dsn := store.DSN
	if dbType == DatabaseTypeMySQL {
		dsn = ensureMySQLMultiStatements(dsn)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dsn,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL builds a migrator from a dialect name and a raw
// connection string.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}

func ensureMySQLMultiStatements(dsn string) string {
	if strings.Contains(dsn, "multiStatements=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&multiStatements=true"
	}
	return dsn + "?multiStatements=true"
}
