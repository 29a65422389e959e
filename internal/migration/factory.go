package migration

import (
	"fmt"

	"github.com/BaSui01/careflow/config"
)

// NewMigratorFromDatabaseConfig creates a migrator for the configured database.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	normalized := dbCfg
	normalized.Driver = string(dbType)

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  normalized.MigrationURL(),
	})
}
