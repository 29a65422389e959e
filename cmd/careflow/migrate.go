package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/careflow/config"
	"github.com/BaSui01/careflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles `careflow migrate <up|down|status|version>`.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	action := args[0]
	if action == "help" || action == "-h" || action == "--help" {
		printMigrateUsage()
		return
	}

	fs := flag.NewFlagSet("migrate "+action, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	_ = fs.Parse(args[1:])

	migrator, err := createMigrator(*configPath, *dbType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), action); err != nil {
		fmt.Fprintf(os.Stderr, "Migrate %s failed: %v\n", action, err)
		os.Exit(1)
	}
}

// createMigrator builds a migrator from the database section of the config.
// The roster is not validated here, migrations do not depend on it.
func createMigrator(configPath, dbType string) (*migration.DefaultMigrator, error) {
	loader := config.NewLoader().WithEnvPrefix(envPrefix)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  careflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)

The migrations create the careflow_blobs table used by storage.type=database.`)
}
