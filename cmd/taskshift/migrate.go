package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		if err := db.MigrateUp(dsn); err != nil {
			return err
		}
		log.Info().Msg("Migrations applied successfully")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := migrationDSN()
		if err != nil {
			return err
		}
		if err := db.MigrateDown(dsn); err != nil {
			return err
		}
		log.Info().Msg("Migrations rolled back successfully")
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDSN, "db-dsn", "", "Postgres DSN (defaults to TS_DB_DSN)")
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

// migrationDSN resolves the DSN without loading the full server config, so
// migrations run without a JWT secret.
func migrationDSN() (string, error) {
	dsn := strings.TrimSpace(migrateDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("TS_DB_DSN"))
	}
	if dsn == "" {
		return "", fmt.Errorf("--db-dsn is required (or set TS_DB_DSN)")
	}
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}
	return dsn, nil
}
