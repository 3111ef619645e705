package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/db"
	"github.com/jmehdipour/ingest-gateway/migrations"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the MySQL client store and ClickHouse delivery store schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if cfg.MySQL.DSN != "" {
			if err := migrateMySQL(cfg.MySQL, migrateDown); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ">> MySQL migration complete")
		}

		if cfg.ClickHouse.Enabled && !migrateDown {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DatabaseConfig)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()

			if err := migrateClickHouse(cmd.Context(), chDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ">> ClickHouse migration complete")
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back every MySQL migration")
}

func migrateMySQL(cfg config.DatabaseConfig, down bool) error {
	sqlDB, err := db.NewMySQLConnection(cfg)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer sqlDB.Close()

	src, err := iofs.New(migrations.MySQL, "mysql")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	drv, err := migratemysql.WithInstance(sqlDB.DB, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ClickHouse DDL is idempotent (IF NOT EXISTS) and applied statement by statement.
func migrateClickHouse(ctx context.Context, chDB *sqlx.DB) error {
	stmts, err := migrations.ClickHouseStatements()
	if err != nil {
		return fmt.Errorf("read clickhouse migrations: %w", err)
	}
	for _, s := range stmts {
		if _, err := chDB.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec clickhouse migration: %w", err)
		}
	}
	return nil
}
