package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/bountyhub/escrow/pkg/config"
	"github.com/bountyhub/escrow/pkg/db"
	"github.com/bountyhub/escrow/pkg/logger"
	"github.com/bountyhub/escrow/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": opts.cmd, "dir": opts.dir})

	// offline commands never touch config or the database
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			fail(ctx, logg, errors.New("missing -name for create"))
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			fail(ctx, logg, fmt.Errorf("create migration: %w", err))
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration.created")
		return
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			fail(ctx, logg, fmt.Errorf("validate migrations: %w", err))
		}
		logg.Info(ctx, "migration.validated")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, fmt.Errorf("load config: %w", err))
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, fmt.Errorf("connect database: %w", err))
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, fmt.Errorf("sql handle: %w", err))
	}

	if err := run(ctx, sqlDB, opts); err != nil {
		fail(ctx, logg, err)
	}
	logg.Info(ctx, "migration.done")
}

func run(ctx context.Context, sqlDB *sql.DB, opts options) error {
	switch opts.cmd {
	case "up", "down", "redo", "status":
		return migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	case "version":
		if opts.version == "" {
			return errors.New("missing -version for version command")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
}

func fail(ctx context.Context, logg *logger.Logger, err error) {
	logg.Error(ctx, "migration.failed", err)
	os.Exit(1)
}
