package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// offline commands only touch the migrations directory.
func (o options) offline() bool {
	return o.cmd == "create" || o.cmd == "validate"
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cmd, "cmd", "up", "migration command: up|down|status|reset|version|create|validate")
	fs.StringVar(&o.dir, "dir", migrate.DefaultDir, "goose migrations directory; the default is embedded in the binary")
	fs.StringVar(&o.name, "name", "", "migration name (for create)")
	fs.StringVar(&o.version, "version", "", "target version for -cmd=version")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch o.cmd {
	case "up", "down", "status", "reset", "validate":
	case "create":
		if o.name == "" {
			return options{}, errors.New("missing -name for create")
		}
	case "version":
		if o.version == "" {
			return options{}, errors.New("missing -version for version command")
		}
	default:
		return options{}, fmt.Errorf("unknown -cmd value: %s", o.cmd)
	}
	return o, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()

	if err := run(ctx, opts, logg); err != nil {
		logg.Error(logg.WithField(ctx, "cmd", opts.cmd), "migrate failed", err)
		os.Exit(1)
	}
}

func runOffline(opts options) error {
	if opts.cmd == "create" {
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return fmt.Errorf("create migration: %w", err)
		}
		fmt.Println("created migration:", path)
		return nil
	}
	if err := migrate.ValidateDir(opts.dir); err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}
	fmt.Println("migration validation passed")
	return nil
}

func run(ctx context.Context, opts options, logg *logger.Logger) error {
	if opts.offline() {
		return runOffline(opts)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dir": opts.dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}

	if opts.cmd == "version" {
		err = migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	} else {
		err = migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	}
	if err != nil {
		return err
	}

	if version, err := migrate.CurrentVersion(sqlDB); err == nil {
		ctx = logg.WithField(ctx, "schema_version", version)
	}
	logg.Info(ctx, "migrate done")
	return nil
}
