package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations when running in dev with
// CIRCULATION_AUTO_MIGRATE enabled. Elsewhere it only compares the database
// against the shipped schema and warns when a deploy forgot to migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate {
		logg.Info(ctx, "running goose migrations (dev auto-run)")
		if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
			return fmt.Errorf("running goose up: %w", err)
		}
	}

	current, err := CurrentVersion(sqlDB)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "schema version unavailable")
		return nil
	}
	latest, err := LatestVersion(DefaultDir)
	if err != nil {
		return err
	}
	ctx = logg.WithFields(ctx, map[string]any{"schema_version": current, "shipped_version": latest})
	if current < latest {
		logg.Warn(ctx, "database schema is behind the shipped migrations")
		return nil
	}
	logg.Info(ctx, "database schema current")
	return nil
}
