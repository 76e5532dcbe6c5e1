package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

// MaybeRunDev brings the schema up to the newest embedded migration when the
// service boots in dev with STOREFRONT_AUTO_MIGRATE set. Every other
// environment migrates through cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	if logg != nil {
		ctx = logg.WithField(ctx, "env", cfg.App.Env)
	}
	return autorun(ctx, sqlDB, Embedded(), logg)
}

// autorun validates src before touching the database, then applies every
// pending migration.
func autorun(ctx context.Context, sqlDB *sql.DB, src Source, logg *logger.Logger) error {
	if err := Validate(src); err != nil {
		return fmt.Errorf("dev auto-migrate: %w", err)
	}
	if sqlDB == nil {
		return fmt.Errorf("dev auto-migrate: db is required")
	}
	if err := src.prepare(); err != nil {
		return err
	}
	from, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, src.Dir); err != nil {
		return fmt.Errorf("goose up from %d: %w", from, err)
	}
	to, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"from_version": from,
			"to_version":   to,
		}), "migrate.dev_autorun_completed")
	}
	return nil
}
