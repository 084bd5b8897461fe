package cmd

import (
	"fmt"
	"log/slog"

	"github.com/knollbase/knoll/db"
	"github.com/knollbase/knoll/internal/config"
)

// runMigrate applies pending migrations and exits. Useful for
// deployments that migrate as a separate step before rollout.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("migrations applied")
	return nil
}
