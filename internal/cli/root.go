// Package cli implements the operator commands: bot token storage,
// identity link management, and outcome log export. These run against
// the store directly, without the bot online.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/storage"
)

// Commands returns the operator subcommands for the root command.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		createTokenCmd(),
		createIdentitiesCmd(),
		createLogCmd(),
	}
}

// openStore loads config, opens the configured store, and runs
// migrations. The caller must Close it.
func openStore(ctx context.Context) (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}
