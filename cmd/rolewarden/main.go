package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/pendergraft/rolewarden/internal/bot"
	"github.com/pendergraft/rolewarden/internal/cli"
	"github.com/pendergraft/rolewarden/internal/config"
	"github.com/pendergraft/rolewarden/internal/evidence"
	"github.com/pendergraft/rolewarden/internal/grantor"
	"github.com/pendergraft/rolewarden/internal/identity"
	"github.com/pendergraft/rolewarden/internal/observability/metrics"
	"github.com/pendergraft/rolewarden/internal/scheduler"
	"github.com/pendergraft/rolewarden/internal/server"
	"github.com/pendergraft/rolewarden/internal/storage"
	"github.com/pendergraft/rolewarden/internal/throttle"
	domain "github.com/pendergraft/rolewarden/internal/verify/domain"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "rolewarden",
		Short:   "Rolewarden - Discord role verification bot",
		Long:    `Rolewarden links wallet addresses to Discord accounts, checks on-chain and dashboard participation, and grants server roles that stay granted.`,
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	for _, sub := range cli.Commands() {
		rootCmd.AddCommand(sub)
	}

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bot, the batch scheduler, and the admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = cli.StoredToken()
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("no bot token: set DISCORD_TOKEN or run 'rolewarden token set'")
	}

	logger := setupLogger(cfg)
	logger.Info("starting rolewarden", "version", version)

	targets, err := config.LoadTargets(cfg.Targets.File)
	if err != nil {
		return fmt.Errorf("loading targets: %w", err)
	}
	logger.Info("targets loaded", "file", cfg.Targets.File, "count", len(targets))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metrics.Init(cfg.Metrics.Enabled, "rolewarden")

	ctrl := throttle.New(cfg.Throttle)
	provider, err := evidence.NewProvider(cfg.Provider, ctrl, logger)
	if err != nil {
		return fmt.Errorf("initializing evidence provider: %w", err)
	}
	cache := evidence.NewCache(time.Duration(cfg.Cache.TTLSeconds) * time.Second)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("creating Discord session: %w", err)
	}

	roleGrantor := grantor.NewDiscord(session, cfg.Discord.GuildID, logger)

	verifySvc := domain.NewService(store, store, store, provider, cache, roleGrantor, targets)
	verifySvc = domain.LoggingMiddleware(logger)(verifySvc)

	identitySvc := identity.NewService(store, logger)

	sched := scheduler.New(cfg.Scheduler, store, verifySvc, logger)

	b := bot.New(session, cfg.Discord, identitySvc, verifySvc, targets, logger)
	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}
	defer b.Close()

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	go sched.Run(schedCtx)

	srv := server.New(cfg, store, sched, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	sched.Stop()
	cancelSched()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
