package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/windorg/woc-sub000/internal/app"
	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/config"
	"github.com/windorg/woc-sub000/internal/inbox"
	"github.com/windorg/woc-sub000/internal/logging"
	"github.com/windorg/woc-sub000/internal/search"
	"github.com/windorg/woc-sub000/internal/store"
)

var (
	envFileFlag string
	downFlag    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "woc-api",
		Short: "Card tree API server",
		Long: `woc-api serves boards, cards, comments and replies over HTTP.

Storage defaults to an embedded bbolt file. Set WOC_STORE=postgres and
DATABASE_URL to use PostgreSQL. Search (MEILI_URL) and reply notifications
(REDIS_URL) are optional.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Path to a dotenv file. Missing files are ignored.")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations and exit",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().BoolVar(&downFlag, "down", false, "Roll back the most recent migration instead.")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE:  runServe,
		},
		migrateCmd,
		&cobra.Command{
			Use:   "reindex",
			Short: "Push every card and comment from PostgreSQL into Meilisearch",
			RunE:  runReindex,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFile(envFileFlag); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	cfg := config.Load()
	return cfg, logging.New(cfg.LogLevel, cfg.LogPretty), nil
}

// backend is what both storage implementations provide.
type backend interface {
	cards.Transactor
	app.UserStore
	Close() error
}

// openBackend returns the configured store. db is non-nil only for Postgres.
func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (backend, *sql.DB, error) {
	switch cfg.Store {
	case config.StoreBolt:
		boltStore, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", boltStore.Path()).Msg("using bbolt storage")
		return boltStore, nil, nil
	case config.StorePostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info().Msg("using postgres storage")
		return store.NewPostgresStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown WOC_STORE %q", cfg.Store)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, db, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	var (
		index    search.Index
		fallback search.Searcher
	)
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		index = meiliClient
	}
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	searchService := search.NewService(index, fallback, logger)

	var notifier app.Notifier
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := inbox.NewRedisStore(cfg.RedisURL, cfg.InboxLimit)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		notifier = redisStore
		logger.Info().Msg("reply notifications enabled")
	}

	engine := cards.NewEngine(dataStore, cards.WithMaxDepth(cfg.MaxTreeDepth))
	service := app.New(cfg, engine, dataStore, searchService, notifier, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("woc api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	searchService.Wait()
	logger.Info().Msg("stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		logger.Info().Str("store", cfg.Store).Msg("nothing to migrate")
		return nil
	}
	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if downFlag {
		version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if version == "" {
			logger.Info().Msg("no migrations to roll back")
			return nil
		}
		logger.Info().Str("version", version).Msg("migration rolled back")
		return nil
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres || strings.TrimSpace(cfg.MeiliURL) == "" {
		return errors.New("reindex needs WOC_STORE=postgres and MEILI_URL")
	}
	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	defer meiliClient.Close()
	if !meiliClient.Healthy() {
		return errors.New("meilisearch is not reachable")
	}
	search.NewService(meiliClient, nil, logger).ReindexAllFromPG(ctx, search.NewPgFTS(db))
	return nil
}
