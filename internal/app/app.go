// Package app wires configuration, storage, services and the HTTP API
// together and dispatches the command line subcommands.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/counselling-scheduler/internal/application"
	"github.com/example/counselling-scheduler/internal/config"
	"github.com/example/counselling-scheduler/internal/events"
	"github.com/example/counselling-scheduler/internal/export"
	httptransport "github.com/example/counselling-scheduler/internal/http"
	"github.com/example/counselling-scheduler/internal/logging"
	"github.com/example/counselling-scheduler/internal/metrics"
	"github.com/example/counselling-scheduler/internal/persistence"
	"github.com/example/counselling-scheduler/internal/persistence/memory"
	"github.com/example/counselling-scheduler/internal/persistence/postgres"
	"github.com/example/counselling-scheduler/internal/persistence/sqlite"
)

const (
	shutdownTimeout = 10 * time.Second
	apiKeyCacheTTL  = 5 * time.Minute
)

// Run parses args (os.Args[1:]), loads configuration and executes the selected
// command. Logs and command output are written to w. Run returns when the
// command completes or, for serve, once ctx is cancelled and the server has
// drained.
func Run(ctx context.Context, w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// hash-key only needs the key itself.
	if inv.Command == CommandHashKey {
		return runHashKey(w, inv.Arg)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(w, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting counselling scheduler", "command", string(inv.Command), "storage_driver", cfg.StorageDriver)

	switch inv.Command {
	case CommandMigrate:
		return runMigrate(ctx, cfg, logger)
	case CommandSyncCounsellors:
		return runSyncCounsellors(ctx, w, cfg, logger, inv.Arg)
	default:
		return runServe(ctx, cfg, logger)
	}
}

func runHashKey(w io.Writer, key string) error {
	encoded, err := application.HashAPIKey(key, application.DefaultArgon2idParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, encoded)
	return err
}

func runMigrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		if err := sqlite.RunMigrations(sqlite.ParseDSN(cfg.SQLiteDSN)); err != nil {
			return err
		}
	case config.DriverPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
	default:
		logger.InfoContext(ctx, "storage driver has no schema to migrate")
		return nil
	}
	logger.InfoContext(ctx, "migrations applied")
	return nil
}

// openStore opens the configured backend with its schema up to date.
func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db), nil
	default:
		return sqlite.Open(sqlite.ParseDSN(cfg.SQLiteDSN))
	}
}

func runSyncCounsellors(ctx context.Context, w io.Writer, cfg config.Config, logger *slog.Logger, path string) error {
	entries, err := readSnapshot(path)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore(store, logger)

	directory := newCounsellorDirectoryAdapter(store)
	service := application.NewCounsellorServiceWithLogger(directory, directory, logger)
	synced, err := service.SyncDirectory(ctx, entries)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "synced %d counsellors\n", synced)
	return err
}

type snapshotEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Specialty   string `json:"specialty"`
}

// readSnapshot loads a directory snapshot from a JSON array or a spreadsheet.
func readSnapshot(path string) ([]application.Counsellor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.ReadCounsellors(file)
	}

	var raw []snapshotEntry
	if err := json.NewDecoder(file).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	entries := make([]application.Counsellor, 0, len(raw))
	for _, entry := range raw {
		entries = append(entries, application.Counsellor{ID: entry.ID, DisplayName: entry.DisplayName, Specialty: entry.Specialty})
	}
	return entries, nil
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStore(store, logger)

	api, err := newAPI(cfg, store, logger, time.Now)
	if err != nil {
		return err
	}
	defer api.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	logger.Info("counselling API listening", "addr", ln.Addr().String())
	if err := serveUntilDone(ctx, server, ln, logger); err != nil {
		return err
	}
	logger.Info("counselling API stopped")
	return nil
}

// serveUntilDone serves on ln until ctx is done. It returns only after the
// graceful shutdown has finished, so resources closed by the caller are no
// longer used by in-flight requests.
func serveUntilDone(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	<-drained
	return nil
}

// api is the fully wired HTTP surface plus the resources it owns.
type api struct {
	handler   http.Handler
	limiter   *httptransport.RateLimiter
	publisher events.Publisher
	registry  *prometheus.Registry
}

func newAPI(cfg config.Config, store persistence.Store, logger *slog.Logger, now func() time.Time) (*api, error) {
	var keyAuth httptransport.KeyAuthenticator
	if cfg.APIKeyHash != "" {
		authenticator, err := application.NewAPIKeyAuthenticator(cfg.APIKeyHash, apiKeyCacheTTL, now)
		if err != nil {
			return nil, fmt.Errorf("invalid COUNSELLING_API_KEY_HASH: %w", err)
		}
		keyAuth = authenticator
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)

	directory := newCounsellorDirectoryAdapter(store)
	sessions := application.NewSessionServiceWithLogger(
		newSessionStoreAdapter(store), directory, uuid.NewString, now, logger,
		application.WithLocation(cfg.Location),
		application.WithHorizonDays(cfg.SlotHorizonDays),
		application.WithEventPublisher(publisher),
		application.WithOperationObserver(collector),
	)
	counsellors := application.NewCounsellorServiceWithLogger(directory, directory, logger)

	limiter := httptransport.NewRateLimiter(
		httptransport.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute, cfg.BookingRateLimitPerMinute),
		logger,
	)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Counsellors: httptransport.NewCounsellorHandler(counsellors, sessions, logger),
		Sessions:    httptransport.NewSessionHandler(sessions, logger),
		Health:      httptransport.NewHealthHandler(store, logger),
		Metrics:     metrics.Handler(registry),
		RateLimiter: limiter,
		APIKey:      keyAuth,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RecordRequests(collector),
			httptransport.Recovery(logger),
		},
	})

	return &api{handler: handler, limiter: limiter, publisher: publisher, registry: registry}, nil
}

// Close stops the limiter cleanup goroutine and flushes the event publisher.
func (a *api) Close() error {
	a.limiter.Stop()
	return a.publisher.Close()
}

func closeStore(store persistence.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close storage", "error", err)
	}
}
