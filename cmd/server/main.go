// main wires high-level dependencies, exposes the HTTP router, and
// keeps the server lifecycle small. Business logic lives in internal
// packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"warden/internal/audit"
	"warden/internal/catalog"
	catalogmetrics "warden/internal/catalog/metrics"
	"warden/internal/explain"
	explainmetrics "warden/internal/explain/metrics"
	idstore "warden/internal/identity/store"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/platform/redis"
	httptransport "warden/internal/transport/http"
	"warden/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var auditor audit.Publisher = audit.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			audit.WithKafkaLogger(log))
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafka.Close(context.Background())
		auditor = kafka
	}

	catalogStore := catalog.NewPostgres(db)
	promoter := catalog.NewPromoter(catalogStore,
		catalog.WithLogger(log),
		catalog.WithMetrics(catalogmetrics.New()),
		catalog.WithAuditor(auditor),
	)
	identities := idstore.NewPostgresIdentities(db)
	links := idstore.NewPostgresLinks(db)
	reconciler := catalog.NewService(identities, links, promoter, log)

	explainOpts := []explain.Option{
		explain.WithLogger(log),
		explain.WithMetrics(explainmetrics.New()),
		explain.WithTTL(cfg.Explain.TTL),
	}
	if redisClient != nil {
		explainOpts = append(explainOpts, explain.WithShared(redisClient))
	}
	explainer := explain.New(catalog.NewExplainSource(catalogStore), explainOpts...)
	go refreshLoop(ctx, explainer, cfg.Explain.RefreshInterval, log)

	handler := httptransport.NewHandler(reconciler, explainer, log)
	srv := httpserver.New(cfg.HTTPAddr, httptransport.NewRouter(handler))

	errc := make(chan error, 1)
	go func() {
		log.Info("starting warden", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// refreshLoop keeps the explanation cache in step with catalog writes.
func refreshLoop(ctx context.Context, cache *explain.Cache, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cache.CheckRefresh(ctx); err != nil {
				log.Warn("explanation cache refresh failed", "error", err)
			}
		}
	}
}
