package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/nurse-dispatch/internal/config"
	"github.com/example/nurse-dispatch/internal/engine"
	"github.com/example/nurse-dispatch/internal/eta"
	"github.com/example/nurse-dispatch/internal/httpapi"
	"github.com/example/nurse-dispatch/internal/ingest"
	"github.com/example/nurse-dispatch/internal/location"
	"github.com/example/nurse-dispatch/internal/logging"
	"github.com/example/nurse-dispatch/internal/match"
	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/notify"
	"github.com/example/nurse-dispatch/internal/payments"
	"github.com/example/nurse-dispatch/internal/request"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("nurse-dispatch", cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var locations location.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		locations = location.NewRedisStore(client, cfg.RedisGeoKey, cfg.LocationMinInterval)
		logger.Info("location store: redis", "addr", cfg.RedisAddr)
	} else {
		locations = location.NewMemoryStore(cfg.LocationMinInterval)
		logger.Info("location store: memory")
	}

	var requests request.Store
	if cfg.PGDSN != "" {
		ps, err := request.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		requests = ps
		logger.Info("request store: postgres")
	} else {
		requests = request.NewMemoryStore()
		logger.Info("request store: memory")
	}

	sessions := notify.NewWSRegistry()
	sinks := []notify.Sink{&notify.LogSink{Logger: logger}, sessions}
	var eventSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		eventSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		sinks = append(sinks, eventSink)
	}
	dispatcher := notify.NewDispatcher(logger, 256, sinks...)
	defer dispatcher.Close()

	eng := &engine.Engine{Store: requests, Notifier: dispatcher, Logger: logger}
	if cfg.PaymentsEnabled {
		eng.Payments = payments.NewVisitPayments(payments.NewStripeClient(), cfg.PaymentAmount, cfg.PaymentCurrency)
		logger.Info("visit payments enabled")
	}

	matcher := &match.Service{
		Requests:        requests,
		Locations:       locations,
		RadiusKm:        cfg.MatchRadiusKm,
		Limit:           cfg.MatchLimit,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
	}
	if cfg.OSRMEndpoint != "" {
		matcher.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		matcher.ETACache = eta.NewCache(cfg.LocationMinInterval)
	}

	var producer *ingest.LocationProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		defer func() { _ = producer.Close() }()
	}

	auth, err := authFromEnv()
	if err != nil {
		logger.Error("invalid AUTH_TOKENS", "error", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(logger, httpapi.Deps{
		Auth:      auth,
		Locations: locations,
		Requests:  requests,
		Engine:    eng,
		Matcher:   matcher,
		Sessions:  sessions,
		Producer:  producer,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("nurse-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	if eventSink != nil {
		_ = eventSink.Close()
	}
}

func authFromEnv() (httpapi.AuthProvider, error) {
	if raw := os.Getenv("AUTH_TOKENS"); raw != "" {
		return httpapi.ParseStaticTokens(raw)
	}
	// empty provider: every call is unauthenticated until tokens are wired
	return &httpapi.StaticTokenProvider{Tokens: map[string]models.Actor{}}, nil
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_service_requests.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
