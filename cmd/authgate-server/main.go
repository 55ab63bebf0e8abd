package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/smartbag/authgate"
	"github.com/smartbag/authgate/credential"
	"github.com/smartbag/authgate/internal/httpapi"
	"github.com/smartbag/authgate/logger"
	otelexport "github.com/smartbag/authgate/metrics/export/otel"
	"github.com/smartbag/authgate/metrics/export/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func main() {
	settings, err := authgate.LoadSettings()
	if err != nil {
		logger.Log.Fatalf("Error loading configuration: %v", err)
	}
	logger.Init(settings.LogLevel, settings.LogFormat)
	logger.Log.Info("Configuration loaded successfully")

	redisOpts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		logger.Log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, db, err := openRepository(startCtx, settings.DatabaseURL)
	cancel()
	if err != nil {
		logger.Log.Fatalf("Error opening credential store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	gate, err := authgate.New().
		WithConfig(settings.Gate).
		WithRedis(rdb).
		WithCredentialRepository(repo).
		WithLogger(logger.Log).
		Build()
	if err != nil {
		logger.Log.Fatalf("Error building gate: %v", err)
	}
	defer gate.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := gate.Ping(pingCtx); err != nil {
		logger.Log.WithError(err).Warn("Redis not reachable at startup; read-only traffic will fail open")
	}
	cancel()

	if settings.Gate.Metrics.Enabled && settings.MetricsLogInterval > 0 {
		stop, err := startMetricsLog(gate, settings.MetricsLogInterval)
		if err != nil {
			logger.Log.Fatalf("Error starting metrics log: %v", err)
		}
		defer stop()
	}

	router := httpapi.NewRouter(httpapi.Options{
		Gate:           gate,
		Registrar:      gate.Credentials(),
		DefaultRole:    settings.RegistrationRole,
		Metrics:        prometheus.NewPrometheusExporter(gate).Handler(),
		Log:            logger.Log,
		TrustedProxies: settings.TrustedProxyHops,
		HSTS:           settings.HSTS,
	})
	if settings.RegistrationRole == "" {
		logger.Log.Info("REGISTRATION_ROLE empty; self-registration disabled")
	}

	handler := http.Handler(router)
	if len(settings.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   settings.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
		}).Handler(router)
	}

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Infof("Server starting on %s", settings.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Warn("Shutdown signal received. Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Log.Info("Server exited properly")
}

// openRepository uses Postgres when dsn is set and an in-memory store
// otherwise.
func openRepository(ctx context.Context, dsn string) (credential.Repository, *sql.DB, error) {
	if dsn == "" {
		logger.Log.Warn("DATABASE_URL not set; credentials are kept in memory")
		return credential.NewMemoryRepository(), nil, nil
	}

	db, err := credential.Connect(ctx, dsn, logger.Log)
	if err != nil {
		return nil, nil, err
	}
	if err := credential.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return credential.NewPostgresRepository(db), db, nil
}

// startMetricsLog logs non-zero gate metrics through OTel every interval.
func startMetricsLog(gate *authgate.Gate, interval time.Duration) (func(), error) {
	reader := sdkmetric.NewPeriodicReader(
		otelexport.NewLogExporter(logger.Log.WithField("component", "metrics"), true),
		sdkmetric.WithInterval(interval),
	)
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter, err := otelexport.NewOTelExporter(provider.Meter("github.com/smartbag/authgate"), gate)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Log.WithError(err).Warn("metrics provider shutdown")
		}
		_ = exporter.Close()
	}, nil
}
