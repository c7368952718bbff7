package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hatemosphere/cms-portal/internal/api"
	"github.com/hatemosphere/cms-portal/internal/audit"
	"github.com/hatemosphere/cms-portal/internal/auth"
	"github.com/hatemosphere/cms-portal/internal/backup"
	"github.com/hatemosphere/cms-portal/internal/config"
	"github.com/hatemosphere/cms-portal/internal/content"
	"github.com/hatemosphere/cms-portal/internal/identity"
	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/session"
	"github.com/hatemosphere/cms-portal/internal/storage"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// sessionPruneInterval is how often expired auth sessions are deleted.
const sessionPruneInterval = time.Hour

func main() {
	cfg := config.Parse()

	// Configure logging format.
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(logHandler))

	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}

	objects := createObjectStore(cfg)

	if cfg.UsersFile != "" {
		users, err := auth.LoadUsersFile(cfg.UsersFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load users file: %v\n", err)
			os.Exit(1)
		}
		if err := seedUsers(context.Background(), store, users); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed users: %v\n", err)
			os.Exit(1)
		}
		slog.Info("users seeded", "file", cfg.UsersFile, "count", len(users.Users))
	}

	tokens, err := auth.NewTokenIssuer(auth.JWTConfig{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		TTL:        cfg.JWTTTL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create token issuer: %v\n", err)
		os.Exit(1)
	}
	provider := identity.NewProvider(store, tokens, identity.Config{SessionTTL: cfg.SessionTTL})
	roles := auth.NewRoleResolver(store)

	cookie := session.CookieOptions{Secure: cfg.SecureCookies || cfg.TLS, MaxAge: cfg.SessionTTL}
	sessions := session.NewManager(func(clientToken string) session.IdentityProvider {
		return provider.NewClient(clientToken)
	}, roles, session.ManagerConfig{
		Size:    cfg.SessionCacheSize,
		IdleTTL: cfg.SessionIdleTTL,
		Cookie:  cookie,
	})
	api.RegisterSessionsGauge(func() float64 {
		return float64(sessions.Len())
	})

	// Periodic jobs: database backups and auth session cleanup.
	runner := backup.NewRunner(store, backup.NewObjectProvider(objects), cfg.BackupRetention)
	backupScheduler := backup.NewScheduler("backup", func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	}, cfg.BackupInterval)
	if cfg.BackupInterval > 0 {
		slog.Info("scheduled backups enabled", "interval", cfg.BackupInterval, "retention", cfg.BackupRetention)
	}
	pruneScheduler := backup.NewScheduler("session-prune", func(ctx context.Context) error {
		_, err := provider.PruneExpired(ctx)
		return err
	}, sessionPruneInterval)

	serverOpts := []api.ServerOption{
		api.WithTokenAuthority(provider),
		api.WithRoles(roles),
		api.WithBackups(runner),
		api.WithReadiness(store),
		api.WithPendingWait(cfg.PendingWait),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithCookieOptions(cookie),
	}

	// Initialize OpenTelemetry tracing if configured.
	var tp *sdktrace.TracerProvider
	if cfg.OTelServiceName != "" {
		var initErr error
		tp, initErr = initTracer(context.Background(), cfg.OTelServiceName)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize OpenTelemetry: %v\n", initErr)
			os.Exit(1)
		}
		slog.Info("OpenTelemetry tracing enabled", "service", cfg.OTelServiceName)
	}

	// When management-addr is set, health/metrics move to a separate server.
	if cfg.ManagementAddr != "" {
		serverOpts = append(serverOpts, api.WithSkipManagementRoutes())
	}

	srv := api.NewServer(content.NewService(store, objects), objects, sessions, serverOpts...)

	handler := srv.Router()
	if tp != nil {
		handler = otelhttp.NewHandler(handler, "cms-portal")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start separate management server for health probes and metrics.
	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtMux := http.NewServeMux()
		mgmtMux.HandleFunc("GET /healthz", api.HealthHandler)
		mgmtMux.Handle("GET /readyz", api.ReadyHandler(store))
		mgmtMux.Handle("GET /metrics", api.MetricsHandler())

		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           mgmtMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("management server starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("management server error", "error", err)
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		// Give in-flight requests 30 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if mgmtServer != nil {
			if err := mgmtServer.Shutdown(ctx); err != nil {
				slog.Error("management server shutdown error", "error", err)
			}
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("cms portal starting", "addr", cfg.Addr, "public_url", cfg.PublicURL, "objects", objects.Name())

	if cfg.TLS {
		err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown to complete.
	<-done

	slog.Info("stopping schedulers and closing storage")
	backupScheduler.Shutdown()
	pruneScheduler.Shutdown()
	sessions.Close()
	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("tracer provider shutdown error", "error", err)
		}
	}
	store.Close()
	slog.Info("shutdown complete")
}

// createObjectStore builds the object store from config. Exits on error.
func createObjectStore(cfg *config.Config) objectstore.Store {
	mediaURL := strings.TrimSuffix(cfg.PublicURL, "/") + "/media"
	switch cfg.ObjectStore {
	case "s3":
		s3Store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Prefix:         cfg.S3Prefix,
			ForcePathStyle: cfg.S3ForcePathStyle,
			PublicURL:      cfg.S3PublicURL,
			BaseURL:        mediaURL,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create S3 object store: %v\n", err)
			os.Exit(1)
		}
		slog.Info("object store: s3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return s3Store
	default: // "fs"
		fsStore, err := objectstore.NewFSStore(cfg.ObjectDir, mediaURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create object store: %v\n", err)
			os.Exit(1)
		}
		slog.Info("object store: fs", "dir", cfg.ObjectDir)
		return fsStore
	}
}

// initTracer sets up an OTLP gRPC trace exporter and returns the TracerProvider.
// Exporter endpoint is configured via standard OTEL_EXPORTER_OTLP_ENDPOINT env var
// (default: localhost:4317).
func initTracer(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
