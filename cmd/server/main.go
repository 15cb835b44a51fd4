package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/harborview/lp-portal-sync/internal/airtable"
	"github.com/harborview/lp-portal-sync/internal/api"
	"github.com/harborview/lp-portal-sync/internal/expand"
	"github.com/harborview/lp-portal-sync/internal/hub"
	"github.com/harborview/lp-portal-sync/internal/logger"
	"github.com/harborview/lp-portal-sync/internal/syncer"
	"github.com/harborview/lp-portal-sync/internal/version"
	"github.com/harborview/lp-portal-sync/internal/visibility"
)

var buildVersion string

// Config is the environment-driven service configuration.
type Config struct {
	Port        int    `env:"PORT, default=8080"`
	FrontendURL string `env:"FRONTEND_URL, default=http://localhost:3000"`

	AirtableAPIKey string `env:"AIRTABLE_API_KEY, required"`
	AirtableBaseID string `env:"AIRTABLE_BASE_ID, required"`
	TableName      string `env:"AIRTABLE_TABLE_NAME, default=Partner Investments"`
	ViewName       string `env:"AIRTABLE_VIEW_NAME"`

	// LinkedFields maps linked-record field names on the primary table to
	// their foreign tables, e.g. "Investor:Investors,Deal Lead:Team Members".
	LinkedFields map[string]string `env:"LINKED_FIELDS"`

	RulesTable    string `env:"VISIBILITY_RULES_TABLE, default=Visibility Rules"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	MinInterval      time.Duration `env:"AIRTABLE_MIN_INTERVAL, default=220ms"`
	VersionCacheSize int           `env:"VERSION_CACHE_SIZE, default=100000"`

	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT, default=30s"`
}

func main() {
	// Initialize OpenTelemetry (OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_*).
	// Non-fatal: the service runs untraced when unconfigured.
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		logger.Warn("failed to configure OpenTelemetry", "error", err)
	} else {
		defer otelShutdown()
	}

	ctx := context.Background()
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	client := airtable.NewClient(cfg.AirtableAPIKey, cfg.AirtableBaseID,
		airtable.WithMinInterval(cfg.MinInterval),
	)
	expander := expand.New(client, cfg.LinkedFields)
	tracker := version.New(cfg.VersionCacheSize)
	fanout := hub.New()
	svc := syncer.New(client, expander, tracker, fanout, cfg.TableName, cfg.ViewName)

	// Visibility rules are administrator data in the same base; a missing
	// rules table means nothing is restricted, which is safe to start with
	// but worth a loud warning.
	rules, err := visibility.Load(ctx, client, cfg.RulesTable)
	if err != nil {
		logger.Warn("failed to load visibility rules, serving unfiltered fields",
			"table", cfg.RulesTable, "error", err)
		rules = visibility.NewRules(nil)
	}

	server := api.NewServer(svc, rules, cfg.WebhookSecret, cfg.FrontendURL, buildVersion)
	handler := otelhttp.NewHandler(server.SetupRoutes(), "lp-portal-sync")

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler,
		ReadTimeout: cfg.ReadTimeout,
		// No WriteTimeout: SSE and WebSocket connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			"port", cfg.Port,
			"table", cfg.TableName,
			"linked_fields", len(cfg.LinkedFields),
			"version", buildVersion)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Ending the hub first closes every push connection so Shutdown is not
	// held open by idle streams.
	fanout.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
