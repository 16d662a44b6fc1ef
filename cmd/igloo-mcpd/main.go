// igloo-mcpd is the agent-facing Snowflake gateway process: it wires the
// query scheduler, catalog crawler, and Living Reports subsystem behind the
// ToolDispatcher, plus an optional debug/health HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/icebound-data/igloo-mcp/internal/artifacts"
	"github.com/icebound-data/igloo-mcp/internal/catalog"
	"github.com/icebound-data/igloo-mcp/internal/config"
	"github.com/icebound-data/igloo-mcp/internal/dispatch"
	"github.com/icebound-data/igloo-mcp/internal/health"
	"github.com/icebound-data/igloo-mcp/internal/history"
	"github.com/icebound-data/igloo-mcp/internal/httpapi"
	"github.com/icebound-data/igloo-mcp/internal/pathresolver"
	"github.com/icebound-data/igloo-mcp/internal/queryservice"
	"github.com/icebound-data/igloo-mcp/internal/reports/index"
	"github.com/icebound-data/igloo-mcp/internal/reports/storage"
	"github.com/icebound-data/igloo-mcp/internal/resultcache"
	"github.com/icebound-data/igloo-mcp/internal/sqlguard"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

func main() {
	setupLogging()
	log.Info().Msg("igloo-mcpd starting")

	cfg := config.Load()
	roots := pathresolver.Resolve(cfg)

	shutdownTracing := setupTracing(cfg)
	defer shutdownTracing()

	client := warehouse.NewFake() // swap for a real driver behind the same interface once one is wired
	artifactStore := artifacts.New(roots.ArtifactRoot)
	historyLog := history.New(roots.QueryHistory)
	cache := resultcache.New(roots.CacheRoot, cfg.CacheMaxRows)
	policy := sqlguard.DefaultPolicy()

	query := queryservice.New(cfg, policy, client, artifactStore, historyLog, cache)
	cat := catalog.New(catalog.NewInfoSchemaSource(client), cfg.CatalogConcurrency, cfg.MaxDDLConcurrency)
	reportStorage := storage.New(roots.ReportsRoot, time.Duration(cfg.LockTimeoutSeconds)*time.Second)
	reportIndex := index.New(roots.ReportsRoot, time.Duration(cfg.LockTimeoutSeconds)*time.Second)
	monitor := health.New(client, roots.CatalogRoot, reportIndex)

	d := dispatch.New(query, cat, reportStorage, reportIndex, monitor, cfg)
	_ = d // wired to the (external, out-of-scope) MCP transport by the caller embedding this package

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.DebugHTTPAddr != "" {
		httpServer = &http.Server{
			Addr:         cfg.DebugHTTPAddr,
			Handler:      httpapi.NewRouter(monitor),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.DebugHTTPAddr).Msg("igloo-mcpd: debug/health HTTP surface listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("igloo-mcpd: debug HTTP server failed")
			}
		}()
	}

	log.Info().
		Str("log_scope", string(cfg.LogScope)).
		Str("reports_root", roots.ReportsRoot).
		Str("catalog_root", roots.CatalogRoot).
		Msg("igloo-mcpd ready")

	<-ctx.Done()
	log.Info().Msg("igloo-mcpd: shutting down gracefully")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	var out = os.Stderr
	if isatty.IsTerminal(out.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: colorable.NewColorable(out), TimeFormat: time.RFC3339})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true})
	}
}

// setupTracing wires an OTLP gRPC trace exporter when IGLOO_MCP_OTLP_ENDPOINT
// is set; otherwise tracing calls throughout the core are no-ops against the
// default global tracer provider. Returns a shutdown func to defer.
func setupTracing(cfg config.Config) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		log.Warn().Err(err).Msg("igloo-mcpd: otlp exporter init failed, tracing disabled")
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}
}
