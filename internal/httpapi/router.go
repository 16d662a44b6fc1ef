// Package httpapi exposes a small optional debug/health HTTP surface —
// /healthz backed by health.Monitor and /debug/tools listing the static
// toolNames registry — for local operator inspection. The MCP
// transport itself is an external collaborator and is never served here.
// Router construction follows the teacher's internal/api.NewRouter
// chi+cors idiom, trimmed to the two routes this system actually needs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/icebound-data/igloo-mcp/internal/health"
)

// toolNames is the static registry /debug/tools reports, mirroring the
// dispatch surface wired in cmd/igloo-mcpd/main.go.
var toolNames = []string{
	"execute_query",
	"fetch_async_query_result",
	"build_catalog",
	"get_catalog_summary",
	"search_catalog",
	"build_dependency_graph",
	"test_connection",
	"health_check",
	"create_report",
	"evolve_report",
	"evolve_report_batch",
	"get_report",
	"get_report_schema",
	"render_report",
	"search_report",
	"search_citations",
}

// NewRouter builds the debug/health HTTP handler.
func NewRouter(monitor *health.Monitor) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(),
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthzHandler(monitor))
	r.Get("/debug/tools", debugToolsHandler)

	return r
}

func healthzHandler(monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := monitor.Check(context.Background(), false)
		w.Header().Set("Content-Type", "application/json")
		if !report.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

func debugToolsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"tools": toolNames})
}

// parseCORSOrigins mirrors the teacher's env-driven origin list, scoped to
// this debug surface's own variable.
func parseCORSOrigins() []string {
	raw := os.Getenv("IGLOO_MCP_DEBUG_CORS_ORIGINS")
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
