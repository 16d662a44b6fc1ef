// Package config loads the immutable process configuration from the
// IGLOO_MCP_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
)

// LogScope selects the default root for every filesystem-backed component
// when no per-concern root variable overrides it.
type LogScope string

const (
	ScopeGlobal LogScope = "global"
	ScopeRepo   LogScope = "repo"
)

// CacheMode selects ResultCache behavior for a given request.
type CacheMode string

const (
	CacheEnabled  CacheMode = "enabled"
	CacheRefresh  CacheMode = "refresh"
	CacheReadOnly CacheMode = "read_only"
	CacheDisabled CacheMode = "disabled"
)

// Config is the single immutable configuration value built once at process
// start and passed explicitly into every component constructor.
type Config struct {
	LogScope LogScope

	QueryHistoryPath string // "disabled" turns history off (Load maps a set-but-empty IGLOO_MCP_QUERY_HISTORY to it); empty means the scope-derived default
	ArtifactRoot     string
	CacheRoot        string
	CacheMode        CacheMode
	CacheMaxRows     int

	ReportsRoot string
	CatalogRoot string

	CatalogConcurrency int
	MaxDDLConcurrency  int

	MinQueryTimeoutSeconds int
	MaxQueryTimeoutSeconds int

	MaxSQLStatementLength int

	MinReasonLength int
	MaxReasonLength int

	ResultSizeLimitMB         int
	ResultKeepFirstRows       int
	ResultKeepLastRows        int
	ResultTruncationThreshold int

	LockTimeoutSeconds int

	DebugHTTPAddr string // empty disables the optional debug/health HTTP surface
	OTLPEndpoint  string // empty disables OTLP trace export
}

// Load reads every recognized IGLOO_MCP_* variable and returns an immutable
// Config. Root-path resolution (the IGLOO_MCP_LOG_SCOPE vs. explicit root
// precedence) is performed by pathresolver.Resolve, not here: Load only
// captures the raw knob values.
func Load() Config {
	cfg := Config{
		LogScope: LogScope(envStr("IGLOO_MCP_LOG_SCOPE", string(ScopeGlobal))),

		QueryHistoryPath: envStr("IGLOO_MCP_QUERY_HISTORY", ""),
		ArtifactRoot:     envStr("IGLOO_MCP_ARTIFACT_ROOT", ""),
		CacheRoot:        envStr("IGLOO_MCP_CACHE_ROOT", ""),
		CacheMode:        CacheMode(envStr("IGLOO_MCP_CACHE_MODE", string(CacheEnabled))),
		CacheMaxRows:     envInt("IGLOO_MCP_CACHE_MAX_ROWS", 5000),

		ReportsRoot: envStr("IGLOO_MCP_REPORTS_ROOT", ""),
		CatalogRoot: envStr("IGLOO_MCP_CATALOG_ROOT", ""),

		CatalogConcurrency: envInt("IGLOO_MCP_CATALOG_CONCURRENCY", 16),
		MaxDDLConcurrency:  envInt("IGLOO_MCP_MAX_DDL_CONCURRENCY", 8),

		MinQueryTimeoutSeconds: envInt("IGLOO_MCP_MIN_QUERY_TIMEOUT_SECONDS", 1),
		MaxQueryTimeoutSeconds: envInt("IGLOO_MCP_MAX_QUERY_TIMEOUT_SECONDS", 3600),

		MaxSQLStatementLength: envInt("IGLOO_MCP_MAX_SQL_STATEMENT_LENGTH", 1_000_000),

		MinReasonLength: envInt("IGLOO_MCP_MIN_REASON_LENGTH", 5),
		MaxReasonLength: envInt("IGLOO_MCP_MAX_REASON_LENGTH", 200),

		ResultSizeLimitMB:         envInt("IGLOO_MCP_RESULT_SIZE_LIMIT_MB", 1),
		ResultKeepFirstRows:       envInt("IGLOO_MCP_RESULT_KEEP_FIRST_ROWS", 500),
		ResultKeepLastRows:        envInt("IGLOO_MCP_RESULT_KEEP_LAST_ROWS", 50),
		ResultTruncationThreshold: envInt("IGLOO_MCP_RESULT_TRUNCATION_THRESHOLD", 1000),

		LockTimeoutSeconds: envInt("IGLOO_MCP_LOCK_TIMEOUT_SECONDS", 10),

		DebugHTTPAddr: envStr("IGLOO_MCP_DEBUG_HTTP_ADDR", ""),
		OTLPEndpoint:  envStr("IGLOO_MCP_OTLP_ENDPOINT", ""),
	}
	// A set-but-empty IGLOO_MCP_QUERY_HISTORY turns history off, like "disabled".
	if v, ok := os.LookupEnv("IGLOO_MCP_QUERY_HISTORY"); ok && strings.TrimSpace(v) == "" {
		cfg.QueryHistoryPath = "disabled"
	}
	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

