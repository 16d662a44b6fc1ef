// Package pathresolver resolves the global vs. repo-scoped filesystem roots
// used by every other component (logs, artifacts, cache, catalogs, reports).
package pathresolver

import (
	"os"
	"path/filepath"

	"github.com/icebound-data/igloo-mcp/internal/config"
	"github.com/rs/zerolog/log"
)

const defaultDirName = ".igloo_mcp"

// Roots holds every resolved filesystem root a component may need.
type Roots struct {
	Scope        config.LogScope
	QueryHistory string // empty means history is disabled
	ArtifactRoot string
	CacheRoot    string
	ReportsRoot  string
	CatalogRoot  string
}

// Resolve applies the root precedence decision recorded in SPEC_FULL.md §D.1:
// an explicit per-concern root variable always wins over anything derived
// from IGLOO_MCP_LOG_SCOPE. When both are set and disagree, a warning is
// logged and the explicit value wins.
func Resolve(cfg config.Config) Roots {
	scopeRoot := scopeRoot(cfg.LogScope)

	r := Roots{
		Scope:        cfg.LogScope,
		ArtifactRoot: resolveRoot(cfg.ArtifactRoot, filepath.Join(scopeRoot, "logs", "artifacts"), "IGLOO_MCP_ARTIFACT_ROOT", scopeRoot),
		ReportsRoot:  resolveRoot(cfg.ReportsRoot, filepath.Join(scopeRoot, "reports"), "IGLOO_MCP_REPORTS_ROOT", scopeRoot),
		CatalogRoot:  resolveRoot(cfg.CatalogRoot, filepath.Join(scopeRoot, "catalogs"), "IGLOO_MCP_CATALOG_ROOT", scopeRoot),
	}

	if cfg.QueryHistoryPath == "disabled" {
		r.QueryHistory = ""
	} else {
		r.QueryHistory = resolveRoot(cfg.QueryHistoryPath, filepath.Join(scopeRoot, "logs", "doc.jsonl"), "IGLOO_MCP_QUERY_HISTORY", scopeRoot)
	}

	// CacheRoot defaults relative to the already-resolved ArtifactRoot, per
	// spec.md §6.2 ("<artifact_root>/cache"), not directly off scopeRoot.
	r.CacheRoot = resolveRoot(cfg.CacheRoot, filepath.Join(r.ArtifactRoot, "cache"), "IGLOO_MCP_CACHE_ROOT", scopeRoot)

	return r
}

func resolveRoot(explicit, derived, envName, scopeRoot string) string {
	if explicit == "" {
		return derived
	}
	if !withinTree(explicit, scopeRoot) {
		log.Warn().
			Str("variable", envName).
			Str("explicit_root", explicit).
			Str("scope_derived_root", scopeRoot).
			Msg("explicit root overrides scope-derived root")
	}
	return explicit
}

func withinTree(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (len(rel) > 0 && rel[0] != '.')
}

func scopeRoot(scope config.LogScope) string {
	switch scope {
	case config.ScopeRepo:
		if repo, ok := findRepoRoot(); ok {
			return repo
		}
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultDirName
		}
		return filepath.Join(home, defaultDirName)
	}
}

// findRepoRoot walks upward from the working directory looking for a .git
// directory, the same repo-root heuristic used by the teacher's data-dir
// resolution in MemoryStore.
func findRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
