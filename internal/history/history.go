// Package history implements the append-only JSONL query history writer.
// Writes are best-effort: a failure here never propagates to the caller
// (spec.md §7 propagation policy), matching the fail-safe ordering in the
// teacher's archive-then-purge retention cycle.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status mirrors QueryExecution.status from spec.md §3.2.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusTimeout  Status = "timeout"
	StatusError    Status = "error"
	StatusCacheHit Status = "cache_hit"
)

// SessionContext carries the warehouse/database/schema/role in effect for
// an execution.
type SessionContext struct {
	Warehouse string `json:"warehouse,omitempty"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Entry is one QueryExecution record, per spec.md §3.2.
type Entry struct {
	ExecutionID       string         `json:"execution_id"`
	Ts                time.Time      `json:"ts"`
	Profile           string         `json:"profile,omitempty"`
	SessionContext    SessionContext `json:"session_context"`
	StatementPreview  string         `json:"statement_preview"`
	SQLSha256         string         `json:"sql_sha256"`
	TimeoutSeconds    int            `json:"timeout_seconds"`
	Reason            string         `json:"reason"`
	SourceDatabases   []string       `json:"source_databases,omitempty"`
	Tables            []string       `json:"tables,omitempty"`
	RowCount          *int64         `json:"rowcount,omitempty"`
	DurationMs        *int64         `json:"duration_ms,omitempty"`
	QueryID           string         `json:"query_id,omitempty"`
	Status            Status         `json:"status"`
	Error             string         `json:"error,omitempty"`
}

// Log is a process-wide append-only writer guarded by a per-file lock, so
// concurrent requests never interleave partial JSON lines.
type Log struct {
	mu   sync.Mutex
	path string // empty means history is disabled
}

// New creates a history Log. If path is empty, Record becomes a no-op,
// implementing the "empty/disabled turns history off" rule from spec.md §6.2.
func New(path string) *Log {
	return &Log{path: path}
}

// Enabled reports whether this log writes anywhere.
func (l *Log) Enabled() bool { return l.path != "" }

// Record appends an entry. Best-effort: errors are logged, never returned,
// per spec.md §7 ("Best-effort writers ... never propagate errors to
// callers; they emit warnings in the response instead").
func (l *Log) Record(entry Entry) {
	if !l.Enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("history: failed to create log directory")
		return
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("history: failed to open log file")
		return
	}
	defer f.Close()

	b, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Msg("history: failed to marshal entry")
		return
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		log.Warn().Err(err).Msg("history: failed to append entry")
	}
}
