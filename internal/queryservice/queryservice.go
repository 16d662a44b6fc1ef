// Package queryservice implements the central scheduler from spec.md §4.3:
// validate → store artifact → cache-lookup → execute-with-inline-wait →
// on-budget-exhaustion async polling → record history → populate cache.
//
// The inline-wait/async-poll/cancellation-token design is grounded on the
// teacher's internal/workflow.Engine ("ExecuteRecipe starts async goroutine
// returning runID immediately", runsMu/runs map[string]context.CancelFunc),
// adapted from a workflow-run identity to a query execution_id.
package queryservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/icebound-data/igloo-mcp/internal/artifacts"
	"github.com/icebound-data/igloo-mcp/internal/config"
	"github.com/icebound-data/igloo-mcp/internal/history"
	"github.com/icebound-data/igloo-mcp/internal/resultcache"
	"github.com/icebound-data/igloo-mcp/internal/sqlguard"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

// rpcBudget is the ceiling on how long a single inline round-trip to the
// warehouse may be held open before we fall back to async polling; a small
// safety margin is reserved below it so the scheduler always has time to
// respond before an upstream RPC deadline would fire on its own.
const (
	rpcBudget    = 25 * time.Second
	safetyMargin = 2 * time.Second
)

// Overrides carries per-request session-context overrides.
type Overrides struct {
	Warehouse string
	Database  string
	Schema    string
	Role      string
}

// Request is the execute() contract from spec.md §4.3.
type Request struct {
	Statement      string
	Reason         string
	TimeoutSeconds int
	Overrides      Overrides
	CacheMode      config.CacheMode
	Profile        string
	VerboseErrors  bool
}

// Result is what QueryService.Execute returns to the ToolDispatcher.
type Result struct {
	Status          history.Status
	ExecutionID     string
	QueryID         string
	Rows            []warehouse.Row
	RowCount        int64
	SourceDatabases []string
	Tables          []string
	Truncated       bool
	Error           *toolerr.ToolError
}

// Service is the scheduler. One Service is shared by every request; each
// in-flight request owns its own cancellation token.
type Service struct {
	cfg      config.Config
	policy   sqlguard.Policy
	client   warehouse.Client
	artifact *artifacts.Store
	hist     *history.Log
	cache    *resultcache.Cache

	mu           sync.Mutex
	inflight     map[string]context.CancelFunc
	asyncResults map[string]Result
}

// New builds a QueryService from its already-constructed dependencies,
// matching the teacher's explicit-constructor-injection idiom
// (pkg/server.New taking pre-built sub-components).
func New(cfg config.Config, policy sqlguard.Policy, client warehouse.Client, artifact *artifacts.Store, hist *history.Log, cache *resultcache.Cache) *Service {
	return &Service{
		cfg:      cfg,
		policy:   policy,
		client:   client,
		artifact: artifact,
		hist:     hist,
		cache:        cache,
		inflight:     make(map[string]context.CancelFunc),
		asyncResults: make(map[string]Result),
	}
}

// FetchAsyncResult returns the stored outcome of a query that transitioned
// to async polling, per fetch_async_query_result (spec.md §6.3). The second
// return value is false while the query is still in flight.
func (s *Service) FetchAsyncResult(executionID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.asyncResults[executionID]
	return res, ok
}

func (s *Service) storeAsyncResult(executionID string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asyncResults[executionID] = res
}

func clampTimeout(seconds, min, max int) int {
	if seconds < min {
		return min
	}
	if seconds > max {
		return max
	}
	return seconds
}

// Execute runs the full scheduling algorithm described in spec.md §4.3.
func (s *Service) Execute(ctx context.Context, req Request) Result {
	executionID := uuid.NewString()
	timeoutSeconds := clampTimeout(req.TimeoutSeconds, s.cfg.MinQueryTimeoutSeconds, s.cfg.MaxQueryTimeoutSeconds)

	if len(req.Reason) < s.cfg.MinReasonLength || len(req.Reason) > s.cfg.MaxReasonLength {
		toolErr := toolerr.ValidationFailedf("reason", req.Reason, fmt.Sprintf("reason must be %d-%d characters", s.cfg.MinReasonLength, s.cfg.MaxReasonLength),
			"reason must be between %d and %d characters, got %d", s.cfg.MinReasonLength, s.cfg.MaxReasonLength, len(req.Reason))
		s.recordHistory(executionID, req, "", timeoutSeconds, history.StatusError, nil, toolErr.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, Error: toolErr}
	}
	if len(req.Statement) > s.cfg.MaxSQLStatementLength {
		toolErr := toolerr.ValidationFailedf("statement", nil, nil, "statement exceeds maximum length of %d characters", s.cfg.MaxSQLStatementLength)
		s.recordHistory(executionID, req, "", timeoutSeconds, history.StatusError, nil, toolErr.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, Error: toolErr}
	}

	// 1. Validate.
	kind, classifyErr := sqlguard.Classify(req.Statement)
	if classifyErr != nil {
		toolErr := toolerr.New(toolerr.ValidationFailed, classifyErr.Error())
		s.recordHistory(executionID, req, "", timeoutSeconds, history.StatusError, nil, toolErr.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, Error: toolErr}
	}
	if deniedErr := sqlguard.Validate(kind, s.policy); deniedErr != nil {
		s.recordHistory(executionID, req, "", timeoutSeconds, history.StatusError, nil, deniedErr.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, Error: deniedErr}
	}

	// 2. Compute sha and store SQL (artifact writes are best-effort per
	// spec.md §7; a failure here is logged, not surfaced).
	sha := artifacts.Sha256Hex(req.Statement)
	if s.artifact != nil {
		if _, err := s.artifact.Write(req.Statement); err != nil {
			log.Warn().Err(err).Str("execution_id", executionID).Msg("queryservice: artifact write failed")
		}
	}

	// 3. Cache lookup (unless mode is refresh or disabled).
	cacheKey := resultcache.Key(req.Profile, req.Overrides.Warehouse, req.Overrides.Database, req.Overrides.Schema, req.Overrides.Role, sha)
	if s.cache != nil && req.CacheMode != config.CacheRefresh && req.CacheMode != config.CacheDisabled {
		if entry, ok := s.cache.Lookup(cacheKey); ok {
			rows, _ := decodeRows(entry.Payload)
			s.recordHistory(executionID, req, sha, timeoutSeconds, history.StatusCacheHit, entry.Manifest.SourceDatabases, "")
			return Result{
				Status:          history.StatusCacheHit,
				ExecutionID:     executionID,
				QueryID:         entry.Manifest.QueryID,
				Rows:            rows,
				RowCount:        entry.Manifest.RowCount,
				SourceDatabases: entry.Manifest.SourceDatabases,
				Tables:          entry.Manifest.Tables,
				Truncated:       entry.Manifest.Truncated,
			}
		}
	}

	sourceDatabases, tables, _ := s.client.DescribeSources(ctx, req.Statement)

	// 4. Submit to the warehouse.
	queryTag := fmt.Sprintf("reason=%s;execution_id=%s", req.Reason, executionID)
	execCtx, cancel := context.WithCancel(ctx)
	s.trackInflight(executionID, cancel)
	defer s.untrackInflight(executionID)

	queryID, err := s.client.Execute(execCtx, req.Statement, warehouse.ExecOptions{
		QueryTag: queryTag,
		Session: warehouse.SessionContext{
			Warehouse: req.Overrides.Warehouse,
			Database:  req.Overrides.Database,
			Schema:    req.Overrides.Schema,
			Role:      req.Overrides.Role,
		},
	})
	if err != nil {
		toolErr := toolerr.New(toolerr.ExecutionError, err.Error())
		s.recordHistory(executionID, req, sha, timeoutSeconds, history.StatusError, sourceDatabases, err.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, Error: toolErr}
	}

	// 5. Inline wait up to inline_budget = min(timeout, rpc_budget - margin).
	inlineBudget := time.Duration(timeoutSeconds) * time.Second
	if cap := rpcBudget - safetyMargin; inlineBudget > cap {
		inlineBudget = cap
	}
	inlineCtx, inlineCancel := context.WithTimeout(execCtx, inlineBudget)
	defer inlineCancel()

	result, err := s.client.Fetch(inlineCtx, queryID)
	if err != nil && inlineCtx.Err() == nil {
		// A driver error (not the inline budget running out): record it and
		// return a classified error.
		s.recordHistory(executionID, req, sha, timeoutSeconds, history.StatusError, sourceDatabases, err.Error())
		return Result{Status: history.StatusError, ExecutionID: executionID, QueryID: queryID, Error: toolerr.New(toolerr.ExecutionError, err.Error())}
	}
	if err == nil && result.Done {
		s.recordHistory(executionID, req, sha, timeoutSeconds, history.StatusSuccess, sourceDatabases, "")
		if s.cache != nil && req.CacheMode != config.CacheDisabled && req.CacheMode != config.CacheReadOnly {
			payload, _ := json.Marshal(result.Rows)
			var rawRows []json.RawMessage
			_ = json.Unmarshal(payload, &rawRows)
			_ = s.cache.Write(cacheKey, resultcache.Manifest{
				ExecutionID:     executionID,
				SQLSha256:       sha,
				SourceDatabases: sourceDatabases,
				Tables:          tables,
				QueryID:         queryID,
			}, rawRows)
		}
		return Result{
			Status:          history.StatusSuccess,
			ExecutionID:     executionID,
			QueryID:         queryID,
			Rows:            result.Rows,
			RowCount:        result.RowCount,
			SourceDatabases: sourceDatabases,
			Tables:          tables,
		}
	}

	// 6. inline_budget elapsed and still running: transition to async
	// polling. The caller gets execution_id/query_id back now; a
	// background goroutine keeps polling until timeout_seconds or
	// completion, and fetch_async_query_result(execution_id) retrieves it.
	go s.pollAsync(context.Background(), executionID, queryID, req, sha, timeoutSeconds-int(inlineBudget.Seconds()), sourceDatabases, tables, cacheKey)

	return Result{
		Status:      history.StatusTimeout, // provisional: caller should poll fetch_async_query_result
		ExecutionID: executionID,
		QueryID:     queryID,
		Error:       toolerr.TimeoutErr("query exceeded the inline wait budget and is still running", queryID),
	}
}

// pollAsync continues polling after the inline budget is exhausted, per
// spec.md §4.3 step 6/7. It uses exponential backoff between polls
// (cenkalti/backoff) bounded by the remaining timeout budget.
func (s *Service) pollAsync(ctx context.Context, executionID, queryID string, req Request, sha string, remainingSeconds int, sourceDatabases, tables []string, cacheKey string) {
	if remainingSeconds <= 0 {
		remainingSeconds = 1
	}
	deadline := time.Now().Add(time.Duration(remainingSeconds) * time.Second)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			// 7. timeout_seconds expired while still running: best-effort
			// cancel, record timeout.
			_ = s.client.Cancel(context.Background(), queryID)
			s.recordHistory(executionID, req, sha, req.TimeoutSeconds, history.StatusTimeout, sourceDatabases, "query exceeded timeout budget")
			s.storeAsyncResult(executionID, Result{
				Status: history.StatusTimeout, ExecutionID: executionID, QueryID: queryID,
				Error: toolerr.TimeoutErr("query exceeded timeout budget", queryID),
			})
			return
		default:
		}

		result, err := s.client.Fetch(ctx, queryID)
		if err != nil && ctx.Err() != nil {
			// The remaining budget ran out during Fetch: the check at the
			// top of the loop records the timeout.
			continue
		}
		if err != nil {
			s.recordHistory(executionID, req, sha, req.TimeoutSeconds, history.StatusError, sourceDatabases, err.Error())
			s.storeAsyncResult(executionID, Result{
				Status: history.StatusError, ExecutionID: executionID, QueryID: queryID,
				Error: toolerr.New(toolerr.ExecutionError, err.Error()),
			})
			return
		}
		if result.Done {
			s.recordHistory(executionID, req, sha, req.TimeoutSeconds, history.StatusSuccess, sourceDatabases, "")
			if s.cache != nil && req.CacheMode != config.CacheDisabled && req.CacheMode != config.CacheReadOnly {
				payload, _ := json.Marshal(result.Rows)
				var rawRows []json.RawMessage
				_ = json.Unmarshal(payload, &rawRows)
				_ = s.cache.Write(cacheKey, resultcache.Manifest{
					ExecutionID:     executionID,
					SQLSha256:       sha,
					SourceDatabases: sourceDatabases,
					Tables:          tables,
					QueryID:         queryID,
				}, rawRows)
			}
			s.storeAsyncResult(executionID, Result{
				Status: history.StatusSuccess, ExecutionID: executionID, QueryID: queryID,
				Rows: result.Rows, RowCount: result.RowCount,
				SourceDatabases: sourceDatabases, Tables: tables,
			})
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			continue
		}
		select {
		case <-ctx.Done():
			continue
		case <-time.After(wait):
		}
	}
}

// CancelExecution cancels an in-flight request by execution_id, per the
// cancellation-token contract in spec.md §5.
func (s *Service) CancelExecution(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.inflight[executionID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *Service) trackInflight(executionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[executionID] = cancel
}

func (s *Service) untrackInflight(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, executionID)
}

func (s *Service) recordHistory(executionID string, req Request, sha string, timeoutSeconds int, status history.Status, sourceDatabases []string, errMsg string) {
	if s.hist == nil {
		return
	}
	s.hist.Record(history.Entry{
		ExecutionID: executionID,
		Ts:          time.Now().UTC(),
		Profile:     req.Profile,
		SessionContext: history.SessionContext{
			Warehouse: req.Overrides.Warehouse,
			Database:  req.Overrides.Database,
			Schema:    req.Overrides.Schema,
			Role:      req.Overrides.Role,
		},
		StatementPreview: preview(req.Statement, 200),
		SQLSha256:        sha,
		TimeoutSeconds:   timeoutSeconds,
		Reason:           req.Reason,
		SourceDatabases:  sourceDatabases,
		Status:           status,
		Error:            errMsg,
	})
}

func preview(statement string, max int) string {
	if len(statement) <= max {
		return statement
	}
	return statement[:max]
}

func decodeRows(payload []byte) ([]warehouse.Row, error) {
	var rows []warehouse.Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
