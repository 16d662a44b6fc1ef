// Package warehouse defines the narrow interface the core consumes to talk
// to the data warehouse. The real driver (e.g. Snowflake) is an external
// collaborator per spec.md §1 and is never imported here; this package
// defines only the contract plus a Fake used by tests, matching the
// teacher's "interface + community default implementation" pattern
// (pkg/contracts.PlanResolver / CommunityPlanResolver).
package warehouse

import (
	"context"
	"time"
)

// SessionContext mirrors history.SessionContext; duplicated here (rather
// than imported) to keep this package free of dependencies on other core
// components, since it is the narrowest possible external boundary.
type SessionContext struct {
	Warehouse string
	Database  string
	Schema    string
	Role      string
}

// ExecOptions configures a single execute call.
type ExecOptions struct {
	QueryTag string // contains reason + execution_id, per spec.md §4.3 step 4
	Session  SessionContext
}

// Row is a single result row, shaped as a JSON-serializable map to avoid
// coupling this interface to any particular driver's native row type.
type Row = map[string]interface{}

// ExecResult is what a completed (or still-running) execution looks like.
type ExecResult struct {
	QueryID  string
	Done     bool
	Rows     []Row
	RowCount int64
}

// Client is the narrow interface the core consumes. Implementations must
// be safe for concurrent use — QueryService issues one call per in-flight
// request.
type Client interface {
	// Execute submits statement and returns immediately with a query_id;
	// callers poll Fetch for completion. This models Snowflake's
	// async execution semantics without committing to a driver.
	Execute(ctx context.Context, statement string, opts ExecOptions) (queryID string, err error)

	// Fetch returns the current state of a previously submitted query.
	// Done=false means still running; callers should poll again.
	Fetch(ctx context.Context, queryID string) (ExecResult, error)

	// Cancel issues a best-effort server-side cancel for queryID.
	Cancel(ctx context.Context, queryID string) error

	// DescribeSources extracts referenced tables/databases from a
	// statement for attribution purposes (spec.md §3.2 source_databases,
	// tables). Implementations may use driver-side EXPLAIN metadata, or a
	// best-effort lexical scan.
	DescribeSources(ctx context.Context, statement string) (databases []string, tables []string, err error)
}

// Fake is an in-memory WarehouseClient used by tests and as a reference
// adapter shape. It completes every query instantly unless configured with
// a delay, and never actually executes SQL.
type Fake struct {
	Delay   time.Duration
	Rows    []Row
	QueryID func() string

	cancelled map[string]bool
}

// NewFake creates a Fake warehouse client that completes instantly with no
// rows, suitable as a zero-value-friendly default in tests.
func NewFake() *Fake {
	return &Fake{cancelled: make(map[string]bool)}
}

func (f *Fake) Execute(ctx context.Context, statement string, opts ExecOptions) (string, error) {
	id := "fake-query-id"
	if f.QueryID != nil {
		id = f.QueryID()
	}
	return id, nil
}

func (f *Fake) Fetch(ctx context.Context, queryID string) (ExecResult, error) {
	if f.cancelled == nil {
		f.cancelled = make(map[string]bool)
	}
	if f.cancelled[queryID] {
		return ExecResult{QueryID: queryID, Done: true, Rows: nil, RowCount: 0}, nil
	}
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	return ExecResult{
		QueryID:  queryID,
		Done:     true,
		Rows:     f.Rows,
		RowCount: int64(len(f.Rows)),
	}, nil
}

func (f *Fake) Cancel(ctx context.Context, queryID string) error {
	if f.cancelled == nil {
		f.cancelled = make(map[string]bool)
	}
	f.cancelled[queryID] = true
	return nil
}

func (f *Fake) DescribeSources(ctx context.Context, statement string) ([]string, []string, error) {
	return nil, nil, nil
}
