// Package dispatch implements the ToolDispatcher: the uniform envelope,
// request_id propagation, and loose-parameter coercion shared by every tool
// surfaced to an agent, per spec.md §4.10. execute_query and build_catalog
// run inside go.opentelemetry.io/otel spans, the same tracing idiom the
// teacher wires through internal/telemetry for its HTTP middleware; the
// envelope's timing reports only total_duration_ms, with no sub-durations.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/icebound-data/igloo-mcp/internal/catalog"
	"github.com/icebound-data/igloo-mcp/internal/config"
	"github.com/icebound-data/igloo-mcp/internal/health"
	"github.com/icebound-data/igloo-mcp/internal/queryservice"
	"github.com/icebound-data/igloo-mcp/internal/reports/index"
	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
	"github.com/icebound-data/igloo-mcp/internal/reports/patch"
	"github.com/icebound-data/igloo-mcp/internal/reports/render"
	"github.com/icebound-data/igloo-mcp/internal/reports/retrieval"
	"github.com/icebound-data/igloo-mcp/internal/reports/schema"
	"github.com/icebound-data/igloo-mcp/internal/reports/storage"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

var tracer = otel.Tracer("igloo-mcp/dispatch")

// Envelope is the uniform response shape every tool returns, per spec.md
// §4.10: {status, ...data, timing, warnings[], request_id}.
type Envelope struct {
	Status    string                 `json:"status"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timing    map[string]int64       `json:"timing"`
	Warnings  []string               `json:"warnings,omitempty"`
	RequestID string                 `json:"request_id"`
	Error     *toolerr.ToolError     `json:"error,omitempty"`
}

// Dispatcher owns every wired service and shapes their calls into the
// uniform tool envelope.
type Dispatcher struct {
	Query     *queryservice.Service
	Catalog   *catalog.Service
	Storage   *storage.Storage
	Index     *index.Index
	Health    *health.Monitor
	Cfg       config.Config
}

// New builds a Dispatcher from already-constructed service instances.
func New(query *queryservice.Service, cat *catalog.Service, store *storage.Storage, idx *index.Index, monitor *health.Monitor, cfg config.Config) *Dispatcher {
	return &Dispatcher{Query: query, Catalog: cat, Storage: store, Index: idx, Health: monitor, Cfg: cfg}
}

func requestIDOrNew(requestID string) string {
	if requestID != "" {
		return requestID
	}
	return uuid.NewString()
}

func success(requestID string, start time.Time, data map[string]interface{}, warnings []string) Envelope {
	return Envelope{
		Status:    "success",
		Data:      data,
		Timing:    map[string]int64{"total_duration_ms": time.Since(start).Milliseconds()},
		Warnings:  warnings,
		RequestID: requestID,
	}
}

func failure(requestID string, start time.Time, toolErr *toolerr.ToolError) Envelope {
	status := "error"
	if toolErr.Kind == toolerr.ValidationFailed {
		status = "validation_failed"
	}
	return Envelope{
		Status:    status,
		Timing:    map[string]int64{"total_duration_ms": time.Since(start).Milliseconds()},
		RequestID: requestID,
		Error:     toolErr,
	}
}

// CoerceTimeoutSeconds accepts int, numeric string, or float-like numeric
// string and rejects suffixed strings like "30s", per spec.md §4.10/§8.
func CoerceTimeoutSeconds(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), nil
		}
		return 0, fmt.Errorf("timeout_seconds %q is not a valid integer or numeric string", v)
	default:
		return 0, fmt.Errorf("timeout_seconds has unsupported type %T", raw)
	}
}

// ExecuteQuery dispatches execute_query, per spec.md §6.3.
func (d *Dispatcher) ExecuteQuery(ctx context.Context, requestID string, req queryservice.Request) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()
	ctx, span := tracer.Start(ctx, "execute_query")
	defer span.End()

	if req.CacheMode == "" {
		req.CacheMode = d.Cfg.CacheMode
	}
	res := d.Query.Execute(ctx, req)
	if res.Error != nil {
		return failure(requestID, start, res.Error)
	}

	status := string(res.Status)
	return Envelope{
		Status: status,
		Data: map[string]interface{}{
			"execution_id":     res.ExecutionID,
			"query_id":         res.QueryID,
			"rows":             res.Rows,
			"row_count":        res.RowCount,
			"source_databases": res.SourceDatabases,
			"tables":           res.Tables,
			"truncated":        res.Truncated,
		},
		Timing:    map[string]int64{"total_duration_ms": time.Since(start).Milliseconds()},
		RequestID: requestID,
	}
}

// FetchAsyncQueryResult dispatches fetch_async_query_result.
func (d *Dispatcher) FetchAsyncQueryResult(requestID, executionID string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	res, ok := d.Query.FetchAsyncResult(executionID)
	if !ok {
		return Envelope{
			Status:    "running",
			Timing:    map[string]int64{"total_duration_ms": time.Since(start).Milliseconds()},
			RequestID: requestID,
		}
	}
	if res.Error != nil {
		return failure(requestID, start, res.Error)
	}
	return success(requestID, start, map[string]interface{}{
		"execution_id":     res.ExecutionID,
		"query_id":         res.QueryID,
		"rows":             res.Rows,
		"row_count":        res.RowCount,
		"source_databases": res.SourceDatabases,
		"tables":           res.Tables,
	}, nil)
}

// BuildCatalog dispatches build_catalog.
func (d *Dispatcher) BuildCatalog(ctx context.Context, requestID string, plan catalog.BuildPlan) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()
	ctx, span := tracer.Start(ctx, "build_catalog")
	defer span.End()

	result, err := d.Catalog.Build(ctx, plan)
	if err != nil {
		return failure(requestID, start, toolerr.New(toolerr.IOError, err.Error()))
	}
	var warnings []string
	for _, w := range result.Warnings {
		warnings = append(warnings, w.Message)
	}
	return success(requestID, start, map[string]interface{}{
		"databases_built": result.DatabasesBuilt,
	}, warnings)
}

// BuildDependencyGraph dispatches build_dependency_graph.
func (d *Dispatcher) BuildDependencyGraph(requestID string, objects []catalog.Object, format string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	g := catalog.BuildDependencyGraph(objects)
	if format == "dot" {
		return success(requestID, start, map[string]interface{}{"graph": g.DOT()}, nil)
	}
	b, err := g.JSON()
	if err != nil {
		return failure(requestID, start, toolerr.New(toolerr.IOError, err.Error()))
	}
	return success(requestID, start, map[string]interface{}{"graph": string(b)}, nil)
}

// GetCatalogSummary dispatches get_catalog_summary.
func (d *Dispatcher) GetCatalogSummary(requestID, catalogDir string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	summaries, err := catalog.GetSummary(catalogDir)
	if err != nil {
		return failure(requestID, start, toolerr.New(toolerr.IOError, err.Error()))
	}
	return success(requestID, start, map[string]interface{}{"databases": summaries}, nil)
}

// SearchCatalog dispatches search_catalog.
func (d *Dispatcher) SearchCatalog(requestID, catalogDir, query, kind string, limit int) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	matches, err := catalog.Search(catalogDir, query, kind, limit)
	if err != nil {
		return failure(requestID, start, toolerr.New(toolerr.IOError, err.Error()))
	}
	return success(requestID, start, map[string]interface{}{
		"matches":       matches,
		"matches_found": len(matches),
	}, nil)
}

// TestConnection dispatches test_connection().
func (d *Dispatcher) TestConnection(ctx context.Context, requestID string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	status := d.Health.TestConnection(ctx)
	if !status.OK {
		return failure(requestID, start, toolerr.New(toolerr.ExecutionError, status.Detail))
	}
	return success(requestID, start, map[string]interface{}{"connected": true}, nil)
}

// HealthCheck dispatches health_check(include_catalog?). include_catalog is
// the only parameter; include_cortex and include_profile have no counterpart
// here, and include_catalog decides what Monitor.Check aggregates.
func (d *Dispatcher) HealthCheck(ctx context.Context, requestID string, includeCatalog bool) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	report := d.Health.Check(ctx, includeCatalog)
	var warnings []string
	for _, c := range report.Components {
		if !c.OK {
			warnings = append(warnings, c.Name+": "+c.Detail)
		}
	}
	return success(requestID, start, map[string]interface{}{
		"ok":         report.OK,
		"components": report.Components,
	}, warnings)
}

// CreateReport dispatches create_report.
func (d *Dispatcher) CreateReport(requestID, title, template string, tags []string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	if template == "" {
		template = "default"
	}
	reportID := "rpt_" + uuid.NewString()
	ol := outline.New(template)
	ol.Metadata.Tags = map[string]string{"title": title}

	if err := d.Storage.Create(reportID, ol, requestID); err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	if d.Index != nil {
		_ = d.Index.Append(outline.IndexEntry{
			ReportID:     reportID,
			CurrentTitle: title,
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
			Tags:         tags,
			Status:       outline.StatusActive,
			Path:         "by_id/" + reportID,
		})
	}
	return success(requestID, start, map[string]interface{}{
		"report_id":      reportID,
		"outline_version": ol.Version,
	}, nil)
}

// EvolveReport dispatches evolve_report: resolve → lock → validate → apply
// → post-validate → write → shape response, per spec.md §4 data flow.
func (d *Dispatcher) EvolveReport(requestID, reportSelector string, changes *patch.ProposedChanges, dryRun bool, expectedVersion int, responseDetail string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	entry, selErr := d.Index.Resolve(reportSelector)
	if selErr != nil {
		return failure(requestID, start, selErr)
	}

	current, err := d.Storage.Read(entry.ReportID)
	if err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return failure(requestID, start, toolerr.VersionConflictErr(current.Version))
	}
	if toolErr := patch.Validate(current, changes); toolErr != nil {
		return failure(requestID, start, toolErr)
	}

	result, toolErr := patch.Apply(current, changes)
	if toolErr != nil {
		return failure(requestID, start, toolErr)
	}

	if dryRun {
		return shapeEvolveResponse(requestID, start, entry.ReportID, result, responseDetail)
	}

	next, err := d.Storage.Mutate(entry.ReportID, requestID, outline.ActionEvolve, outline.ActorAgent, func(_ *outline.Outline) (*outline.Outline, interface{}, error) {
		return result.Outline, result.Summary, nil
	})
	if err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	result.Outline = next
	if err := d.syncIndexEntry(*entry, changes, result); err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	return shapeEvolveResponse(requestID, start, entry.ReportID, result, responseDetail)
}

// syncIndexEntry propagates a title_change/status_change onto the report's
// IndexEntry after a successful mutate, so search_report/Resolve stay
// consistent with the new title and renamed/archived/deleted reports
// remain findable (or correctly stop being findable) without a Rebuild.
func (d *Dispatcher) syncIndexEntry(entry outline.IndexEntry, changes *patch.ProposedChanges, result *patch.Result) error {
	if changes.TitleChange == "" && result.StatusChange == "" {
		return nil
	}
	if changes.TitleChange != "" {
		entry.CurrentTitle = changes.TitleChange
	}
	if result.StatusChange != "" {
		entry.Status = result.StatusChange
	}
	entry.UpdatedAt = time.Now().UTC()
	return d.Index.Update(entry)
}

func shapeEvolveResponse(requestID string, start time.Time, reportID string, result *patch.Result, responseDetail string) Envelope {
	data := map[string]interface{}{
		"report_id":      reportID,
		"outline_version": result.Outline.Version,
		"summary":        result.Summary,
	}
	var warnings []string
	if responseDetail == "standard" || responseDetail == "full" {
		data["ids_created"] = result.IDsCreated
		data["ids_removed"] = result.IDsRemoved
		warnings = result.Warnings
	}
	if responseDetail == "full" {
		data["changes_applied"] = result
	}
	return success(requestID, start, data, warnings)
}

// BatchOperation is one operation within an evolve_report_batch call.
type BatchOperation struct {
	ReportSelector  string
	Changes         *patch.ProposedChanges
	ExpectedVersion int
}

// EvolveReportBatch dispatches evolve_report_batch(operations[]): all
// operations are resolved and validated first, and only if every one passes
// validation are any of them written, so a selector or validation failure
// writes nothing. A write failure (I/O or lock timeout) on a later operation
// leaves the earlier operations committed.
func (d *Dispatcher) EvolveReportBatch(requestID string, operations []BatchOperation, responseDetail string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	type planned struct {
		entry   outline.IndexEntry
		current *outline.Outline
		changes *patch.ProposedChanges
	}
	plans := make([]planned, 0, len(operations))

	for _, op := range operations {
		entry, selErr := d.Index.Resolve(op.ReportSelector)
		if selErr != nil {
			return failure(requestID, start, selErr)
		}
		current, err := d.Storage.Read(entry.ReportID)
		if err != nil {
			return failure(requestID, start, asToolErr(err))
		}
		if op.ExpectedVersion != 0 && current.Version != op.ExpectedVersion {
			return failure(requestID, start, toolerr.VersionConflictErr(current.Version))
		}
		if toolErr := patch.Validate(current, op.Changes); toolErr != nil {
			return failure(requestID, start, toolErr)
		}
		plans = append(plans, planned{entry: *entry, current: current, changes: op.Changes})
	}

	results := make([]*patch.Result, 0, len(plans))
	for _, p := range plans {
		result, toolErr := patch.Apply(p.current, p.changes)
		if toolErr != nil {
			return failure(requestID, start, toolErr)
		}
		next, err := d.Storage.Mutate(p.entry.ReportID, requestID, outline.ActionEvolve, outline.ActorAgent, func(_ *outline.Outline) (*outline.Outline, interface{}, error) {
			return result.Outline, result.Summary, nil
		})
		if err != nil {
			return failure(requestID, start, asToolErr(err))
		}
		result.Outline = next
		if err := d.syncIndexEntry(p.entry, p.changes, result); err != nil {
			return failure(requestID, start, asToolErr(err))
		}
		results = append(results, result)
	}

	operationResults := make([]map[string]interface{}, 0, len(results))
	for i, result := range results {
		env := shapeEvolveResponse(requestID, start, plans[i].entry.ReportID, result, responseDetail)
		operationResults = append(operationResults, env.Data)
	}
	return success(requestID, start, map[string]interface{}{"operations": operationResults}, nil)
}

// GetReport dispatches get_report.
func (d *Dispatcher) GetReport(requestID, reportSelector string, mode retrieval.Mode, filters retrieval.Filters, pagination retrieval.Pagination) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	entry, selErr := d.Index.Resolve(reportSelector)
	if selErr != nil {
		return failure(requestID, start, selErr)
	}
	o, err := d.Storage.Read(entry.ReportID)
	if err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	res := retrieval.Get(o, mode, filters, pagination)
	return success(requestID, start, map[string]interface{}{
		"mode":          res.Mode,
		"summary":       res.Summary,
		"sections":      res.Sections,
		"insights":      res.Insights,
		"full":          res.Full,
		"total_matched": res.TotalMatched,
	}, nil)
}

// GetReportSchema dispatches get_report_schema.
func (d *Dispatcher) GetReportSchema(requestID string, format schema.Format) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	var payload interface{}
	switch format {
	case schema.FormatExamples:
		payload = schema.Examples()
	case schema.FormatCompact:
		payload = schema.Compact()
	default:
		payload = schema.JSONSchema()
	}
	return success(requestID, start, map[string]interface{}{"schema": payload}, nil)
}

// RenderReport dispatches render_report.
func (d *Dispatcher) RenderReport(requestID, reportSelector string, previewMaxChars int, includePreview bool) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	entry, selErr := d.Index.Resolve(reportSelector)
	if selErr != nil {
		return failure(requestID, start, selErr)
	}
	o, err := d.Storage.Read(entry.ReportID)
	if err != nil {
		return failure(requestID, start, asToolErr(err))
	}
	result, toolErr := render.Render(o, previewMaxChars)
	if toolErr != nil {
		return failure(requestID, start, toolErr)
	}
	data := map[string]interface{}{"qmd": result.QMD}
	if includePreview {
		data["preview"] = result.Preview
	}
	return success(requestID, start, data, nil)
}

// SearchReport dispatches search_report: title/tag substring search across
// the global index.
func (d *Dispatcher) SearchReport(requestID, titleContains string, tags []string) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	entries, err := d.Index.All()
	if err != nil {
		return failure(requestID, start, toolerr.New(toolerr.IOError, err.Error()))
	}
	var matches []outline.IndexEntry
	for _, e := range entries {
		if titleContains != "" && !strings.Contains(strings.ToLower(e.CurrentTitle), strings.ToLower(titleContains)) {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(e.Tags, tags) {
			continue
		}
		matches = append(matches, e)
	}
	return success(requestID, start, map[string]interface{}{"matches": matches, "matches_found": len(matches)}, nil)
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

// SearchCitations dispatches search_citations across every report's outline.
func (d *Dispatcher) SearchCitations(requestID string, reports retrieval.ReportOutlines, filters retrieval.CitationFilters, groupBy retrieval.GroupBy, pagination retrieval.Pagination) Envelope {
	requestID = requestIDOrNew(requestID)
	start := time.Now()

	res := retrieval.SearchCitations(reports, filters, groupBy, pagination)
	return success(requestID, start, map[string]interface{}{
		"matches_found":   res.MatchesFound,
		"returned":        res.Returned,
		"matches":         res.Matches,
		"grouped_results": res.GroupedResults,
	}, nil)
}

func asToolErr(err error) *toolerr.ToolError {
	if te, ok := err.(*toolerr.ToolError); ok {
		return te
	}
	return toolerr.New(toolerr.IOError, err.Error())
}
