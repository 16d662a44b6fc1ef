// Package outline defines the ReportOutline data model — the machine-truth
// layer of a Living Report — per spec.md §3.1. Struct/JSON-tag and
// enum-as-string-const conventions are grounded on pkg/models.Agent /
// pkg/models.AgentStatus in the teacher.
package outline

import "time"

// Status is the lifecycle state of a report.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// InsightStatus is the lifecycle state of a single insight.
type InsightStatus string

const (
	InsightActive   InsightStatus = "active"
	InsightArchived InsightStatus = "archived"
	InsightKilled   InsightStatus = "killed"
)

// ContentFormat is the encoding of a section's free-form prose.
type ContentFormat string

const (
	ContentMarkdown ContentFormat = "markdown"
	ContentText     ContentFormat = "text"
	ContentHTML     ContentFormat = "html"
)

// CitationSource is the tagged-union discriminator for Citation.
type CitationSource string

const (
	CitationQuery       CitationSource = "query"
	CitationAPI         CitationSource = "api"
	CitationURL         CitationSource = "url"
	CitationObservation CitationSource = "observation"
	CitationDocument    CitationSource = "document"
)

// ChartFormat enumerates supported chart image formats.
type ChartFormat string

const (
	ChartPNG  ChartFormat = "png"
	ChartJPG  ChartFormat = "jpg"
	ChartJPEG ChartFormat = "jpeg"
	ChartSVG  ChartFormat = "svg"
	ChartGIF  ChartFormat = "gif"
	ChartWebP ChartFormat = "webp"
)

// Chart size limits, per spec.md §3.1.
const (
	ChartSoftWarn1Bytes = 5 * 1024 * 1024
	ChartSoftWarn2Bytes = 10 * 1024 * 1024
	ChartHardLimitBytes = 50 * 1024 * 1024
)

// Citation is a tagged union on Source. Only the fields relevant to the
// active Source are expected to be populated; all are optional except
// where a source requires them (enforced by the patch engine, not here).
type Citation struct {
	Source CitationSource `json:"source"`

	// query
	Provider      string `json:"provider,omitempty"`
	ExecutionID   string `json:"execution_id,omitempty"`
	QueryID       string `json:"query_id,omitempty"`
	SQLSha256     string `json:"sql_sha256,omitempty"`
	CacheManifest string `json:"cache_manifest,omitempty"`

	// api
	Endpoint     string `json:"endpoint,omitempty"`
	ResponseHash string `json:"response_hash,omitempty"`

	// url
	URL        string     `json:"url,omitempty"`
	Title      string     `json:"title,omitempty"`
	AccessedAt *time.Time `json:"accessed_at,omitempty"`

	// observation
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	// document
	Path string `json:"path,omitempty"`
	Page int    `json:"page,omitempty"`

	// shared
	Description string `json:"description,omitempty"`
}

// Chart is a report asset referenced by one or more insights.
type Chart struct {
	ChartID          string      `json:"chart_id"`
	Path             string      `json:"path"`
	Format           ChartFormat `json:"format"`
	SizeBytes        int64       `json:"size_bytes"`
	CreatedAt        time.Time   `json:"created_at"`
	LinkedInsightIDs []string    `json:"linked_insight_ids,omitempty"`
	Source           string      `json:"source,omitempty"`
	Description      string      `json:"description,omitempty"`
}

// InsightMetadata holds optional per-insight metadata.
type InsightMetadata struct {
	ChartID string `json:"chart_id,omitempty"`
}

// Insight is a short, importance-scored finding backed by at least one
// citation (for citation-enforcing templates).
type Insight struct {
	InsightID          string          `json:"insight_id"`
	Summary            string          `json:"summary"`
	Importance         int             `json:"importance"`
	Status             InsightStatus   `json:"status"`
	Citations          []Citation      `json:"citations,omitempty"`
	SupportingQueries  []Citation      `json:"supporting_queries,omitempty"`
	Metadata           InsightMetadata `json:"metadata,omitempty"`
}

// Section groups insights under a title, optionally ordered.
type Section struct {
	SectionID     string        `json:"section_id"`
	Title         string        `json:"title"`
	Order         *int          `json:"order,omitempty"`
	InsightIDs    []string      `json:"insight_ids,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Content       string        `json:"content,omitempty"`
	ContentFormat ContentFormat `json:"content_format,omitempty"`
	Metadata      string        `json:"metadata,omitempty"` // category tag used by templates
}

// Metadata holds outline-level metadata.
type Metadata struct {
	Template                   string            `json:"template"`
	ExecutiveSummaryInsightIDs []string          `json:"executive_summary_insight_ids,omitempty"`
	Tags                       map[string]string `json:"tags,omitempty"`
}

// Outline is the canonical machine-truth state of a report.
type Outline struct {
	Version  int              `json:"version"`
	Sections []Section        `json:"sections"`
	Insights []Insight        `json:"insights"`
	Metadata Metadata         `json:"metadata"`
	Charts   map[string]Chart `json:"charts,omitempty"`
}

// New creates an empty outline at version 1 (spec.md §3.1 lifecycle: "seeds
// ... writes the initial outline").
func New(template string) *Outline {
	return &Outline{
		Version:  1,
		Sections: []Section{},
		Insights: []Insight{},
		Metadata: Metadata{Template: template},
		Charts:   map[string]Chart{},
	}
}

// Clone returns a deep-enough copy for safe mutation during PatchEngine
// apply (so a rejected post-apply validation can be discarded without
// corrupting the caller's in-memory state).
func (o *Outline) Clone() *Outline {
	clone := &Outline{
		Version:  o.Version,
		Metadata: o.Metadata,
	}
	clone.Sections = append([]Section(nil), o.Sections...)
	for i := range clone.Sections {
		clone.Sections[i].InsightIDs = append([]string(nil), o.Sections[i].InsightIDs...)
	}
	clone.Insights = append([]Insight(nil), o.Insights...)
	for i := range clone.Insights {
		clone.Insights[i].Citations = append([]Citation(nil), o.Insights[i].Citations...)
		clone.Insights[i].SupportingQueries = append([]Citation(nil), o.Insights[i].SupportingQueries...)
	}
	clone.Charts = make(map[string]Chart, len(o.Charts))
	for k, v := range o.Charts {
		clone.Charts[k] = v
	}
	if o.Metadata.Tags != nil {
		clone.Metadata.Tags = make(map[string]string, len(o.Metadata.Tags))
		for k, v := range o.Metadata.Tags {
			clone.Metadata.Tags[k] = v
		}
	}
	clone.Metadata.ExecutiveSummaryInsightIDs = append([]string(nil), o.Metadata.ExecutiveSummaryInsightIDs...)
	return clone
}

// FindInsight returns a pointer into o.Insights for in-place mutation.
func (o *Outline) FindInsight(id string) *Insight {
	for i := range o.Insights {
		if o.Insights[i].InsightID == id {
			return &o.Insights[i]
		}
	}
	return nil
}

// FindSection returns a pointer into o.Sections for in-place mutation.
func (o *Outline) FindSection(id string) *Section {
	for i := range o.Sections {
		if o.Sections[i].SectionID == id {
			return &o.Sections[i]
		}
	}
	return nil
}

// RequiresCitations reports whether the outline's template enforces the
// citation invariant from spec.md §3.1 / §8.8.
func (o *Outline) RequiresCitations() bool {
	return o.Metadata.Template == "analyst_v1"
}

// Report is the root identity that owns an Outline, per spec.md §3.1.
type Report struct {
	ReportID     string    `json:"report_id"`
	CurrentTitle string    `json:"current_title"`
	Status       Status    `json:"status"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Path         string    `json:"path"`
	Template     string    `json:"template"`
}

// IndexEntry is the flattened projection stored in the global report index.
type IndexEntry struct {
	ReportID     string    `json:"report_id"`
	CurrentTitle string    `json:"current_title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Tags         []string  `json:"tags,omitempty"`
	Status       Status    `json:"status"`
	Path         string    `json:"path"`
}

// AuditActor enumerates who performed an action.
type AuditActor string

const (
	ActorCLI   AuditActor = "cli"
	ActorAgent AuditActor = "agent"
	ActorHuman AuditActor = "human"
)

// AuditActionType enumerates AuditEvent.action_type values.
type AuditActionType string

const (
	ActionCreate               AuditActionType = "create"
	ActionEvolve               AuditActionType = "evolve"
	ActionRevert               AuditActionType = "revert"
	ActionRender               AuditActionType = "render"
	ActionRename               AuditActionType = "rename"
	ActionTagUpdate            AuditActionType = "tag_update"
	ActionStatusChange         AuditActionType = "status_change"
	ActionManualEditDetected   AuditActionType = "manual_edit_detected"
)

// AuditEvent is an immutable, append-only record of a state change.
type AuditEvent struct {
	ActionID           string          `json:"action_id"`
	ReportID           string          `json:"report_id"`
	Ts                 time.Time       `json:"ts"`
	Actor              AuditActor      `json:"actor"`
	ActionType         AuditActionType `json:"action_type"`
	BeforeOutlineSha256 string         `json:"before_outline_sha256"`
	AfterOutlineSha256  string         `json:"after_outline_sha256"`
	Payload            interface{}     `json:"payload,omitempty"`
	RequestID          string          `json:"request_id,omitempty"`
	// BeforeOutlineSnapshot carries an inline pre-image for outlines below
	// the size threshold recorded in storage.snapshotSizeThreshold, so
	// revert can rebuild without depending on a backup file still
	// existing; above the threshold this is nil and revert falls back to
	// the backup written just before the event's own backup (spec.md §4.5
	// Revert).
	BeforeOutlineSnapshot *Outline `json:"before_outline_snapshot,omitempty"`
}
