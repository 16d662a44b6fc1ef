// Package retrieval implements CitationEngine and SelectiveRetrieval, per
// spec.md §4.7: keeping citations/supporting_queries in sync, cross-report
// citation search, and mode-based selective retrieval of a single outline.
package retrieval

import (
	"sort"
	"strings"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
)

// SyncCitations keeps an insight's Citations and SupportingQueries aligned:
// writing either field updates the other, per spec.md §4.7. SupportingQueries
// is the legacy query-only view of Citations (source == query); Citations is
// the modern multi-source superset.
func SyncCitations(ins *outline.Insight) {
	if len(ins.SupportingQueries) > 0 && len(ins.Citations) == 0 {
		ins.Citations = append([]outline.Citation(nil), ins.SupportingQueries...)
	}
	queryOnly := make([]outline.Citation, 0, len(ins.Citations))
	for _, c := range ins.Citations {
		if c.Source == outline.CitationQuery {
			queryOnly = append(queryOnly, c)
		}
	}
	ins.SupportingQueries = queryOnly
}

// Mode selects the shape of SelectiveRetrieval.Get's response.
type Mode string

const (
	ModeSummary  Mode = "summary"
	ModeSections Mode = "sections"
	ModeInsights Mode = "insights"
	ModeFull     Mode = "full"
)

// Filters narrows a SelectiveRetrieval.Get call.
type Filters struct {
	SectionIDs    []string
	SectionTitles []string
	InsightIDs    []string
	MinImportance int
}

// Pagination bounds the returned list; TotalMatched always reflects the
// pre-pagination count.
type Pagination struct {
	Limit  int
	Offset int
}

func (p Pagination) normalized() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = 50
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SummaryResult is the ModeSummary response shape.
type SummaryResult struct {
	SectionCount      int      `json:"section_count"`
	InsightCount      int      `json:"insight_count"`
	SectionTitles     []string `json:"section_titles"`
	TopInsights       []outline.Insight `json:"top_insights"`
}

// GetResult is the unified return value across all modes; only the field
// relevant to the requested mode is populated.
type GetResult struct {
	Mode         Mode
	Summary      *SummaryResult
	Sections     []outline.Section
	Insights     []outline.Insight
	Full         *outline.Outline
	TotalMatched int
	AuditEvents  []outline.AuditEvent
}

// Get implements SelectiveRetrieval.get, per spec.md §4.7.
func Get(o *outline.Outline, mode Mode, filters Filters, pagination Pagination) GetResult {
	switch mode {
	case ModeSections:
		return getSections(o, filters, pagination)
	case ModeInsights:
		return getInsights(o, filters, pagination)
	case ModeFull:
		return GetResult{Mode: ModeFull, Full: o, TotalMatched: len(o.Sections)}
	default:
		return getSummary(o)
	}
}

func getSummary(o *outline.Outline) GetResult {
	titles := make([]string, len(o.Sections))
	for i, s := range o.Sections {
		titles[i] = s.Title
	}
	top := append([]outline.Insight(nil), o.Insights...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Importance > top[j].Importance })
	if len(top) > 5 {
		top = top[:5]
	}
	return GetResult{
		Mode: ModeSummary,
		Summary: &SummaryResult{
			SectionCount:  len(o.Sections),
			InsightCount:  len(o.Insights),
			SectionTitles: titles,
			TopInsights:   top,
		},
		TotalMatched: len(o.Sections),
	}
}

func getSections(o *outline.Outline, filters Filters, pagination Pagination) GetResult {
	matched := filterSections(o.Sections, filters)
	total := len(matched)
	limit, offset := pagination.normalized()
	matched = paginateSections(matched, offset, limit)
	return GetResult{Mode: ModeSections, Sections: matched, TotalMatched: total}
}

func filterSections(sections []outline.Section, filters Filters) []outline.Section {
	if len(filters.SectionIDs) == 0 && len(filters.SectionTitles) == 0 {
		return append([]outline.Section(nil), sections...)
	}
	idSet := make(map[string]bool, len(filters.SectionIDs))
	for _, id := range filters.SectionIDs {
		idSet[id] = true
	}
	var out []outline.Section
	for _, s := range sections {
		if idSet[s.SectionID] {
			out = append(out, s)
			continue
		}
		for _, t := range filters.SectionTitles {
			if strings.Contains(strings.ToLower(s.Title), strings.ToLower(t)) {
				out = append(out, s)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i].Order, out[j].Order
		if oi != nil && oj != nil && *oi != *oj {
			return *oi < *oj
		}
		if oi != nil && oj == nil {
			return true
		}
		if oi == nil && oj != nil {
			return false
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func paginateSections(sections []outline.Section, offset, limit int) []outline.Section {
	if offset >= len(sections) {
		return []outline.Section{}
	}
	end := offset + limit
	if end > len(sections) {
		end = len(sections)
	}
	return sections[offset:end]
}

func getInsights(o *outline.Outline, filters Filters, pagination Pagination) GetResult {
	var matched []outline.Insight
	idSet := make(map[string]bool, len(filters.InsightIDs))
	for _, id := range filters.InsightIDs {
		idSet[id] = true
	}
	sectionSet := make(map[string]bool, len(filters.SectionIDs))
	for _, id := range filters.SectionIDs {
		sectionSet[id] = true
	}
	insightInSection := map[string]bool{}
	if len(sectionSet) > 0 {
		for _, s := range o.Sections {
			if sectionSet[s.SectionID] {
				for _, id := range s.InsightIDs {
					insightInSection[id] = true
				}
			}
		}
	}

	for _, ins := range o.Insights {
		if len(idSet) > 0 && !idSet[ins.InsightID] {
			continue
		}
		if len(sectionSet) > 0 && !insightInSection[ins.InsightID] {
			continue
		}
		if ins.Importance < filters.MinImportance {
			continue
		}
		matched = append(matched, ins)
	}

	total := len(matched)
	limit, offset := pagination.normalized()
	if offset >= len(matched) {
		matched = []outline.Insight{}
	} else {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[offset:end]
	}
	return GetResult{Mode: ModeInsights, Insights: matched, TotalMatched: total}
}

// CitationMatch is one row in a cross-report citation search result.
type CitationMatch struct {
	Citation outline.Citation `json:"citation"`
	Insight  outline.Insight  `json:"insight"`
	ReportID string           `json:"report_id"`
}

// CitationFilters narrows SearchCitations across reports.
type CitationFilters struct {
	Source              outline.CitationSource
	Provider            string
	URLSubstring        string
	DescriptionSubstring string
	ExecutionID         string
}

func (f CitationFilters) matches(c outline.Citation) bool {
	if f.Source != "" && c.Source != f.Source {
		return false
	}
	if f.Provider != "" && c.Provider != f.Provider {
		return false
	}
	if f.URLSubstring != "" && !strings.Contains(strings.ToLower(c.URL), strings.ToLower(f.URLSubstring)) {
		return false
	}
	if f.DescriptionSubstring != "" && !strings.Contains(strings.ToLower(c.Description), strings.ToLower(f.DescriptionSubstring)) {
		return false
	}
	if f.ExecutionID != "" && c.ExecutionID != f.ExecutionID {
		return false
	}
	return true
}

// GroupBy controls optional aggregation of SearchCitations results.
type GroupBy string

const (
	GroupBySource   GroupBy = "source"
	GroupByProvider GroupBy = "provider"
)

// SearchResult is the SearchCitations response shape.
type SearchResult struct {
	MatchesFound   int                      `json:"matches_found"`
	Returned       int                      `json:"returned"`
	Matches        []CitationMatch          `json:"matches"`
	GroupedResults map[string][]CitationMatch `json:"grouped_results,omitempty"`
}

// ReportOutlines maps a report id to its outline, the input shape
// SearchCitations sweeps across.
type ReportOutlines map[string]*outline.Outline

// SearchCitations searches citations across every report's outline,
// per spec.md §4.7.
func SearchCitations(reports ReportOutlines, filters CitationFilters, groupBy GroupBy, pagination Pagination) SearchResult {
	var all []CitationMatch
	reportIDs := make([]string, 0, len(reports))
	for id := range reports {
		reportIDs = append(reportIDs, id)
	}
	sort.Strings(reportIDs)

	for _, reportID := range reportIDs {
		o := reports[reportID]
		for _, ins := range o.Insights {
			for _, c := range ins.Citations {
				if filters.matches(c) {
					all = append(all, CitationMatch{Citation: c, Insight: ins, ReportID: reportID})
				}
			}
		}
	}

	total := len(all)
	limit, offset := pagination.normalized()
	page := all
	if offset >= len(page) {
		page = []CitationMatch{}
	} else {
		end := offset + limit
		if end > len(page) {
			end = len(page)
		}
		page = page[offset:end]
	}

	result := SearchResult{MatchesFound: total, Returned: len(page), Matches: page}
	if groupBy != "" {
		result.GroupedResults = groupMatches(page, groupBy)
	}
	return result
}

func groupMatches(matches []CitationMatch, groupBy GroupBy) map[string][]CitationMatch {
	grouped := map[string][]CitationMatch{}
	for _, m := range matches {
		var key string
		switch groupBy {
		case GroupByProvider:
			key = m.Citation.Provider
		default:
			key = string(m.Citation.Source)
		}
		grouped[key] = append(grouped[key], m)
	}
	return grouped
}
