// Package render implements the Renderer: translating a ReportOutline into
// markdown/qmd per template, per spec.md §4.8. Generation uses stdlib
// text/template — the pack's markdown libraries (e.g. charmbracelet/glamour)
// only terminal-render already-written markdown, they don't generate it, so
// there is no ecosystem library to reach for here.
package render

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

// Format is the render_report output format.
type Format string

const (
	FormatHTML           Format = "html"
	FormatPDF            Format = "pdf"
	FormatMarkdown       Format = "md"
	FormatDocx           Format = "docx"
	FormatHTMLStandalone Format = "html_standalone"
)

const (
	defaultPreviewMaxChars = 2000
	minPreviewMaxChars     = 100
	maxPreviewMaxChars     = 10000
)

// analystSectionOrder is the fixed section ordering analyst_v1 enforces,
// per spec.md §4.8.
var analystSectionOrder = []string{
	"Executive Summary",
	"Network Activity",
	"DEX Trading",
	"Objects",
	"Events",
	"Appendix: Query References",
}

// Result is what Render returns before a Typesetter conversion step.
type Result struct {
	QMD     string
	Preview string
}

var sectionTmpl = template.Must(template.New("section").Parse(
	`## {{.Title}}
{{range .Bullets}}- {{.}}
{{end}}`))

// Render translates an outline into qmd/markdown under the given template
// name, per spec.md §4.8.
func Render(o *outline.Outline, previewMaxChars int) (*Result, *toolerr.ToolError) {
	if previewMaxChars <= 0 {
		previewMaxChars = defaultPreviewMaxChars
	}
	if previewMaxChars < minPreviewMaxChars || previewMaxChars > maxPreviewMaxChars {
		return nil, toolerr.ValidationFailedf("preview_max_chars", previewMaxChars, defaultPreviewMaxChars,
			"preview_max_chars must be within [%d, %d]", minPreviewMaxChars, maxPreviewMaxChars)
	}

	var qmd string
	var toolErr *toolerr.ToolError
	if o.Metadata.Template == "analyst_v1" {
		qmd, toolErr = renderAnalyst(o)
	} else {
		qmd = renderDefault(o)
	}
	if toolErr != nil {
		return nil, toolErr
	}

	preview := qmd
	if len(preview) > previewMaxChars {
		preview = preview[:previewMaxChars]
	}
	return &Result{QMD: qmd, Preview: preview}, nil
}

func renderDefault(o *outline.Outline) string {
	insightByID := make(map[string]outline.Insight, len(o.Insights))
	for _, ins := range o.Insights {
		insightByID[ins.InsightID] = ins
	}

	sections := append([]outline.Section(nil), o.Sections...)
	sort.SliceStable(sections, func(i, j int) bool {
		oi, oj := sections[i].Order, sections[j].Order
		if oi != nil && oj != nil && *oi != *oj {
			return *oi < *oj
		}
		if oi != nil && oj == nil {
			return true
		}
		if oi == nil && oj != nil {
			return false
		}
		return sections[i].Title < sections[j].Title
	})

	var sb strings.Builder
	for _, s := range sections {
		bullets := make([]string, 0, len(s.InsightIDs))
		for _, id := range s.InsightIDs {
			if ins, ok := insightByID[id]; ok && ins.Status == outline.InsightActive {
				bullets = append(bullets, ins.Summary)
			}
		}
		sectionTmpl.Execute(&sb, struct {
			Title   string
			Bullets []string
		}{Title: s.Title, Bullets: bullets})
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderAnalyst enforces a fixed section order and assigns stable [N]
// citation markers by first-appearance order keyed by execution_id, so
// markers stay stable across rerenders, per spec.md §4.8.
func renderAnalyst(o *outline.Outline) (string, *toolerr.ToolError) {
	insightByID := make(map[string]outline.Insight, len(o.Insights))
	for _, ins := range o.Insights {
		insightByID[ins.InsightID] = ins
	}
	sectionByTitle := make(map[string]outline.Section, len(o.Sections))
	for _, s := range o.Sections {
		sectionByTitle[s.Title] = s
	}

	markerOf := map[string]int{}
	var citationOrder []outline.Citation
	nextMarker := 1
	assignMarker := func(c outline.Citation) int {
		key := c.ExecutionID
		if key == "" {
			key = c.URL + c.Endpoint + c.Path
		}
		if n, ok := markerOf[key]; ok {
			return n
		}
		markerOf[key] = nextMarker
		citationOrder = append(citationOrder, c)
		nextMarker++
		return markerOf[key]
	}

	var sb strings.Builder
	for _, title := range analystSectionOrder {
		s, ok := sectionByTitle[title]
		sb.WriteString("## " + title + "\n")
		if !ok {
			sb.WriteString("\n")
			continue
		}
		for _, id := range s.InsightIDs {
			ins, found := insightByID[id]
			if !found || ins.Status != outline.InsightActive {
				continue
			}
			if len(ins.Citations) == 0 {
				return "", toolerr.New(toolerr.ValidationFailed,
					fmt.Sprintf("insight %s has no citations but analyst_v1 requires one per insight", ins.InsightID))
			}
			markers := make([]string, 0, len(ins.Citations))
			for _, c := range ins.Citations {
				markers = append(markers, fmt.Sprintf("[%d]", assignMarker(c)))
			}
			sb.WriteString("- " + ins.Summary + " " + strings.Join(markers, "") + "\n")
		}
		sb.WriteString("\n")
	}

	// The appendix heading was already written as the last entry of
	// analystSectionOrder; the citation list follows it directly.
	bySource := map[outline.CitationSource][]int{}
	for i := range citationOrder {
		bySource[citationOrder[i].Source] = append(bySource[citationOrder[i].Source], i)
	}
	sourceOrder := []outline.CitationSource{
		outline.CitationQuery, outline.CitationAPI, outline.CitationURL,
		outline.CitationObservation, outline.CitationDocument,
	}
	for _, src := range sourceOrder {
		idxs, ok := bySource[src]
		if !ok {
			continue
		}
		sb.WriteString("### " + string(src) + "\n")
		for _, i := range idxs {
			c := citationOrder[i]
			sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, describeCitation(c)))
		}
	}

	return sb.String(), nil
}

func describeCitation(c outline.Citation) string {
	switch c.Source {
	case outline.CitationQuery:
		return "query execution_id=" + c.ExecutionID + " sha256=" + c.SQLSha256
	case outline.CitationURL:
		return c.URL
	case outline.CitationAPI:
		return c.Endpoint
	case outline.CitationDocument:
		return c.Path
	default:
		return c.Description
	}
}

// EmbedChart returns the image fragment for a chart under the given
// format: a base64 data URI for html_standalone, an absolute path
// reference otherwise, per spec.md §4.8.
func EmbedChart(chart outline.Chart, format Format, reportRoot string) (string, error) {
	if format != FormatHTMLStandalone {
		return chart.Path, nil
	}
	b, err := os.ReadFile(chart.Path)
	if err != nil {
		return "", fmt.Errorf("embed chart %s: %w", chart.ChartID, err)
	}
	mime := mimeFor(chart.Format)
	encoded := base64.StdEncoding.EncodeToString(b)
	return fmt.Sprintf("data:%s;base64,%s", mime, encoded), nil
}

func mimeFor(format outline.ChartFormat) string {
	switch format {
	case outline.ChartPNG:
		return "image/png"
	case outline.ChartJPG, outline.ChartJPEG:
		return "image/jpeg"
	case outline.ChartSVG:
		return "image/svg+xml"
	case outline.ChartGIF:
		return "image/gif"
	case outline.ChartWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
