package render

import (
	"strings"
	"testing"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
)

func TestRenderDefaultOrdersSectionsExplicitly(t *testing.T) {
	o := outline.New("default")
	order0, order1 := 1, 0
	o.Sections = []outline.Section{
		{SectionID: "sec1", Title: "Second In Text Order", Order: &order0},
		{SectionID: "sec2", Title: "First By Order Field", Order: &order1},
	}
	res, err := Render(o, 0)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Index(res.QMD, "First By Order Field") > strings.Index(res.QMD, "Second In Text Order") {
		t.Errorf("expected sections ordered by explicit Order field, got:\n%s", res.QMD)
	}
}

func TestRenderDefaultSortsMissingOrderLast(t *testing.T) {
	o := outline.New("default")
	order := 1
	o.Sections = []outline.Section{
		{SectionID: "sec1", Title: "No Explicit Order", Order: nil},
		{SectionID: "sec2", Title: "Has Explicit Order", Order: &order},
	}
	res, err := Render(o, 0)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Index(res.QMD, "Has Explicit Order") > strings.Index(res.QMD, "No Explicit Order") {
		t.Errorf("expected the section with an explicit Order to sort before one with no Order, got:\n%s", res.QMD)
	}
}

func TestRenderAnalystRequiresCitations(t *testing.T) {
	o := outline.New("analyst_v1")
	o.Insights = []outline.Insight{{InsightID: "ins1", Summary: "uncited", Status: outline.InsightActive}}
	o.Sections = []outline.Section{{SectionID: "sec1", Title: "Network Activity", InsightIDs: []string{"ins1"}}}

	_, toolErr := Render(o, 0)
	if toolErr == nil {
		t.Fatal("expected validation error for missing citation under analyst_v1")
	}
}

func TestRenderAnalystAssignsStableMarkers(t *testing.T) {
	o := outline.New("analyst_v1")
	o.Insights = []outline.Insight{
		{InsightID: "ins1", Summary: "finding A", Status: outline.InsightActive,
			Citations: []outline.Citation{{Source: outline.CitationQuery, ExecutionID: "exec1"}}},
		{InsightID: "ins2", Summary: "finding B", Status: outline.InsightActive,
			Citations: []outline.Citation{{Source: outline.CitationQuery, ExecutionID: "exec1"}}},
	}
	o.Sections = []outline.Section{
		{SectionID: "sec1", Title: "Network Activity", InsightIDs: []string{"ins1", "ins2"}},
	}
	res, err := Render(o, 0)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	// Two insight bullets reuse [1], and the appendix lists the single
	// citation once as "[1] ...".
	if strings.Count(res.QMD, "[1]") != 3 {
		t.Errorf("expected the same execution_id to reuse marker [1] on both insights plus one appendix entry, got:\n%s", res.QMD)
	}
}

func TestRenderPreviewTruncation(t *testing.T) {
	o := outline.New("default")
	long := strings.Repeat("x", 500)
	o.Sections = []outline.Section{{SectionID: "sec1", Title: long}}
	res, err := Render(o, 100)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(res.Preview) != 100 {
		t.Errorf("expected preview truncated to 100 chars, got %d", len(res.Preview))
	}
}

func TestRenderRejectsOutOfRangePreview(t *testing.T) {
	o := outline.New("default")
	_, toolErr := Render(o, 50)
	if toolErr == nil {
		t.Fatal("expected validation error for preview_max_chars below minimum")
	}
}
