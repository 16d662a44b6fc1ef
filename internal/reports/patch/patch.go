// Package patch implements the PatchEngine: validation and application of
// ProposedChanges against a ReportOutline, per spec.md §4.6. The ten
// operation kinds are applied in a fixed order so cross-references within a
// single patch resolve consistently; dispatch follows the
// switch-on-discriminator idiom the teacher uses for guardrail evaluation.
package patch

import (
	"github.com/google/uuid"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

// InsightInput is the payload for a newly created insight, either
// standalone (InsightsToAdd) or inline under a section.
type InsightInput struct {
	SectionID         string             `json:"section_id,omitempty"`
	InsightID         string             `json:"insight_id,omitempty"`
	Summary           string             `json:"summary"`
	Importance        int                `json:"importance"`
	Citations         []outline.Citation `json:"citations,omitempty"`
	SupportingQueries []outline.Citation `json:"supporting_queries,omitempty"`
}

// InsightModify carries partial-update fields for an existing insight.
type InsightModify struct {
	InsightID         string              `json:"insight_id"`
	Summary           *string             `json:"summary,omitempty"`
	Importance        *int                `json:"importance,omitempty"`
	Status            *outline.InsightStatus `json:"status,omitempty"`
	Citations         []outline.Citation  `json:"citations,omitempty"`
	SupportingQueries []outline.Citation  `json:"supporting_queries,omitempty"`
}

// SectionInput is the payload for a newly created section.
type SectionInput struct {
	SectionID     string                `json:"section_id,omitempty"`
	Title         string                `json:"title"`
	Order         *int                  `json:"order,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	Content       string                `json:"content,omitempty"`
	ContentFormat outline.ContentFormat `json:"content_format,omitempty"`
	Insights      []InsightInput        `json:"insights,omitempty"`
}

// SectionModify carries partial-update fields plus insight-link changes.
type SectionModify struct {
	SectionID          string                 `json:"section_id"`
	Title              *string                `json:"title,omitempty"`
	Order              *int                   `json:"order,omitempty"`
	Notes              *string                `json:"notes,omitempty"`
	Content            *string                `json:"content,omitempty"`
	ContentFormat      *outline.ContentFormat `json:"content_format,omitempty"`
	InsightIDsToAdd    []string               `json:"insight_ids_to_add,omitempty"`
	InsightIDsToRemove []string               `json:"insight_ids_to_remove,omitempty"`
	Insights           []InsightInput         `json:"insights,omitempty"`
}

// ProposedChanges is the tagged patch record accepted by evolve_report.
type ProposedChanges struct {
	InsightsToAdd      []InsightInput     `json:"insights_to_add,omitempty"`
	InsightsToModify   []InsightModify    `json:"insights_to_modify,omitempty"`
	InsightsToRemove   []string           `json:"insights_to_remove,omitempty"`
	SectionsToAdd      []SectionInput     `json:"sections_to_add,omitempty"`
	SectionsToModify   []SectionModify    `json:"sections_to_modify,omitempty"`
	SectionsToRemove   []string           `json:"sections_to_remove,omitempty"`
	StatusChange       outline.Status     `json:"status_change,omitempty"`
	MetadataUpdates    map[string]string  `json:"metadata_updates,omitempty"`
	TitleChange        string             `json:"title_change,omitempty"`
}

// Summary counts every creation/removal path touched by an apply, including
// inline insights nested under sections_to_add/sections_to_modify.
type Summary struct {
	SectionsAdded    int `json:"sections_added,omitempty"`
	SectionsRemoved  int `json:"sections_removed,omitempty"`
	InsightsAdded    int `json:"insights_added,omitempty"`
	InsightsModified int `json:"insights_modified,omitempty"`
	InsightsRemoved  int `json:"insights_removed,omitempty"`
}

// Result is what Apply returns: the new outline plus bookkeeping for the
// response envelope's various response_detail levels.
type Result struct {
	Outline          *outline.Outline
	Summary          Summary
	IDsCreated       []string
	IDsRemoved       []string
	Warnings         []string
	StatusChange     outline.Status
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Validate runs the pre-apply checks from spec.md §4.6. It does not modify
// changes: defaulting supporting_queries to [] and assigning missing ids
// happen in Apply.
func Validate(current *outline.Outline, changes *ProposedChanges) *toolerr.ToolError {
	hasContentOp := len(changes.InsightsToAdd) > 0 || len(changes.InsightsToModify) > 0 ||
		len(changes.InsightsToRemove) > 0 || len(changes.SectionsToAdd) > 0 ||
		len(changes.SectionsToModify) > 0 || len(changes.SectionsToRemove) > 0 ||
		changes.TitleChange != "" || len(changes.MetadataUpdates) > 0

	if changes.StatusChange != "" && hasContentOp {
		return toolerr.ValidationFailedf("status_change", changes.StatusChange, "{\"status_change\":\"archived\"}",
			"status_change must not be combined with content operations")
	}
	if changes.StatusChange != "" {
		switch changes.StatusChange {
		case outline.StatusActive, outline.StatusArchived, outline.StatusDeleted:
		default:
			return toolerr.ValidationFailedf("status_change", changes.StatusChange, "active|archived|deleted",
				"unknown status %q", changes.StatusChange)
		}
	}

	requiresCitation := current.RequiresCitations()

	for i, ins := range changes.InsightsToAdd {
		if ins.SectionID != "" && current.FindSection(ins.SectionID) == nil {
			return toolerr.ValidationFailedf("insights_to_add[].section_id", ins.SectionID,
				"an existing section_id", "insights_to_add[%d] references unknown section_id %q", i, ins.SectionID)
		}
		if ins.Summary == "" {
			return toolerr.ValidationFailedf("insights_to_add[].summary", ins.Summary, "\"non-empty string\"",
				"insights_to_add[%d] is missing summary", i)
		}
		if requiresCitation && len(ins.Citations) == 0 {
			return toolerr.ValidationFailedf("insights_to_add[].citations", ins.Citations,
				"[{\"source\":\"query\",\"execution_id\":\"...\"}]",
				"insights_to_add[%d] requires at least one citation for this template", i)
		}
	}

	for i, m := range changes.InsightsToModify {
		if m.InsightID == "" || current.FindInsight(m.InsightID) == nil {
			return toolerr.ValidationFailedf("insights_to_modify[].insight_id", m.InsightID, "an existing insight_id",
				"insights_to_modify[%d] references unknown insight_id %q", i, m.InsightID)
		}
		if m.Summary == nil && m.Importance == nil && m.Status == nil && m.Citations == nil && m.SupportingQueries == nil {
			return toolerr.ValidationFailedf("insights_to_modify[]", m, "{\"insight_id\":\"...\",\"importance\":5}",
				"insights_to_modify[%d] has no non-id fields to apply", i)
		}
	}

	for i, id := range changes.InsightsToRemove {
		if current.FindInsight(id) == nil {
			return toolerr.ValidationFailedf("insights_to_remove[]", id, "an existing insight_id",
				"insights_to_remove[%d] references unknown insight_id %q", i, id)
		}
	}

	for i, sec := range changes.SectionsToAdd {
		if sec.Title == "" {
			return toolerr.ValidationFailedf("sections_to_add[].title", sec.Title, "\"non-empty string\"",
				"sections_to_add[%d] is missing title", i)
		}
		for j, ins := range sec.Insights {
			if ins.Summary == "" {
				return toolerr.ValidationFailedf("sections_to_add[].insights[].summary", ins.Summary, "\"non-empty string\"",
					"sections_to_add[%d].insights[%d] is missing summary", i, j)
			}
			if requiresCitation && len(ins.Citations) == 0 {
				return toolerr.ValidationFailedf("sections_to_add[].insights[].citations", ins.Citations,
					"[{\"source\":\"query\",\"execution_id\":\"...\"}]",
					"sections_to_add[%d].insights[%d] requires at least one citation for this template", i, j)
			}
		}
	}

	for i, sec := range changes.SectionsToModify {
		if sec.SectionID == "" || current.FindSection(sec.SectionID) == nil {
			return toolerr.ValidationFailedf("sections_to_modify[].section_id", sec.SectionID, "an existing section_id",
				"sections_to_modify[%d] references unknown section_id %q", i, sec.SectionID)
		}
		noField := sec.Title == nil && sec.Order == nil && sec.Notes == nil && sec.Content == nil &&
			sec.ContentFormat == nil && len(sec.InsightIDsToAdd) == 0 && len(sec.InsightIDsToRemove) == 0 &&
			len(sec.Insights) == 0
		if noField {
			return toolerr.ValidationFailedf("sections_to_modify[]", sec, "{\"section_id\":\"...\",\"title\":\"...\"}",
				"sections_to_modify[%d] has no non-id fields to apply", i)
		}
		for _, id := range sec.InsightIDsToAdd {
			if current.FindInsight(id) == nil {
				return toolerr.ValidationFailedf("sections_to_modify[].insight_ids_to_add[]", id, "an existing insight_id",
					"sections_to_modify[%d] links unknown insight_id %q", i, id)
			}
		}
		for j, ins := range sec.Insights {
			if ins.Summary == "" {
				return toolerr.ValidationFailedf("sections_to_modify[].insights[].summary", ins.Summary, "\"non-empty string\"",
					"sections_to_modify[%d].insights[%d] is missing summary", i, j)
			}
			if requiresCitation && len(ins.Citations) == 0 {
				return toolerr.ValidationFailedf("sections_to_modify[].insights[].citations", ins.Citations,
					"[{\"source\":\"query\",\"execution_id\":\"...\"}]",
					"sections_to_modify[%d].insights[%d] requires at least one citation for this template", i, j)
			}
		}
	}

	for i, id := range changes.SectionsToRemove {
		if current.FindSection(id) == nil {
			return toolerr.ValidationFailedf("sections_to_remove[]", id, "an existing section_id",
				"sections_to_remove[%d] references unknown section_id %q", i, id)
		}
	}

	return nil
}

// Apply mutates a cloned outline in the ten-step order from spec.md §4.6.
// The caller is expected to have already run Validate against the
// pre-apply state; Apply itself re-derives post-apply invariants.
func Apply(current *outline.Outline, changes *ProposedChanges) (*Result, *toolerr.ToolError) {
	next := current.Clone()
	res := &Result{Summary: Summary{}}

	// Step 1-2: auto-generate ids and materialize inline insights under
	// sections_to_add, so later steps can reference them by id.
	sectionInlineInsights := map[string][]outline.Insight{}
	for si := range changes.SectionsToAdd {
		sec := &changes.SectionsToAdd[si]
		if sec.SectionID == "" {
			sec.SectionID = newID("sec")
		}
		for ii := range sec.Insights {
			ins := &sec.Insights[ii]
			if ins.InsightID == "" {
				ins.InsightID = newID("ins")
			}
			if ins.SupportingQueries == nil {
				ins.SupportingQueries = []outline.Citation{}
			}
			sectionInlineInsights[sec.SectionID] = append(sectionInlineInsights[sec.SectionID], outline.Insight{
				InsightID:         ins.InsightID,
				Summary:           ins.Summary,
				Importance:        ins.Importance,
				Status:            outline.InsightActive,
				Citations:         ins.Citations,
				SupportingQueries: ins.SupportingQueries,
			})
			res.IDsCreated = append(res.IDsCreated, ins.InsightID)
			res.Summary.InsightsAdded++
		}
	}

	sectionInlineLinks := map[string][]string{}
	for si := range changes.SectionsToModify {
		sec := &changes.SectionsToModify[si]
		for ii := range sec.Insights {
			ins := &sec.Insights[ii]
			if ins.InsightID == "" {
				ins.InsightID = newID("ins")
			}
			if ins.SupportingQueries == nil {
				ins.SupportingQueries = []outline.Citation{}
			}
			next.Insights = append(next.Insights, outline.Insight{
				InsightID:         ins.InsightID,
				Summary:           ins.Summary,
				Importance:        ins.Importance,
				Status:            outline.InsightActive,
				Citations:         ins.Citations,
				SupportingQueries: ins.SupportingQueries,
			})
			sectionInlineLinks[sec.SectionID] = append(sectionInlineLinks[sec.SectionID], ins.InsightID)
			res.IDsCreated = append(res.IDsCreated, ins.InsightID)
			res.Summary.InsightsAdded++
		}
	}

	// Step 3: insights_to_add (standalone).
	for _, ins := range changes.InsightsToAdd {
		id := ins.InsightID
		if id == "" {
			id = newID("ins")
		}
		supporting := ins.SupportingQueries
		if supporting == nil {
			supporting = []outline.Citation{}
		}
		next.Insights = append(next.Insights, outline.Insight{
			InsightID:         id,
			Summary:           ins.Summary,
			Importance:        ins.Importance,
			Status:            outline.InsightActive,
			Citations:         ins.Citations,
			SupportingQueries: supporting,
		})
		res.IDsCreated = append(res.IDsCreated, id)
		res.Summary.InsightsAdded++
		if ins.SectionID != "" {
			if s := next.FindSection(ins.SectionID); s != nil {
				s.InsightIDs = append(s.InsightIDs, id)
			}
		}
	}

	// Step 4: insights_to_modify (partial update: only provided fields).
	for _, m := range changes.InsightsToModify {
		ins := next.FindInsight(m.InsightID)
		if ins == nil {
			continue
		}
		if m.Summary != nil {
			ins.Summary = *m.Summary
		}
		if m.Importance != nil {
			ins.Importance = *m.Importance
		}
		if m.Status != nil {
			ins.Status = *m.Status
		}
		if m.Citations != nil {
			ins.Citations = m.Citations
		}
		if m.SupportingQueries != nil {
			ins.SupportingQueries = m.SupportingQueries
		}
		res.Summary.InsightsModified++
	}

	// Step 5: sections_to_add.
	for _, sec := range changes.SectionsToAdd {
		insightIDs := make([]string, 0, len(sectionInlineInsights[sec.SectionID]))
		for _, ins := range sectionInlineInsights[sec.SectionID] {
			next.Insights = append(next.Insights, ins)
			insightIDs = append(insightIDs, ins.InsightID)
		}
		next.Sections = append(next.Sections, outline.Section{
			SectionID:     sec.SectionID,
			Title:         sec.Title,
			Order:         sec.Order,
			Notes:         sec.Notes,
			Content:       sec.Content,
			ContentFormat: sec.ContentFormat,
			InsightIDs:    insightIDs,
		})
		res.IDsCreated = append(res.IDsCreated, sec.SectionID)
		res.Summary.SectionsAdded++
	}

	// Step 6: sections_to_modify (partial update + link changes).
	for _, sec := range changes.SectionsToModify {
		s := next.FindSection(sec.SectionID)
		if s == nil {
			continue
		}
		if sec.Title != nil {
			s.Title = *sec.Title
		}
		if sec.Order != nil {
			s.Order = sec.Order
		}
		if sec.Notes != nil {
			s.Notes = *sec.Notes
		}
		if sec.Content != nil {
			s.Content = *sec.Content
		}
		if sec.ContentFormat != nil {
			s.ContentFormat = *sec.ContentFormat
		}
		s.InsightIDs = append(s.InsightIDs, sec.InsightIDsToAdd...)
		s.InsightIDs = append(s.InsightIDs, sectionInlineLinks[sec.SectionID]...)
		if len(sec.InsightIDsToRemove) > 0 {
			s.InsightIDs = removeAll(s.InsightIDs, sec.InsightIDsToRemove)
		}
	}

	// Step 7: insights_to_remove; unlink from all sections.
	for _, id := range changes.InsightsToRemove {
		for i := range next.Sections {
			next.Sections[i].InsightIDs = removeAll(next.Sections[i].InsightIDs, []string{id})
		}
		for i := range next.Insights {
			if next.Insights[i].InsightID == id {
				next.Insights = append(next.Insights[:i], next.Insights[i+1:]...)
				break
			}
		}
		res.IDsRemoved = append(res.IDsRemoved, id)
		res.Summary.InsightsRemoved++
	}

	// Step 8: sections_to_remove.
	for _, id := range changes.SectionsToRemove {
		for i := range next.Sections {
			if next.Sections[i].SectionID == id {
				next.Sections = append(next.Sections[:i], next.Sections[i+1:]...)
				break
			}
		}
		res.IDsRemoved = append(res.IDsRemoved, id)
		res.Summary.SectionsRemoved++
	}

	// Step 9: title_change / metadata_updates / status_change.
	if changes.TitleChange != "" {
		next.Metadata.Tags = setTag(next.Metadata.Tags, "title", changes.TitleChange)
	}
	for k, v := range changes.MetadataUpdates {
		next.Metadata.Tags = setTag(next.Metadata.Tags, k, v)
	}
	if changes.StatusChange != "" {
		res.StatusChange = changes.StatusChange
	}

	// Step 10: bump version.
	next.Version++

	if warn := validatePostApply(next); len(warn) > 0 {
		res.Warnings = warn
	}

	res.Outline = next
	return res, nil
}

func removeAll(ids []string, remove []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, r := range remove {
		removeSet[r] = true
	}
	out := ids[:0:0]
	for _, id := range ids {
		if !removeSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func setTag(tags map[string]string, key, value string) map[string]string {
	if tags == nil {
		tags = map[string]string{}
	}
	tags[key] = value
	return tags
}

// validatePostApply re-derives every warning from the new state only, so no
// warning can reference stale pre-apply data (spec.md §4.6).
func validatePostApply(o *outline.Outline) []string {
	var warnings []string
	insightExists := make(map[string]bool, len(o.Insights))
	for _, ins := range o.Insights {
		insightExists[ins.InsightID] = true
	}
	for _, s := range o.Sections {
		if len(s.InsightIDs) == 0 {
			warnings = append(warnings, "section "+s.SectionID+" has no insights")
		}
		for _, id := range s.InsightIDs {
			if !insightExists[id] {
				warnings = append(warnings, "section "+s.SectionID+" references missing insight "+id)
			}
		}
	}
	if o.RequiresCitations() {
		for _, ins := range o.Insights {
			if ins.Status == outline.InsightActive && len(ins.Citations) == 0 {
				warnings = append(warnings, "insight "+ins.InsightID+" has no citations")
			}
		}
	}
	return warnings
}
