// Package schema implements SchemaDescriber: emitting the ProposedChanges
// patch language in three agent-facing formats, per spec.md §4.9.
package schema

// Format selects the description flavor get_report_schema returns.
type Format string

const (
	FormatJSONSchema Format = "json_schema"
	FormatExamples   Format = "examples"
	FormatCompact    Format = "compact"
)

// JSONSchema returns a JSON-Schema-compatible document describing
// ProposedChanges.
func JSONSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"insights_to_add": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"section_id": map[string]interface{}{"type": "string"},
						"insight": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"summary":            map[string]interface{}{"type": "string"},
								"importance":         map[string]interface{}{"type": "integer"},
								"citations":          map[string]interface{}{"type": "array"},
								"supporting_queries": map[string]interface{}{"type": "array"},
							},
							"required": []string{"summary", "importance"},
						},
					},
				},
			},
			"insights_to_modify": map[string]interface{}{"type": "array"},
			"insights_to_remove": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"sections_to_add":    map[string]interface{}{"type": "array"},
			"sections_to_modify": map[string]interface{}{"type": "array"},
			"sections_to_remove": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"status_change":      map[string]interface{}{"type": "string", "enum": []string{"active", "archived", "deleted"}},
			"metadata_updates":   map[string]interface{}{"type": "object"},
			"title_change":       map[string]interface{}{"type": "string"},
		},
	}
}

// Example is one copy-paste payload for a single patch operation.
type Example struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload"`
}

// Examples returns a copy-paste payload per patch operation kind.
func Examples() []Example {
	return []Example{
		{
			Name: "add_insight",
			Payload: map[string]interface{}{
				"insights_to_add": []map[string]interface{}{
					{"section_id": "sec_123", "insight": map[string]interface{}{"summary": "Revenue up 12% week over week", "importance": 8}},
				},
			},
		},
		{
			Name: "modify_section",
			Payload: map[string]interface{}{
				"sections_to_modify": []map[string]interface{}{
					{"section_id": "sec_123", "title": "Updated Title"},
				},
			},
		},
		{
			Name: "atomic_section_with_insights",
			Payload: map[string]interface{}{
				"sections_to_add": []map[string]interface{}{
					{
						"title": "Network Activity",
						"insights": []map[string]interface{}{
							{"summary": "Active addresses up 8%", "importance": 6,
								"citations": []map[string]interface{}{{"source": "query", "execution_id": "exec_abc"}}},
						},
					},
				},
			},
		},
		{
			Name:    "status_change",
			Payload: map[string]interface{}{"status_change": "archived"},
		},
		{
			Name: "remove_insight",
			Payload: map[string]interface{}{"insights_to_remove": []string{"ins_123"}},
		},
		{
			Name:    "rename",
			Payload: map[string]interface{}{"title_change": "Q3 Revenue Review"},
		},
		{
			Name:    "modify_insight",
			Payload: map[string]interface{}{"insights_to_modify": []map[string]interface{}{{"insight_id": "ins_123", "importance": 9}}},
		},
		{
			Name:    "remove_section",
			Payload: map[string]interface{}{"sections_to_remove": []string{"sec_123"}},
		},
		{
			Name:    "update_metadata",
			Payload: map[string]interface{}{"metadata_updates": map[string]string{"owner": "analytics"}},
		},
	}
}

// Compact returns the one-line-per-field compact notation.
func Compact() []string {
	return []string{
		"insights_to_add: []{section_id?: string, insight: {summary: string, importance: int, citations?: []Citation, supporting_queries?: []Citation}}",
		"insights_to_modify: []{insight_id: string, summary?: string, importance?: int, status?: active|archived|killed, citations?: []Citation}",
		"insights_to_remove: []string (insight_id)",
		"sections_to_add: []{title: string, order?: int, notes?: string, content?: string, content_format?: markdown|text|html, insights?: []InsightInput}",
		"sections_to_modify: []{section_id: string, title?: string, order?: int, notes?: string, content?: string, insight_ids_to_add?: []string, insight_ids_to_remove?: []string, insights?: []InsightInput}",
		"sections_to_remove: []string (section_id)",
		"status_change: active|archived|deleted (exclusive with any content operation)",
		"metadata_updates: map[string]string",
		"title_change: string",
	}
}
