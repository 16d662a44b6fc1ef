package schema

import "testing"

func TestJSONSchemaDisallowsAdditionalProperties(t *testing.T) {
	s := JSONSchema()
	if s["additionalProperties"] != false {
		t.Errorf("expected additionalProperties=false, got %v", s["additionalProperties"])
	}
}

func TestExamplesCoverCoreOperations(t *testing.T) {
	names := map[string]bool{}
	for _, e := range Examples() {
		names[e.Name] = true
	}
	for _, want := range []string{"add_insight", "modify_section", "atomic_section_with_insights", "status_change"} {
		if !names[want] {
			t.Errorf("expected an example for %q", want)
		}
	}
}

func TestCompactHasOneEntryPerField(t *testing.T) {
	compact := Compact()
	if len(compact) != 9 {
		t.Errorf("expected 9 compact field entries, got %d", len(compact))
	}
}
