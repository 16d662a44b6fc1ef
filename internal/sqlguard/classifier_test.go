package sqlguard

import "testing"

func TestClassifySelect(t *testing.T) {
	kind, err := Classify("  SELECT * FROM t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindSelect {
		t.Errorf("expected Select, got %s", kind)
	}
}

func TestClassifyCommentPrefixedShow(t *testing.T) {
	kind, err := Classify("-- note\n  SHOW TABLES IN SCHEMA X.Y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindShow {
		t.Errorf("expected Show, got %s", kind)
	}
}

func TestClassifyWithCTE(t *testing.T) {
	kind, err := Classify("WITH cte AS (SELECT 1) SELECT * FROM cte")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindSelect {
		t.Errorf("expected Select for WITH, got %s", kind)
	}
}

func TestClassifyUnknownIsCommand(t *testing.T) {
	kind, err := Classify("BEGIN TRANSACTION")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindCommand {
		t.Errorf("expected Command fallback, got %s", kind)
	}
}

func TestClassifyEmptyIsError(t *testing.T) {
	_, err := Classify("   -- only a comment\n")
	if err == nil {
		t.Fatalf("expected error for empty statement")
	}
}

func TestClassifyUnterminatedBlockComment(t *testing.T) {
	_, err := Classify("/* never closes SELECT 1")
	if err == nil {
		t.Fatalf("expected error for unterminated comment")
	}
}

func TestValidateDeniedTruncate(t *testing.T) {
	policy := DefaultPolicy()
	toolErr := Validate(KindTruncate, policy)
	if toolErr == nil {
		t.Fatalf("expected denial for Truncate")
	}
	if len(toolErr.SafeAlternatives) == 0 {
		t.Errorf("expected safe alternatives for denied Truncate")
	}
}

func TestValidateAllowedSelect(t *testing.T) {
	policy := DefaultPolicy()
	if toolErr := Validate(KindSelect, policy); toolErr != nil {
		t.Errorf("expected Select to be allowed, got %v", toolErr)
	}
}
