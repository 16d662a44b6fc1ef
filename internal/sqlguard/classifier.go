// Package sqlguard classifies SQL statements by kind and applies an
// allow/deny policy over that classification, per spec.md §4.1.
package sqlguard

import (
	"strings"
)

// Kind is the classified statement kind.
type Kind string

const (
	KindSelect    Kind = "Select"
	KindInsert    Kind = "Insert"
	KindUpdate    Kind = "Update"
	KindDelete    Kind = "Delete"
	KindMerge     Kind = "Merge"
	KindCreate    Kind = "Create"
	KindAlter     Kind = "Alter"
	KindDrop      Kind = "Drop"
	KindTruncate  Kind = "Truncate"
	KindDescribe  Kind = "Describe"
	KindShow      Kind = "Show"
	KindUse       Kind = "Use"
	KindCall      Kind = "Call"
	KindGrant     Kind = "Grant"
	KindRevoke    Kind = "Revoke"
	KindExplain   Kind = "Explain"
	KindCommand   Kind = "Command"
)

// keywordKinds maps the first significant keyword to its Kind. Built as a
// flat dispatch table rather than a chain of if/else, the same
// tagged-dispatch-by-discriminator shape used for policy evaluation in
// guardrails.go, applied here to lexical classification instead of a
// content check.
var keywordKinds = map[string]Kind{
	"SELECT":   KindSelect,
	"WITH":     KindSelect,
	"INSERT":   KindInsert,
	"UPDATE":   KindUpdate,
	"DELETE":   KindDelete,
	"MERGE":    KindMerge,
	"CREATE":   KindCreate,
	"ALTER":    KindAlter,
	"DROP":     KindDrop,
	"TRUNCATE": KindTruncate,
	"DESCRIBE": KindDescribe,
	"DESC":     KindDescribe,
	"SHOW":     KindShow,
	"USE":      KindUse,
	"CALL":     KindCall,
	"GRANT":    KindGrant,
	"REVOKE":   KindRevoke,
	"EXPLAIN":  KindExplain,
}

// setOperators, when found as the first keyword of a statement that
// continues into another SELECT, still classify as Select (spec.md §4.1:
// "Set operators ... between SELECTs → Select"). Classify inspects only the
// first keyword, so a set operator after a leading SELECT/WITH never reaches
// this table; the statement is already Select from its first keyword.
var setOperators = map[string]bool{
	"UNION":     true,
	"INTERSECT": true,
	"EXCEPT":    true,
	"MINUS":     true,
}

// ValidationError reports a malformed statement (spec.md §4.1 fail modes).
type ValidationError struct {
	Kind    string
	Message string
	Hints   []string
}

func (e *ValidationError) Error() string { return e.Message }

// Classify determines the Kind of a SQL statement, tolerating leading
// whitespace, line/block comments, and CTE/set-operator prefixes that
// inherit Select. Classification is case-insensitive.
func Classify(statement string) (Kind, error) {
	stripped, err := stripLeading(statement)
	if err != nil {
		return "", err
	}
	if stripped == "" {
		return "", &ValidationError{Kind: "empty", Message: "statement is empty after stripping comments/whitespace"}
	}

	word := firstWord(stripped)
	upper := strings.ToUpper(word)

	if setOperators[upper] {
		// A bare set-operator start (e.g. a second leg of a UNION glued on
		// without its own SELECT keyword) still reads as Select.
		return KindSelect, nil
	}

	if kind, ok := keywordKinds[upper]; ok {
		return kind, nil
	}
	return KindCommand, nil
}

// stripLeading removes leading whitespace and leading line (--) and block
// (/* ... */) comments, repeatedly, until significant text is found.
func stripLeading(s string) (string, error) {
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			idx := strings.IndexAny(trimmed, "\n")
			if idx == -1 {
				return "", nil
			}
			s = trimmed[idx+1:]
		case strings.HasPrefix(trimmed, "/*"):
			idx := strings.Index(trimmed, "*/")
			if idx == -1 {
				return "", &ValidationError{Kind: "unterminated_comment", Message: "unterminated block comment"}
			}
			s = trimmed[idx+2:]
		default:
			return trimmed, nil
		}
	}
}

// firstWord returns the first contiguous run of identifier-ish characters.
func firstWord(s string) string {
	end := 0
	for end < len(s) {
		c := s[end]
		isWordChar := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
		if !isWordChar {
			break
		}
		end++
	}
	return s[:end]
}
