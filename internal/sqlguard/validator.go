package sqlguard

import (
	"fmt"

	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

// Policy is an explicit map of Kind to whether it is allowed. DefaultPolicy
// implements the sensible defaults from spec.md §4.1.
type Policy map[Kind]bool

// DefaultPolicy allows read-only and session-context statements, denies
// everything that mutates or is unclassified (Command is denied as the
// safer fallback).
func DefaultPolicy() Policy {
	return Policy{
		KindSelect:   true,
		KindShow:     true,
		KindDescribe: true,
		KindExplain:  true,
		KindUse:      true,

		KindInsert:   false,
		KindUpdate:   false,
		KindDelete:   false,
		KindMerge:    false,
		KindCreate:   false,
		KindAlter:    false,
		KindDrop:     false,
		KindTruncate: false,
		KindCall:     false,
		KindGrant:    false,
		KindRevoke:   false,
		KindCommand:  false,
	}
}

// Allowed reports whether kind is permitted. Kinds absent from the policy
// default to denied.
func (p Policy) Allowed(kind Kind) bool {
	return p[kind]
}

// safeAlternatives offers 1-3 suggestions for a denied kind, per spec.md
// §4.1 ("suggest SELECT ... LIMIT n instead of TRUNCATE").
var safeAlternatives = map[Kind][]string{
	KindTruncate: {"SELECT * FROM <table> LIMIT n to preview before truncating", "DELETE ... WHERE <narrow predicate> for a bounded removal"},
	KindDelete:   {"SELECT the rows you intend to delete first to confirm the predicate"},
	KindDrop:     {"SHOW TABLES / SHOW OBJECTS to confirm the target before any destructive DDL"},
	KindUpdate:   {"SELECT the target rows first to confirm the predicate matches what you expect"},
	KindCommand:  {"rewrite as a SELECT, SHOW, or DESCRIBE statement if you only need to read metadata"},
}

// Validate applies policy to a classified kind, returning a denied
// toolerr.ToolError when the kind is not permitted.
func Validate(kind Kind, policy Policy) *toolerr.ToolError {
	if policy.Allowed(kind) {
		return nil
	}
	alts := safeAlternatives[kind]
	if len(alts) == 0 {
		alts = []string{"use a read-only statement (SELECT/SHOW/DESCRIBE) instead"}
	}
	if len(alts) > 3 {
		alts = alts[:3]
	}
	return toolerr.DeniedErr(fmt.Sprintf("statement kind %q is not permitted by policy", kind), alts)
}
