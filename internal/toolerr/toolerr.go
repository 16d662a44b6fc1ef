// Package toolerr defines the structured error taxonomy shared by every
// tool-facing component. Evolve-class failures are returned as values
// (never panicked) so an agent can self-correct from the response alone.
package toolerr

import "fmt"

// Kind enumerates the error taxonomy from spec.md §7.
type Kind string

const (
	ValidationFailed Kind = "validation_failed"
	SelectorError    Kind = "selector_error"
	VersionConflict  Kind = "version_conflict"
	LockTimeout      Kind = "lock_timeout"
	ExecutionError   Kind = "execution_error"
	Timeout          Kind = "timeout"
	Denied           Kind = "denied"
	IOError          Kind = "io_error"
	ChartTooLarge    Kind = "chart_too_large"
	UnsupportedFormat Kind = "unsupported_format"
)

// ToolError is the structured, self-describing error value returned by
// evolve-class and query-class tool operations instead of a raised error.
type ToolError struct {
	Kind Kind `json:"kind"`

	// validation_failed
	FieldPath     string      `json:"field_path,omitempty"`
	InputValue    interface{} `json:"input_value,omitempty"`
	Hints         []string    `json:"hints,omitempty"`
	SchemaExample interface{} `json:"schema_example,omitempty"`

	// selector_error
	Selector   string   `json:"selector,omitempty"`
	Candidates []string `json:"candidates,omitempty"`

	// version_conflict
	CurrentVersion int `json:"current_version,omitempty"`

	// execution_error / timeout
	QueryID  string   `json:"query_id,omitempty"`
	Guidance []string `json:"guidance,omitempty"`

	// denied
	SafeAlternatives []string `json:"safe_alternatives,omitempty"`

	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Envelope is the uniform tool response envelope from spec.md §4.10.
type Envelope struct {
	Status    string                 `json:"status"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timing    map[string]int64       `json:"timing,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
	RequestID string                 `json:"request_id"`
	Error     *ToolError             `json:"error,omitempty"`
}

// New builds a ToolError of the given kind with a message.
func New(kind Kind, message string) *ToolError {
	return &ToolError{Kind: kind, Message: message}
}

// ValidationFailedf builds a validation_failed error for a single field.
func ValidationFailedf(fieldPath string, inputValue interface{}, schemaExample interface{}, format string, args ...interface{}) *ToolError {
	return &ToolError{
		Kind:          ValidationFailed,
		FieldPath:     fieldPath,
		InputValue:    inputValue,
		SchemaExample: schemaExample,
		Message:       fmt.Sprintf(format, args...),
	}
}

// NotFound builds a selector_error of kind not_found.
func NotFound(selector string) *ToolError {
	return &ToolError{
		Kind:     SelectorError,
		Selector: selector,
		Message:  fmt.Sprintf("no report matched selector %q", selector),
		Hints:    []string{"not_found"},
	}
}

// Ambiguous builds a selector_error of kind ambiguous.
func Ambiguous(selector string, candidates []string) *ToolError {
	return &ToolError{
		Kind:       SelectorError,
		Selector:   selector,
		Candidates: candidates,
		Message:    fmt.Sprintf("selector %q matched %d reports", selector, len(candidates)),
		Hints:      []string{"ambiguous"},
	}
}

// VersionConflictErr builds a version_conflict error.
func VersionConflictErr(current int) *ToolError {
	return &ToolError{
		Kind:           VersionConflict,
		CurrentVersion: current,
		Message:        "outline version has advanced since the caller last read it",
	}
}

// TimeoutErr builds a timeout error, guidance ordered catalog-filtering and
// clustering-key advice before suggesting a larger timeout, per spec.md §7.
func TimeoutErr(message, queryID string) *ToolError {
	return &ToolError{
		Kind:     Timeout,
		Message:  message,
		QueryID:  queryID,
		Guidance: []string{"catalog_filter", "clustering_keys", "increase_timeout"},
	}
}

// DeniedErr builds a denied error with safe alternatives.
func DeniedErr(message string, alternatives []string) *ToolError {
	return &ToolError{
		Kind:             Denied,
		SafeAlternatives: alternatives,
		Message:          message,
	}
}
