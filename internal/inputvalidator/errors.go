package inputvalidator

import (
	"fmt"
	"strings"
)

type IssueKind string

const (
	MissingRequiredField   IssueKind = "missing_required_field"
	InvalidFieldFormat     IssueKind = "invalid_field_format"
	MalformedLineEnding    IssueKind = "malformed_line_ending"
	ColumnCountMismatch    IssueKind = "column_count_mismatch"
	EmptyInput             IssueKind = "empty_input"
	UnknownComputationType IssueKind = "unknown_computation_type"
)

// Issue is a single per-row or per-line finding. Line is 1-based, 0 when unknown.
type Issue struct {
	Kind  IssueKind
	Field Field
	Value string
	Line  int
}

func (i Issue) Error() string {
	var b strings.Builder
	if i.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", i.Line)
	}
	switch i.Kind {
	case MissingRequiredField:
		fmt.Fprintf(&b, "required field %q is missing or empty", i.Field)
	case InvalidFieldFormat:
		fmt.Fprintf(&b, "field %q has invalid value %q", i.Field, i.Value)
	case MalformedLineEnding:
		b.WriteString("line must end with a non-whitespace character")
	case ColumnCountMismatch:
		fmt.Fprintf(&b, "column count mismatch: %s", i.Value)
	case EmptyInput:
		b.WriteString("input is empty")
	case UnknownComputationType:
		fmt.Fprintf(&b, "no schema for computation type %q", i.Value)
	default:
		b.WriteString(string(i.Kind))
	}
	return b.String()
}

// Result holds every issue found for one row.
type Result struct {
	Issues []Issue
}

func (r Result) Valid() bool {
	return len(r.Issues) == 0
}

// Err returns nil for a passing row, otherwise a *ValidationError.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Issues: append([]Issue(nil), r.Issues...)}
}

// ValidationError aggregates input validation issues.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "input validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Error())
	}
	return "input validation failed: " + strings.Join(parts, "; ")
}
