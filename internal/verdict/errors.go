package verdict

import (
	"errors"
	"fmt"
)

// Kind classifies how processing a judge output failed.
type Kind string

const (
	KindNoOutput        Kind = "no_output"
	KindUnparsable      Kind = "unparsable_output"
	KindSchemaViolation Kind = "schema_violation"
	KindMissingExpected Kind = "missing_expected_value"
)

// Error is a classified processing failure. For schema violations the reason
// names the exact offending field or key.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err, or "" for foreign errors.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}
