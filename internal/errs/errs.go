package errs

import (
	"errors"
	"fmt"
)

// Category classifies a failure by where it originated in the pipeline.
type Category string

const (
	CategoryNetwork        Category = "network"
	CategoryValidation     Category = "validation"
	CategoryTransformation Category = "transformation"
	CategoryStorage        Category = "storage"
	CategoryConfiguration  Category = "configuration"
	CategoryExternal       Category = "external"
	CategoryInternal       Category = "internal"
)

// Severity ranks operational impact. Alert handlers only fire for High and
// Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// defaults maps each category to its severity and recoverability.
var defaults = map[Category]struct {
	severity    Severity
	recoverable bool
}{
	CategoryNetwork:        {SeverityMedium, true},
	CategoryValidation:     {SeverityLow, true},
	CategoryTransformation: {SeverityMedium, true},
	CategoryStorage:        {SeverityHigh, true},
	CategoryConfiguration:  {SeverityHigh, false},
	CategoryExternal:       {SeverityHigh, true},
	CategoryInternal:       {SeverityHigh, true},
}

// Error is a categorized failure with enough context to route it: retry,
// drop the record, or abort startup.
type Error struct {
	Category    Category
	Severity    Severity
	Op          string
	Recoverable bool
	Err         error
}

// E wraps err with the category's default severity and recoverability.
func E(category Category, op string, err error) *Error {
	d := defaults[category]
	return &Error{
		Category:    category,
		Severity:    d.severity,
		Op:          op,
		Recoverable: d.recoverable,
		Err:         err,
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf extracts the category from an error chain, defaulting to
// internal for unclassified errors.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// IsRecoverable reports whether the run can continue past err. Unclassified
// errors are treated as recoverable internal faults.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return true
}
