package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iyulab/logwarden/internal/model"
)

// ValidationError describes one invalid catalog entry.
// Index is -1 for document-level problems.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("patterns[%d].%s: %s", e.Index, e.Field, e.Message)
}

// Validate checks that every definition has a compilable regex, a non-empty
// category and a severity from the enumeration. All problems are returned
// joined; nil means the catalog is usable.
func Validate(defs []Definition) error {
	var errs []error
	for i, d := range defs {
		if strings.TrimSpace(d.Regex) == "" {
			errs = append(errs, &ValidationError{Index: i, Field: "regex", Message: "regex is required"})
		} else if _, err := regexp.Compile(d.Regex); err != nil {
			errs = append(errs, &ValidationError{Index: i, Field: "regex", Message: err.Error()})
		}
		if strings.TrimSpace(d.Category) == "" {
			errs = append(errs, &ValidationError{Index: i, Field: "category", Message: "category is required"})
		}
		if _, err := model.ParseSeverity(d.Severity); err != nil {
			errs = append(errs, &ValidationError{Index: i, Field: "severity", Message: err.Error()})
		}
		if d.Threshold < 0 {
			errs = append(errs, &ValidationError{Index: i, Field: "threshold", Message: "threshold must not be negative"})
		}
		if d.TimeWindowMs < 0 {
			errs = append(errs, &ValidationError{Index: i, Field: "time_window_ms", Message: "time window must not be negative"})
		}
	}
	return errors.Join(errs...)
}
