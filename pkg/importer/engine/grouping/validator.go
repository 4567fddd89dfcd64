package grouping

import (
	"fmt"
	"strings"
	"time"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
)

// isoDateFormat is the only accepted date layout. Free-form dates are rejected,
// never coerced.
const isoDateFormat = "2006-01-02"

// Validate checks one group's structural and business invariants before any
// store call is attempted. It is a pure function: all failures are accumulated
// rather than short-circuited, so the caller can report every problem at once.
func Validate(g *model.Group, rules RuleSet) (bool, []string) {
	var errs []string

	// 1. Required header fields.
	for _, field := range rules.RequiredHeaderFields() {
		if !headerHas(g.Header, field) {
			errs = append(errs, fmt.Sprintf("missing required field '%s'", field))
		}
	}

	// 2. Exact date format.
	for _, field := range rules.DateFields() {
		raw, ok := g.Header[field].(string)
		if !ok || raw == "" {
			continue // absence is reported by the required-field check
		}
		parsed, err := time.Parse(isoDateFormat, raw)
		if err != nil || parsed.Format(isoDateFormat) != raw {
			errs = append(errs, fmt.Sprintf("field '%s' must match the format YYYY-MM-DD, got '%s'", field, raw))
		}
	}

	// 3. At least one valid line when the entity kind requires children.
	if rules.RequiresLines() && len(g.Lines) == 0 {
		errs = append(errs, fmt.Sprintf("%s has no valid line items", rules.DisplayName()))
	}

	// 4. Per-line rules (resolved reference, strictly positive quantity).
	for i, line := range g.Lines {
		for _, msg := range rules.ValidateLine(line) {
			errs = append(errs, fmt.Sprintf("line %d: %s", i+1, msg))
		}
	}

	// Accumulator fields that failed to parse during folding.
	for field, value := range g.Header {
		if strings.HasSuffix(field, "_invalid") {
			errs = append(errs, fmt.Sprintf("field '%s' has a non-numeric value '%v'", strings.TrimSuffix(field, "_invalid"), value))
		}
	}

	// 5. Entity-specific numeric business rules.
	errs = append(errs, rules.ValidateHeader(g.Header)...)

	return len(errs) == 0, errs
}

// headerHas reports whether a header field is present and non-empty.
func headerHas(header map[string]interface{}, field string) bool {
	v, ok := header[field]
	if !ok {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}
