package validation

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("validation: invalid value")

// Violations collects every failed rule per field so all problems are reported at once.
type Violations struct {
	Errors map[string][]error
}

func NewViolations() Violations {
	return Violations{Errors: make(map[string][]error)}
}

func (violations Violations) Add(field string, err error) {
	violations.Errors[field] = append(violations.Errors[field], err)
}

func (violations Violations) IsEmpty() bool {
	return len(violations.Errors) == 0
}

// Err returns nil when there are no violations, otherwise one error listing them by
// field name. The result matches ErrInvalid with errors.Is.
func (violations Violations) Err() error {
	if violations.IsEmpty() {
		return nil
	}

	fields := make([]string, 0, len(violations.Errors))
	for field := range violations.Errors {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field)
		b.WriteString(": ")
		for j, err := range violations.Errors[field] {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(err.Error())
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalid, b.String())
}

// Required records a violation when value is empty.
func (violations Violations) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		violations.Add(field, errors.New("is required"))
	}
}

// Between records a violation unless min <= value <= max.
func (violations Violations) Between(field string, value, min, max int) {
	if value < min || value > max {
		violations.Add(field, fmt.Errorf("must be between %d and %d, got %d", min, max, value))
	}
}

// OneOf records a violation unless value equals one of options, ignoring case.
func (violations Violations) OneOf(field, value string, options ...string) {
	for _, option := range options {
		if strings.EqualFold(value, option) {
			return
		}
	}
	violations.Add(field, fmt.Errorf("must be one of %s, got %q", strings.Join(options, ", "), value))
}

// Numberic operations
func ValidateInteger(value string) bool {
	_, err := strconv.Atoi(value)
	return err == nil
}

// Boolean operations
func ValidateBoolean(value string) bool {
	return ValidateTrue(value) || ValidateFalse(value)
}

func ValidateTrue(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func ValidateFalse(value string) bool {
	return value == "0" || strings.EqualFold(value, "false")
}
