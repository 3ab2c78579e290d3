package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Field identifies a profile field. Using a closed enum with an exhaustive
// dispatch table means adding a field is a compile-time change instead of a
// string match falling through to a default case.
type Field int

const (
	FieldFullName Field = iota
	FieldEmail
	FieldPhone
	FieldAddress
	FieldProfession
	FieldCompanyName
	FieldFatherName
)

var fieldNames = map[Field]string{
	FieldFullName:    "full_name",
	FieldEmail:       "email",
	FieldPhone:       "phone",
	FieldAddress:     "address",
	FieldProfession:  "profession",
	FieldCompanyName: "company_name",
	FieldFatherName:  "father_name",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ParseField maps a wire name to a Field.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown field: %q", name)
}

// State is the tri-state inline feedback signal: neutral while the field is
// still empty, success once valid, error when non-empty and invalid. The
// neutral/error distinction matters for scoring: an empty required field
// contributes 0 without being shown as wrong.
type State string

const (
	StateNeutral State = "neutral"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Result is the outcome of validating a single field value.
type Result struct {
	IsValid  bool  `json:"is_valid"`
	HasError bool  `json:"has_error"`
	State    State `json:"state"`
}

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[A-Za-z]{2,}$`)
	nonDigit     = regexp.MustCompile(`\D`)
)

func minTrimmedLen(n int) func(string) bool {
	return func(v string) bool {
		return len(strings.TrimSpace(v)) >= n
	}
}

func validEmail(v string) bool {
	return emailPattern.MatchString(strings.TrimSpace(v))
}

// validPhone accepts exactly 10 digits after stripping separators.
func validPhone(v string) bool {
	return len(nonDigit.ReplaceAllString(v, "")) == 10
}

var predicates = map[Field]func(string) bool{
	FieldFullName:    minTrimmedLen(2),
	FieldEmail:       validEmail,
	FieldPhone:       validPhone,
	FieldAddress:     minTrimmedLen(10),
	FieldProfession:  minTrimmedLen(2),
	FieldCompanyName: minTrimmedLen(2),
	FieldFatherName:  minTrimmedLen(2),
}

// Validate runs the predicate for f over value. It has no side effects.
func Validate(f Field, value string) Result {
	pred, ok := predicates[f]
	if !ok {
		return Result{State: StateNeutral}
	}
	if strings.TrimSpace(value) == "" {
		return Result{State: StateNeutral}
	}
	if pred(value) {
		return Result{IsValid: true, State: StateSuccess}
	}
	return Result{HasError: true, State: StateError}
}
