package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrPolicyViolation is the sentinel every *PolicyError unwraps to.
var ErrPolicyViolation = errors.New("password does not meet complexity policy")

// Violation names one unmet complexity rule.
type Violation string

const (
	ViolationMinLength Violation = "min_length"
	ViolationMaxLength Violation = "max_length"
	ViolationUppercase Violation = "uppercase"
	ViolationLowercase Violation = "lowercase"
	ViolationDigit     Violation = "digit"
	ViolationSymbol    Violation = "symbol"
)

// Policy configures complexity validation. Lengths count runes.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy requires 12 characters and all four character classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     12,
		MaxLength:     256,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Result lists every violated rule; Valid is true only when none are.
type Result struct {
	Valid      bool
	Violations []Violation
}

// Err returns a *PolicyError for an invalid result, nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &PolicyError{Violations: r.Violations}
}

// ValidateComplexity checks plaintext against every rule and reports all
// failures at once.
func (p Policy) ValidateComplexity(plaintext string) Result {
	var (
		length                       int
		hasUpper, hasLower, hasDigit bool
		hasSymbol                    bool
	)
	for _, r := range plaintext {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			hasSymbol = true
		}
	}

	var violations []Violation
	if length < p.MinLength {
		violations = append(violations, ViolationMinLength)
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		violations = append(violations, ViolationMaxLength)
	}
	if p.RequireUpper && !hasUpper {
		violations = append(violations, ViolationUppercase)
	}
	if p.RequireLower && !hasLower {
		violations = append(violations, ViolationLowercase)
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, ViolationDigit)
	}
	if p.RequireSymbol && !hasSymbol {
		violations = append(violations, ViolationSymbol)
	}

	return Result{Valid: len(violations) == 0, Violations: violations}
}

// PolicyError carries the itemized violations of a rejected password.
type PolicyError struct {
	Violations []Violation
}

func (e *PolicyError) Error() string {
	names := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		names[i] = string(v)
	}
	return fmt.Sprintf("%s: %s", ErrPolicyViolation, strings.Join(names, ", "))
}

func (e *PolicyError) Unwrap() error { return ErrPolicyViolation }
