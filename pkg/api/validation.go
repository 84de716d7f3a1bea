package api

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nyumbani/backend/pkg/httputil"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const maxEmailLength = 255

// fieldErrors accumulates per-field validation failures so every problem
// in a request is reported at once.
type fieldErrors []httputil.FieldError

func (e *fieldErrors) add(field, message string) {
	*e = append(*e, httputil.FieldError{Field: field, Message: message})
}

// normalizeEmail trims and lowercases an address. All storage and
// lookups go through this so a re-registration with different casing
// hits the unique constraint.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateLength checks a required free-text field against rune-count
// bounds. Messages mirror the public form contract.
func validateLength(errs *fieldErrors, field, label, value string, min, max int) {
	value = strings.TrimSpace(value)
	if value == "" {
		errs.add(field, label+" is required")
		return
	}
	if n := utf8.RuneCountInString(value); n < min || n > max {
		errs.add(field, fmt.Sprintf("%s must be between %d and %d characters", label, min, max))
	}
}

func validateEmail(errs *fieldErrors, email string) {
	email = strings.TrimSpace(email)
	if email == "" {
		errs.add("email", "Email is required")
		return
	}
	if len(email) > maxEmailLength {
		errs.add("email", "Email must be at most 255 characters")
		return
	}
	if !emailRegex.MatchString(email) {
		errs.add("email", "Must be a valid email address")
	}
}

// validatePassword enforces the minimum credential policy: at least 8
// characters with at least one letter and one digit.
func validatePassword(errs *fieldErrors, field, password string) {
	if password == "" {
		errs.add(field, "Password is required")
		return
	}
	if utf8.RuneCountInString(password) < 8 {
		errs.add(field, "Password must be at least 8 characters")
		return
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		errs.add(field, "Password must contain at least one letter and one number")
	}
}
