package intake

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

var emailRE = regexp.MustCompile(`(?i)^[^@\s]+@[^@\s]+\.[A-Za-z]{2,}$`)

// IsEmail reports whether s looks like an e-mail address.
func IsEmail(s string) bool {
	return emailRE.MatchString(s)
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validator accumulates field errors.
type Validator struct {
	prefix  string
	details []string
}

// Item returns a validator whose messages are prefixed with the batch
// index, e.g. "Item 2: event_type is required".
func Item(index int) *Validator {
	return &Validator{prefix: fmt.Sprintf("Item %d: ", index)}
}

func (v *Validator) add(msg string) {
	v.details = append(v.details, v.prefix+msg)
}

// Check records msg when ok is false.
func (v *Validator) Check(ok bool, msg string) {
	if !ok {
		v.add(msg)
	}
}

func (v *Validator) Required(field, value string) bool {
	if value == "" {
		v.add(field + " is required")
		return false
	}
	return true
}

func (v *Validator) Email(field, value string) {
	if !v.Required(field, value) {
		return
	}
	if !IsEmail(value) {
		v.add(field + " must be a valid email address")
	}
}

func (v *Validator) MinLen(field, value string, n int) {
	if utf8.RuneCountInString(value) < n {
		v.add(fmt.Sprintf("%s must be at least %d characters", field, n))
	}
}

func (v *Validator) MaxLen(field, value string, n int) {
	if utf8.RuneCountInString(value) > n {
		v.add(fmt.Sprintf("%s must be at most %d characters", field, n))
	}
}

// OneOf checks value against a whitelist. An empty value is reported as
// missing.
func (v *Validator) OneOf(field, value string, allowed []string) {
	if !v.Required(field, value) {
		return
	}
	if !lo.Contains(allowed, value) {
		v.add(fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
	}
}

// Details returns the accumulated messages.
func (v *Validator) Details() []string {
	return v.details
}

// Err returns a *ValidationError, or nil when nothing failed.
func (v *Validator) Err() error {
	if len(v.details) == 0 {
		return nil
	}
	return &ValidationError{Details: v.details}
}
