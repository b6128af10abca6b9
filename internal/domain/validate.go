package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"

	playground "github.com/go-playground/validator/v10"
)

// Validation codes returned for failed profile fields.
const (
	CodeTooShort  = "too_short"
	CodeBadFormat = "bad_format"
	CodeRequired  = "required"
)

// phonePattern matches the national display format produced by the profile
// form's input mask: +C (XXX) XXX-XX-XX with a 1-3 digit country code.
var phonePattern = regexp.MustCompile(`^\+\d{1,3} \(\d{3}\) \d{3}-\d{2}-\d{2}$`)

var fieldValidator = playground.New(playground.WithRequiredStructEnabled())

// ValidateField validates a single profile field. It returns the empty
// string when the value is acceptable, or a validation code otherwise.
// Validation is pure: no I/O, no clock.
func ValidateField(name, value string) string {
	switch name {
	case FieldFullName:
		if utf8.RuneCountInString(strings.TrimSpace(value)) < 3 {
			return CodeTooShort
		}
	case FieldPhone:
		if !phonePattern.MatchString(value) {
			return CodeBadFormat
		}
	case FieldEmail:
		// Email mirrors the session identity and is never user-edited.
		// Anonymous sessions have no email, so an empty value is acceptable.
		if value != "" && fieldValidator.Var(value, "email") != nil {
			return CodeBadFormat
		}
	case FieldLocation:
		if utf8.RuneCountInString(strings.TrimSpace(value)) < 2 {
			return CodeRequired
		}
	}
	// bio, skills, github, website, photoUrl: optional free text.
	return ""
}

// ValidateDraft validates every field of the draft and returns a map of
// field names to validation codes. An empty map means the draft is valid.
func ValidateDraft(d *ProfileDraft) map[string]string {
	failed := make(map[string]string)
	for _, name := range []string{FieldFullName, FieldPhone, FieldEmail, FieldLocation} {
		value, _ := d.Field(name)
		if code := ValidateField(name, value); code != "" {
			failed[name] = code
		}
	}
	return failed
}
