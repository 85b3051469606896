package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrInvalidID is returned when an identifier is not a UUID
	ErrInvalidID = apperrors.New(apperrors.KindValidation, "invalid identifier")

	// ErrMultiValuedID is returned for identifiers that carry more than one
	// value, such as "a,b". They are rejected rather than split.
	ErrMultiValuedID = apperrors.New(apperrors.KindValidation, "identifier must be a single value")

	ErrInvalidEmail    = apperrors.New(apperrors.KindValidation, "please provide a valid email address")
	ErrInvalidUsername = apperrors.New(apperrors.KindValidation, "username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	ErrWeakPassword    = apperrors.New(apperrors.KindValidation, "password must be at least 8 characters")
	ErrInvalidCode     = apperrors.New(apperrors.KindValidation, "verification code must be 6 digits")

	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{3,32}$`)
	codeRegex     = regexp.MustCompile(`^[0-9]{6}$`)

	textPolicy = bluemonday.StrictPolicy()
)

// ParseID parses a single UUID. Comma- or whitespace-separated lists are
// rejected with ErrMultiValuedID.
func ParseID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, ", ;") {
		return uuid.Nil, ErrMultiValuedID
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}

// Email validates and normalizes an email address.
func Email(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Username validates a username.
func Username(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if !usernameRegex.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// Password validates a plaintext password.
func Password(password string) error {
	if utf8.RuneCountInString(password) < 8 || len(password) > 72 {
		return ErrWeakPassword
	}
	return nil
}

// Code validates a verification code.
func Code(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if !codeRegex.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

// Required trims value and fails when it is empty or longer than max runes.
func Required(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.New(apperrors.KindValidation, field+" is required")
	}
	if utf8.RuneCountInString(value) > max {
		return "", apperrors.New(apperrors.KindValidation, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return value, nil
}

// SanitizeText strips all markup from user-supplied text.
func SanitizeText(value string) string {
	return strings.TrimSpace(textPolicy.Sanitize(value))
}
