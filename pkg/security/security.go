// Package security provides validation, sanitization, and limits for
// the coursetasks module.
package security

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits applied to stored payloads and submitted identifiers.
const (
	// MaxTracebackBytes bounds the traceback copy persisted to a task
	// record's output. Status responses may still carry the full text.
	MaxTracebackBytes = 700

	// MaxErrorMessageLength is the maximum length for stored error
	// messages.
	MaxErrorMessageLength = 4096

	// MaxIdentifierLength is the maximum length for course ids,
	// problem locations, and student identifiers.
	MaxIdentifierLength = 255

	// MaxConcurrency is the maximum worker concurrency for the
	// in-process engine.
	MaxConcurrency = 100
)

var (
	ErrEmptyIdentifier   = errors.New("coursetasks: identifier must not be empty")
	ErrIdentifierTooLong = errors.New("coursetasks: identifier too long")
	ErrInvalidIdentifier = errors.New("coursetasks: identifier contains invalid characters")
)

// validStudentIdentifier covers usernames and email addresses.
var validStudentIdentifier = regexp.MustCompile(`^[a-zA-Z0-9@._+\-]+$`)

// ValidateIdentifier checks a course id or problem location for
// emptiness and length. Content ids carry scheme-like characters, so
// no charset restriction is applied.
func ValidateIdentifier(id string) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	if len(id) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	return nil
}

// ValidateStudentIdentifier checks a submitted email or username.
func ValidateStudentIdentifier(id string) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	if len(id) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	if !validStudentIdentifier.MatchString(id) {
		return ErrInvalidIdentifier
	}
	return nil
}

// ClampConcurrency ensures concurrency is within limits.
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// TruncateTraceback bounds a traceback for persistence, cutting on a
// rune boundary so the stored copy stays valid UTF-8.
func TruncateTraceback(tb string) string {
	if len(tb) <= MaxTracebackBytes {
		return tb
	}
	cut := MaxTracebackBytes
	for cut > 0 && !utf8.RuneStart(tb[cut]) {
		cut--
	}
	return tb[:cut]
}

// SanitizeMessage strips control characters (keeping newlines and
// tabs) and truncates overly long messages before storage.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}
	return result
}
