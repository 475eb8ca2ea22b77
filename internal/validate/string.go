// Package validate provides centralized input validation and sanitization utilities
// for the storefront API. It includes protection against SQL injection, XSS,
// and other common web vulnerabilities.
package validate

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrSQLKeyword        = errors.New("string contains SQL keywords")
	ErrEmpty             = errors.New("string is empty")
)

// Common SQL keywords to detect potential SQL injection attempts
// This is a basic defense layer; parameterized queries are the primary defense
var sqlWordKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "EXEC", "EXECUTE", "UNION", "JOIN", "WHERE", "FROM",
}

// SQL syntax fragments that have no place in legitimate text input
var sqlFragments = []string{"--", "/*", "*/", ";--", "xp_", "sp_"}

// sqlWordPattern matches SQL keywords only as standalone words, so names
// like "The Executive" or "Updated" do not trip the check.
var sqlWordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(sqlWordKeywords, "|") + `)\b`)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength        int            // Minimum length (0 = no minimum)
	MaxLength        int            // Maximum length (0 = no maximum)
	AllowedPattern   *regexp.Regexp // Optional regex pattern for allowed characters
	DisallowedWords  []string       // Optional list of disallowed words (case-insensitive)
	CheckSQLKeywords bool           // Whether to check for SQL keywords
	AllowEmpty       bool           // Whether empty strings are allowed
	TrimSpace        bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	// Optionally trim whitespace
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	// Check if empty
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Get actual character count (not byte count)
	length := utf8.RuneCountInString(s)

	// Check minimum length
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}

	// Check maximum length
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	// Check allowed pattern
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	// Check SQL keywords if enabled
	if constraints.CheckSQLKeywords {
		if err := checkSQLKeywords(s); err != nil {
			return "", err
		}
	}

	// Check disallowed words
	if len(constraints.DisallowedWords) > 0 {
		upper := strings.ToUpper(s)
		for _, word := range constraints.DisallowedWords {
			if strings.Contains(upper, strings.ToUpper(word)) {
				return "", fmt.Errorf("string contains disallowed word: %q", word)
			}
		}
	}

	return s, nil
}

// checkSQLKeywords checks if the string contains common SQL keywords.
// Keywords are matched on word boundaries to avoid false positives on
// legitimate text containing them as substrings.
func checkSQLKeywords(s string) error {
	if match := sqlWordPattern.FindString(s); match != "" {
		return fmt.Errorf("%w: contains %q", ErrSQLKeyword, match)
	}
	for _, fragment := range sqlFragments {
		if strings.Contains(strings.ToLower(s), fragment) {
			return fmt.Errorf("%w: contains %q", ErrSQLKeyword, fragment)
		}
	}
	return nil
}

// SanitizeHTML escapes HTML special characters to prevent XSS attacks.
// This should be called on all user-generated text that will be displayed in HTML.
func SanitizeHTML(s string) string {
	return html.EscapeString(s)
}

// SanitizeString performs both validation and HTML sanitization.
// Returns the sanitized string and an error if validation fails.
func SanitizeString(s string, constraints StringConstraints) (string, error) {
	validated, err := String(s, constraints)
	if err != nil {
		return "", err
	}
	return SanitizeHTML(validated), nil
}

// affiliateCodePattern restricts referral codes to URL-safe characters.
var affiliateCodePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// CustomerName validates a customer first or last name:
// - 1-100 characters
// - HTML-escaped output
// Names carry accents and non-Latin scripts, so no character allowlist, and
// no SQL keyword check since parameterized queries handle injection.
func CustomerName(name string) (string, error) {
	return SanitizeString(name, StringConstraints{
		MinLength:  1,
		MaxLength:  100,
		AllowEmpty: false,
		TrimSpace:  true,
	})
}

// AddressLine validates a street address, city or similar postal field:
// - 1-200 characters
// - HTML-escaped output
// Street names like "Union Street" contain SQL keywords, so no keyword check.
func AddressLine(line string) (string, error) {
	return SanitizeString(line, StringConstraints{
		MinLength:  1,
		MaxLength:  200,
		AllowEmpty: false,
		TrimSpace:  true,
	})
}

// AffiliateCode validates a referral code from a ?ref= query parameter:
// - 1-64 characters
// - Letters, numbers, dash, underscore only
func AffiliateCode(code string) (string, error) {
	return String(code, StringConstraints{
		MinLength:      1,
		MaxLength:      64,
		AllowedPattern: affiliateCodePattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}
