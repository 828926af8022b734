package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCountryCode = "us"
	DefaultLanguage    = "en"
	maxTopicNameLength = 120
)

// Topic is a keyword query that schedules deliver news for.
type Topic struct {
	ID          string
	OwnerID     string
	Name        string
	Keywords    []string
	CountryCode string
	Language    string
	CreatedAt   time.Time
}

// ParseKeywords splits a comma separated keyword list, dropping blanks and duplicates.
func ParseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		kw := strings.TrimSpace(part)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, kw)
	}
	return keywords
}

func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, ",")
}

// Normalize trims fields and applies the country/language defaults.
func (t *Topic) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	cleaned := ParseKeywords(JoinKeywords(t.Keywords))
	t.Keywords = cleaned
	t.CountryCode = strings.ToLower(strings.TrimSpace(t.CountryCode))
	if t.CountryCode == "" {
		t.CountryCode = DefaultCountryCode
	}
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	if t.Language == "" {
		t.Language = DefaultLanguage
	}
}

func (t *Topic) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: topic name is required", ErrValidation)
	}
	if len([]rune(t.Name)) > maxTopicNameLength {
		return fmt.Errorf("%w: topic name exceeds %d characters", ErrValidation, maxTopicNameLength)
	}
	if len(t.Keywords) == 0 {
		return fmt.Errorf("%w: at least one keyword is required", ErrValidation)
	}
	if len(t.CountryCode) != 2 {
		return fmt.Errorf("%w: invalid country code %q", ErrValidation, t.CountryCode)
	}
	if len(t.Language) < 2 || len(t.Language) > 3 {
		return fmt.Errorf("%w: invalid language %q", ErrValidation, t.Language)
	}
	return nil
}
