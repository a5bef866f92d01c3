package normalize

import (
	"strings"
	"time"

	"github.com/finledger/pipeline/internal/domain"
)

// dateLayouts are the encodings the exports have been seen to use: ISO-8601,
// US slash form, and free-text month names. Anything else fails rather than
// guessing.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate coerces a date cell into a calendar date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, &domain.DateParseError{Value: s}
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, &domain.DateParseError{Value: v}
}
