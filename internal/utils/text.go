package utils

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var minorWords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true,
	"da": true, "de": true, "do": true, "das": true, "dos": true,
	"e": true, "em": true, "na": true, "no": true, "nas": true, "nos": true,
	"para": true, "por": true, "com": true,
}

// ToTitleCase capitalizes each word, keeping Portuguese connectives
// lowercase unless they open the string.
func ToTitleCase(s string) string {
	lowerPT := cases.Lower(language.BrazilianPortuguese)
	titlePT := cases.Title(language.BrazilianPortuguese)
	words := strings.Fields(s)
	for i, w := range words {
		lw := lowerPT.String(w)
		if i > 0 && minorWords[lw] {
			words[i] = lw
			continue
		}
		words[i] = titlePT.String(lw)
	}
	return strings.Join(words, " ")
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseDate accepts ISO dates, Brazilian DD/MM/YYYY and timestamps.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDuration renders seconds as "1h 05m" or "12m 30s".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm", h, m)
	}
	return fmt.Sprintf("%dm %02ds", m, s)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
