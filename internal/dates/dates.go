// Package dates turns user-typed dates ("2026-10-14", "yesterday",
// "last friday") into calendar days.
package dates

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// Parse resolves s relative to now. ISO dates are tried first; anything else
// goes through the natural-language parser. The result is midnight UTC of the
// resolved day. An empty string means today.
func Parse(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return day(now), nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return day(t), nil
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	return day(r.Time), nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
