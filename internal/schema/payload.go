// Package schema provides the data structures for queued transactions and
// the payload files dropped into the inbox directory.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ErrInvalidPayload is returned (wrapped) by Validate for any rule violation.
var ErrInvalidPayload = errors.New("invalid transaction payload")

// Kind is the direction of a transaction.
type Kind string

const (
	// KindIncome is money coming in.
	KindIncome Kind = "income"
	// KindExpense is money going out.
	KindExpense Kind = "expense"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// DateLayout is the wire and display format of Payload.OccurredAt.
const DateLayout = "2006-01-02"

// Payload holds the user-entered fields of a transaction. Once a payload has
// been enqueued it is never edited; the only way to change it is to remove
// the queued item and enqueue a new one.
type Payload struct {
	Kind         Kind            `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	CategoryIcon string          `json:"categoryIcon,omitempty"`
	OccurredAt   time.Time       `json:"date"`
	Notes        string          `json:"notes,omitempty"`
	TagIDs       []string        `json:"tagIds,omitempty"`
}

// Validate checks if the Payload has valid field values.
func (p *Payload) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: type must be %q or %q (got %q)", ErrInvalidPayload, KindIncome, KindExpense, p.Kind)
	}
	if p.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative (got %s)", ErrInvalidPayload, p.Amount)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidPayload)
	}
	if n := utf8.RuneCountInString(p.Description); n > 500 {
		return fmt.Errorf("%w: description must be 500 characters or less (got %d)", ErrInvalidPayload, n)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidPayload)
	}
	if p.OccurredAt.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidPayload)
	}
	return nil
}

// Normalize trims text fields, truncates the date to the day and turns the
// tag list into a sorted set.
func (p *Payload) Normalize() {
	p.Description = strings.TrimSpace(p.Description)
	p.Category = strings.TrimSpace(p.Category)
	p.CategoryIcon = strings.TrimSpace(p.CategoryIcon)
	p.Notes = strings.TrimSpace(p.Notes)
	if !p.OccurredAt.IsZero() {
		y, m, d := p.OccurredAt.Date()
		p.OccurredAt = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	p.TagIDs = tagSet(p.TagIDs)
}

// MarshalJSON writes OccurredAt as a plain date.
func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	return json.Marshal(struct {
		alias
		OccurredAt string `json:"date"`
	}{
		alias:      alias(p),
		OccurredAt: p.OccurredAt.Format(DateLayout),
	})
}

// UnmarshalJSON accepts either a plain date or an RFC 3339 timestamp.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	aux := struct {
		*alias
		OccurredAt string `json:"date"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.OccurredAt == "" {
		p.OccurredAt = time.Time{}
		return nil
	}
	t, err := ParseDate(aux.OccurredAt)
	if err != nil {
		return err
	}
	p.OccurredAt = t
	return nil
}

// ParseDate parses a date in DateLayout or RFC 3339 form.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func tagSet(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ReadPayloadFile reads, parses and validates a payload JSON file.
func ReadPayloadFile(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file %s: %w", path, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to parse payload file %s: %v", ErrInvalidPayload, path, err)
	}

	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload file %s: %w", path, err)
	}

	return &p, nil
}

// WritePayloadFile writes p to dir/name as pretty-printed JSON.
// It is mostly used to stage files for the inbox watcher.
func WritePayloadFile(dir, name string, p *Payload) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid payload: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	// Write under a temp name first so a watcher never sees a half-written file.
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write payload file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move payload file into place: %w", err)
	}

	return nil
}

// ListPayloadFiles returns the paths of all *.json files directly in dir.
// A missing directory yields an empty list.
func ListPayloadFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}
