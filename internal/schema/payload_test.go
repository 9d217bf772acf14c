package schema

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validPayload() Payload {
	return Payload{
		Kind:         KindExpense,
		Amount:       decimal.RequireFromString("50.00"),
		Description:  "Coffee",
		Category:     "Food",
		CategoryIcon: "☕",
		OccurredAt:   time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
	}
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Payload)
		wantErr string
	}{
		{name: "valid", mutate: func(p *Payload) {}},
		{name: "zero amount allowed", mutate: func(p *Payload) { p.Amount = decimal.Zero }},
		{name: "bad kind", mutate: func(p *Payload) { p.Kind = "transfer" }, wantErr: "type must be"},
		{name: "negative amount", mutate: func(p *Payload) { p.Amount = decimal.NewFromInt(-1) }, wantErr: "must not be negative"},
		{name: "missing description", mutate: func(p *Payload) { p.Description = "  " }, wantErr: "description is required"},
		{name: "long description", mutate: func(p *Payload) { p.Description = strings.Repeat("x", 501) }, wantErr: "500 characters"},
		{name: "500 multibyte characters", mutate: func(p *Payload) { p.Description = strings.Repeat("é", 500) }},
		{name: "501 multibyte characters", mutate: func(p *Payload) { p.Description = strings.Repeat("日", 501) }, wantErr: "got 501"},
		{name: "missing category", mutate: func(p *Payload) { p.Category = "" }, wantErr: "category is required"},
		{name: "missing date", mutate: func(p *Payload) { p.OccurredAt = time.Time{} }, wantErr: "date is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("error %v does not wrap ErrInvalidPayload", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPayloadNormalize(t *testing.T) {
	p := Payload{
		Description: "  Parking ",
		Category:    " Transport",
		OccurredAt:  time.Date(2026, 3, 9, 17, 45, 0, 0, time.FixedZone("X", 3600)),
		TagIDs:      []string{"work", "", "car", "work", " car "},
	}
	p.Normalize()

	if p.Description != "Parking" || p.Category != "Transport" {
		t.Errorf("strings not trimmed: %q %q", p.Description, p.Category)
	}
	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	if !p.OccurredAt.Equal(want) {
		t.Errorf("OccurredAt = %v, want %v", p.OccurredAt, want)
	}
	if !reflect.DeepEqual(p.TagIDs, []string{"car", "work"}) {
		t.Errorf("TagIDs = %v, want [car work]", p.TagIDs)
	}
}

func TestPayloadJSON(t *testing.T) {
	p := validPayload()
	p.TagIDs = []string{"t1"}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"date":"2026-10-14"`) {
		t.Errorf("date not written as plain date: %s", data)
	}
	if !strings.Contains(string(data), `"type":"expense"`) {
		t.Errorf("kind not written as type: %s", data)
	}

	var got Payload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !got.OccurredAt.Equal(p.OccurredAt) || !got.Amount.Equal(p.Amount) || got.Description != p.Description {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestPayloadUnmarshal_RFC3339AndNumericAmount(t *testing.T) {
	var p Payload
	raw := `{"type":"income","amount":20,"description":"Refund","category":"Misc","date":"2026-10-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !p.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Amount = %s, want 20", p.Amount)
	}
	if p.OccurredAt.Day() != 1 || p.OccurredAt.Month() != time.October {
		t.Errorf("OccurredAt = %v", p.OccurredAt)
	}

	if err := json.Unmarshal([]byte(`{"date":"yesterday"}`), &p); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestPayloadFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	p := validPayload()

	if err := WritePayloadFile(dir, "coffee", &p); err != nil {
		t.Fatalf("WritePayloadFile failed: %v", err)
	}

	paths, err := ListPayloadFiles(dir)
	if err != nil {
		t.Fatalf("ListPayloadFiles failed: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "coffee.json" {
		t.Fatalf("paths = %v, want [coffee.json]", paths)
	}

	got, err := ReadPayloadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadPayloadFile failed: %v", err)
	}
	if got.Description != "Coffee" || !got.Amount.Equal(p.Amount) {
		t.Errorf("read back %+v", got)
	}
}

func TestReadPayloadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`{"type":"expense","amount":"-3"}`), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadPayloadFile(path)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("ReadPayloadFile error = %v, want ErrInvalidPayload", err)
	}
}

func TestListPayloadFiles_MissingDir(t *testing.T) {
	paths, err := ListPayloadFiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ListPayloadFiles failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected no paths, got %v", paths)
	}
}
