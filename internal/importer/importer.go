// Package importer bulk-loads transactions from a JSON Lines file.
//
// Each line is one payload in the same shape the remote API accepts:
//
//	{"type":"expense","amount":"50","description":"Coffee","category":"Food","date":"2026-10-14"}
//
// Rows go through the write façade one by one, so an import made while
// offline lands in the queue and syncs later like any other entry.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/schema"
)

// maxLineSize bounds a single JSONL row.
const maxLineSize = 1 << 20

// Creator records a transaction. *entry.Service satisfies it.
type Creator interface {
	Create(ctx context.Context, p schema.Payload) (entry.Result, error)
}

// Row is one parsed line.
type Row struct {
	Line    int
	Payload schema.Payload
}

// Options configures an import.
type Options struct {
	// DryRun parses and validates without creating anything.
	DryRun bool

	// StopOnError aborts at the first failing row instead of continuing.
	StopOnError bool

	Logger logrus.FieldLogger
}

// Result reports what an import did.
type Result struct {
	// Imported counts rows accepted (or, for a dry run, rows that would be).
	Imported int `json:"imported"`

	// Offline counts imported rows that went to the local queue.
	Offline int `json:"offline"`

	// Errors holds one message per failed row, prefixed with its line number.
	Errors []string `json:"errors,omitempty"`
}

// FromJSONL reads and parses every row of a JSONL file. Blank lines and
// lines starting with # are skipped. Rows are normalized but not validated.
func FromJSONL(path string) ([]Row, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var rows []Row
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var p schema.Payload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		p.Normalize()
		rows = append(rows, Row{Line: lineNum, Payload: p})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}

	return rows, nil
}

// Import feeds every row of the file at path to creator.
// A file that cannot be parsed fails as a whole before anything is created.
func Import(ctx context.Context, creator Creator, path string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "importer")

	rows, err := FromJSONL(path)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{"rows": len(rows), "dry_run": opts.DryRun}).Info("Importing transactions")

	result := &Result{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := row.Payload.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
			if opts.StopOnError {
				break
			}
			continue
		}

		if opts.DryRun {
			result.Imported++
			continue
		}

		res, err := creator.Create(ctx, row.Payload)
		if err != nil {
			logger.WithError(err).WithField("line", row.Line).Warn("Failed to import row")
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", row.Line, err))
			if opts.StopOnError {
				break
			}
			continue
		}

		result.Imported++
		if res.Offline {
			result.Offline++
		}
	}

	logger.WithFields(logrus.Fields{
		"imported": result.Imported,
		"offline":  result.Offline,
		"failed":   len(result.Errors),
	}).Info("Import complete")

	return result, nil
}
