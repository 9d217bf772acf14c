package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tallyapp/tally/internal/syncer"
)

func setupFixture(t *testing.T, remote *CountingRemote) *Fixture {
	t.Helper()
	f, err := NewFixture(context.Background(), filepath.Join(t.TempDir(), "queue.db"), remote)
	if err != nil {
		t.Fatalf("NewFixture() failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestConcurrentEnqueues(t *testing.T) {
	f := setupFixture(t, NewCountingRemote(0, 0))
	ctx := context.Background()

	stats, err := f.RunConcurrentEnqueues(ctx, 8, 25)
	if err != nil {
		t.Fatalf("RunConcurrentEnqueues() failed: %v", err)
	}
	if stats.Operations != 200 {
		t.Errorf("Operations = %d, want 200", stats.Operations)
	}

	n, err := f.Queue.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if n != 200 {
		t.Errorf("pending = %d, want 200", n)
	}

	seen := make(map[string]bool)
	for _, id := range f.LocalIDs() {
		if seen[id] {
			t.Fatalf("duplicate local ID %s", id)
		}
		seen[id] = true
	}
}

func TestOverlappingDrainsDeliverOnce(t *testing.T) {
	f := setupFixture(t, NewCountingRemote(time.Millisecond, 0))
	ctx := context.Background()

	if _, err := f.RunConcurrentEnqueues(ctx, 4, 10); err != nil {
		t.Fatalf("RunConcurrentEnqueues() failed: %v", err)
	}

	results := f.DrainConcurrently(ctx, 5)

	worked := 0
	for _, r := range results {
		switch {
		case r.Skipped == syncer.SkipInProgress:
		case r.Attempted():
			worked++
		}
	}
	if worked == 0 {
		t.Fatal("no drain did any work")
	}

	if _, err := f.DrainUntilEmpty(ctx, 3); err != nil {
		t.Fatalf("DrainUntilEmpty() failed: %v", err)
	}
	if err := f.VerifyExactlyOnce(); err != nil {
		t.Error(err)
	}
}

func TestDrainWithInjectedFailures(t *testing.T) {
	f := setupFixture(t, NewCountingRemote(0, 3))
	ctx := context.Background()

	if _, err := f.RunConcurrentEnqueues(ctx, 3, 10); err != nil {
		t.Fatalf("RunConcurrentEnqueues() failed: %v", err)
	}

	first := f.Engine.Drain(ctx)
	if first.FailureCount == 0 {
		t.Error("expected some failures on the first drain")
	}
	if first.SuccessCount+first.FailureCount != 30 {
		t.Errorf("first drain handled %d items, want 30", first.SuccessCount+first.FailureCount)
	}

	rounds, err := f.DrainUntilEmpty(ctx, 10)
	if err != nil {
		t.Fatalf("DrainUntilEmpty() failed after %d rounds: %v", rounds, err)
	}
	if err := f.VerifyExactlyOnce(); err != nil {
		t.Error(err)
	}
	if f.Remote.Calls() <= 30 {
		t.Errorf("Calls = %d, want retries beyond the first 30", f.Remote.Calls())
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	if empty := computeLatencyStats(nil); empty.Operations != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	var buf bytes.Buffer
	stats.Print(&buf)
	if !strings.Contains(buf.String(), "Operations:   100") {
		t.Errorf("Print() = %q", buf.String())
	}
}
