package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/schema"
)

// stubRemote accepts every submission unless its description is listed in
// reject.
type stubRemote struct {
	mu     sync.Mutex
	reject map[string]bool
	calls  []string
	keys   []string
	nextID int
}

func (s *stubRemote) CreateTransaction(_ context.Context, p schema.Payload, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, p.Description)
	s.keys = append(s.keys, key)
	if s.reject[p.Description] {
		return "", fmt.Errorf("remote service returned 500: %s rejected", p.Description)
	}
	s.nextID++
	return fmt.Sprintf("tx_%d", s.nextID), nil
}

func (s *stubRemote) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubRemote) setReject(desc string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject == nil {
		s.reject = make(map[string]bool)
	}
	s.reject[desc] = v
}

// setupQueue creates a queue in a temporary directory.
func setupQueue(t *testing.T) *queue.Queue {
	t.Helper()

	q := queue.New(filepath.Join(t.TempDir(), "queue.db"))
	if err := q.Open(context.Background()); err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueue(t *testing.T, q *queue.Queue, kind schema.Kind, amount, desc string) string {
	t.Helper()

	id, err := q.Enqueue(context.Background(), schema.Payload{
		Kind:        kind,
		Amount:      decimal.RequireFromString(amount),
		Description: desc,
		Category:    "General",
		OccurredAt:  time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("failed to enqueue %s: %v", desc, err)
	}
	return id
}

// enqueueScenario adds the three items used by the drain scenarios.
func enqueueScenario(t *testing.T, q *queue.Queue) (a, b, c string) {
	t.Helper()
	a = enqueue(t, q, schema.KindExpense, "50", "Coffee")
	b = enqueue(t, q, schema.KindIncome, "20", "Refund")
	c = enqueue(t, q, schema.KindExpense, "12", "Parking")
	return a, b, c
}

func countPending(t *testing.T, q *queue.Queue) int {
	t.Helper()
	n, err := q.CountPending(context.Background())
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	return n
}

func TestDrain_AllAccepted(t *testing.T) {
	q := setupQueue(t)
	enqueueScenario(t, q)

	remote := &stubRemote{}
	engine := New(Config{Queue: q, Remote: remote})

	result := engine.Drain(context.Background())

	if result.SuccessCount != 3 || result.FailureCount != 0 || result.TotalCount != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if n := countPending(t, q); n != 0 {
		t.Errorf("CountPending() = %d after drain, want 0", n)
	}

	all, err := q.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("synced records should be pruned, %d remain", len(all))
	}
	if engine.Status() != StatusIdle {
		t.Errorf("Status() = %s after drain, want idle", engine.Status())
	}
}

func TestDrain_OneRejected(t *testing.T) {
	q := setupQueue(t)
	_, b, _ := enqueueScenario(t, q)

	remote := &stubRemote{}
	remote.setReject("Refund", true)
	engine := New(Config{Queue: q, Remote: remote})

	result := engine.Drain(context.Background())

	if result.SuccessCount != 2 || result.FailureCount != 1 || result.TotalCount != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].LocalID != b || result.Errors[0].Error == "" {
		t.Errorf("unexpected errors: %+v", result.Errors)
	}
	if got := result.Summary(); got != "synced 2, 1 failed" {
		t.Errorf("Summary() = %q", got)
	}

	pending, err := q.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].LocalID != b {
		t.Fatalf("expected only %s pending, got %v", b, pending)
	}
	if pending[0].SyncAttempts != 1 {
		t.Errorf("SyncAttempts = %d, want 1", pending[0].SyncAttempts)
	}
}

func TestDrain_FailureIsolationAnyPosition(t *testing.T) {
	descs := []string{"one", "two", "three", "four", "five"}

	for k := range descs {
		t.Run(descs[k], func(t *testing.T) {
			q := setupQueue(t)
			for _, d := range descs {
				enqueue(t, q, schema.KindExpense, "1", d)
			}

			remote := &stubRemote{}
			remote.setReject(descs[k], true)
			result := New(Config{Queue: q, Remote: remote}).Drain(context.Background())

			if result.SuccessCount != len(descs)-1 || result.FailureCount != 1 {
				t.Errorf("unexpected result: %+v", result)
			}
			if remote.callCount() != len(descs) {
				t.Errorf("expected %d remote calls, got %d", len(descs), remote.callCount())
			}
			if n := countPending(t, q); n != 1 {
				t.Errorf("CountPending() = %d, want 1", n)
			}
		})
	}
}

// blockingRemote holds every submission until release is closed.
type blockingRemote struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	once    sync.Once
}

func (b *blockingRemote) CreateTransaction(ctx context.Context, p schema.Payload, key string) (string, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "tx_" + key, nil
}

func TestDrain_ConcurrentCallRejected(t *testing.T) {
	q := setupQueue(t)
	enqueue(t, q, schema.KindExpense, "50", "Coffee")

	remote := &blockingRemote{started: make(chan struct{}), release: make(chan struct{})}
	engine := New(Config{Queue: q, Remote: remote})

	done := make(chan Result, 1)
	go func() { done <- engine.Drain(context.Background()) }()

	select {
	case <-remote.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first drain never reached the remote")
	}

	second := engine.Drain(context.Background())
	if second.Skipped != SkipInProgress {
		t.Errorf("second drain Skipped = %q, want %q", second.Skipped, SkipInProgress)
	}
	if second.TotalCount != 0 || second.SuccessCount != 0 {
		t.Errorf("second drain should be empty: %+v", second)
	}
	if !engine.Syncing() {
		t.Error("engine should report syncing while blocked")
	}

	close(remote.release)
	first := <-done

	if first.SuccessCount != 1 {
		t.Errorf("first drain: %+v", first)
	}
	if n := remote.calls.Load(); n != 1 {
		t.Errorf("remote called %d times, want 1", n)
	}
}

func TestDrain_RetryPersistence(t *testing.T) {
	q := setupQueue(t)
	id := enqueue(t, q, schema.KindIncome, "20", "Refund")

	remote := &stubRemote{}
	remote.setReject("Refund", true)
	engine := New(Config{Queue: q, Remote: remote})
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		engine.Drain(ctx)

		item, err := q.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get() after attempt %d failed: %v", attempt, err)
		}
		if item.SyncAttempts != attempt {
			t.Errorf("SyncAttempts = %d, want %d", item.SyncAttempts, attempt)
		}
	}

	remote.setReject("Refund", false)
	result := engine.Drain(ctx)
	if result.SuccessCount != 1 {
		t.Fatalf("third drain: %+v", result)
	}

	if _, err := q.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("Get() after success = %v, want pruned record", err)
	}
}

func TestDrain_NoDoubleSubmit(t *testing.T) {
	q := setupQueue(t)
	enqueueScenario(t, q)

	remote := &stubRemote{}
	engine := New(Config{Queue: q, Remote: remote})

	engine.Drain(context.Background())
	second := engine.Drain(context.Background())

	if second.TotalCount != 0 {
		t.Errorf("second drain saw %d items, want 0", second.TotalCount)
	}
	if remote.callCount() != 3 {
		t.Errorf("remote called %d times, want 3", remote.callCount())
	}
}

func TestDrain_EventuallyDelivered(t *testing.T) {
	q := setupQueue(t)
	for i := 0; i < 6; i++ {
		enqueue(t, q, schema.KindExpense, "1", fmt.Sprintf("item-%d", i))
	}

	remote := &stubRemote{}
	remote.setReject("item-2", true)
	remote.setReject("item-4", true)
	engine := New(Config{Queue: q, Remote: remote})

	engine.Drain(context.Background())
	remote.setReject("item-2", false)
	engine.Drain(context.Background())
	remote.setReject("item-4", false)
	engine.Drain(context.Background())

	if n := countPending(t, q); n != 0 {
		t.Fatalf("CountPending() = %d, want 0", n)
	}

	successes := make(map[string]int)
	remote.mu.Lock()
	for _, d := range remote.calls {
		if !remote.reject[d] {
			successes[d]++
		}
	}
	remote.mu.Unlock()
	for i := 0; i < 6; i++ {
		d := fmt.Sprintf("item-%d", i)
		if successes[d] < 1 {
			t.Errorf("%s never delivered", d)
		}
	}
}

func TestDrain_SendsLocalIDAsIdempotencyKey(t *testing.T) {
	q := setupQueue(t)
	id := enqueue(t, q, schema.KindExpense, "50", "Coffee")

	remote := &stubRemote{}
	New(Config{Queue: q, Remote: remote}).Drain(context.Background())

	if len(remote.keys) != 1 || remote.keys[0] != id {
		t.Errorf("idempotency keys = %v, want [%s]", remote.keys, id)
	}
}

func TestDrain_Offline(t *testing.T) {
	q := setupQueue(t)
	enqueue(t, q, schema.KindExpense, "50", "Coffee")

	var notices []notify.Notice
	remote := &stubRemote{}
	engine := New(Config{
		Queue:        q,
		Remote:       remote,
		Connectivity: OnlineFunc(func() bool { return false }),
		Notifier:     notify.NotifierFunc(func(n notify.Notice) { notices = append(notices, n) }),
	})

	result := engine.Drain(context.Background())

	if result.Skipped != SkipOffline {
		t.Errorf("Skipped = %q, want %q", result.Skipped, SkipOffline)
	}
	if remote.callCount() != 0 {
		t.Errorf("remote called %d times while offline", remote.callCount())
	}
	if len(notices) != 1 || notices[0].Level != notify.LevelWarning {
		t.Errorf("expected one warning notice, got %v", notices)
	}
	if n := countPending(t, q); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}
}

func TestDrain_EmptyQueueStaysQuiet(t *testing.T) {
	q := setupQueue(t)

	var events []Event
	var notices int
	engine := New(Config{
		Queue:    q,
		Remote:   &stubRemote{},
		Notifier: notify.NotifierFunc(func(notify.Notice) { notices++ }),
	})
	engine.Subscribe(func(ev Event) { events = append(events, ev) })

	result := engine.Drain(context.Background())

	if result.Attempted() {
		t.Errorf("empty drain attempted items: %+v", result)
	}
	if notices != 0 {
		t.Errorf("empty drain produced %d notices", notices)
	}
	if len(events) != 2 || events[0].Status != StatusSyncing || events[1].Status != StatusIdle {
		t.Errorf("unexpected events: %+v", events)
	}
}

// flakyStore fails the bookkeeping write for one item.
type flakyStore struct {
	*queue.Queue
	failMark string
}

func (f *flakyStore) MarkSynced(ctx context.Context, localID, remoteID string) error {
	if localID == f.failMark {
		return fmt.Errorf("%w: disk full", queue.ErrStorageIO)
	}
	return f.Queue.MarkSynced(ctx, localID, remoteID)
}

func TestDrain_BookkeepingFaultIsPerItem(t *testing.T) {
	q := setupQueue(t)
	a, b, _ := enqueueScenario(t, q)

	engine := New(Config{Queue: &flakyStore{Queue: q, failMark: a}, Remote: &stubRemote{}})
	result := engine.Drain(context.Background())

	if result.SuccessCount != 2 || result.FailureCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Errors[0].LocalID != a {
		t.Errorf("failure recorded against %s, want %s", result.Errors[0].LocalID, a)
	}

	item, err := q.Get(context.Background(), a)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.Synced || item.SyncAttempts != 1 {
		t.Errorf("item should stay pending with one attempt: %+v", item)
	}
	if _, err := q.Get(context.Background(), b); !errors.Is(err, queue.ErrNotFound) {
		t.Errorf("%s should have been pruned", b)
	}
}

// brokenStore cannot list pending items.
type brokenStore struct {
	*queue.Queue
}

func (brokenStore) ListPending(context.Context) ([]*schema.QueuedTransaction, error) {
	return nil, fmt.Errorf("%w: database is locked", queue.ErrStorageIO)
}

func TestDrain_SnapshotFailure(t *testing.T) {
	q := setupQueue(t)

	var statuses []Status
	engine := New(Config{Queue: brokenStore{q}, Remote: &stubRemote{}})
	engine.Subscribe(func(ev Event) { statuses = append(statuses, ev.Status) })

	result := engine.Drain(context.Background())

	if !errors.Is(result.Err, queue.ErrStorageIO) {
		t.Errorf("Err = %v, want ErrStorageIO", result.Err)
	}
	want := []Status{StatusSyncing, StatusError, StatusIdle}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
}

func TestSubscribe(t *testing.T) {
	q := setupQueue(t)
	enqueueScenario(t, q)

	remote := &stubRemote{}
	remote.setReject("Parking", true)
	engine := New(Config{Queue: q, Remote: remote})

	var events []Event
	unsubscribe := engine.Subscribe(func(ev Event) { events = append(events, ev) })
	engine.Subscribe(func(Event) { panic("listener bug") })

	engine.Drain(context.Background())

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Status != StatusSyncing || events[0].Result != nil {
		t.Errorf("first event: %+v", events[0])
	}
	if events[1].Status != StatusError || events[1].Result == nil || events[1].Result.FailureCount != 1 {
		t.Errorf("terminal event: %+v", events[1])
	}
	if events[2].Status != StatusIdle {
		t.Errorf("last event: %+v", events[2])
	}

	last := engine.LastResult()
	if last == nil || last.TotalCount != 3 {
		t.Errorf("LastResult() = %+v", last)
	}

	unsubscribe()
	unsubscribe()
	engine.Drain(context.Background())
	if len(events) != 3 {
		t.Errorf("unsubscribed listener still received events: %d", len(events))
	}
}

func TestResultSummary(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"in progress", Result{Skipped: SkipInProgress}, "sync already in progress"},
		{"offline", Result{Skipped: SkipOffline}, "offline, nothing sent"},
		{"empty", Result{}, "nothing to sync"},
		{"clean", Result{SuccessCount: 3, TotalCount: 3}, "synced 3"},
		{"partial", Result{SuccessCount: 1, FailureCount: 2, TotalCount: 3}, "synced 1, 2 failed"},
		{"interrupted", Result{SuccessCount: 1, TotalCount: 3, Interrupted: true}, "interrupted after 1 of 3 (1 synced, 0 failed)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

// cancellingRemote cancels the drain's context while handling its first
// submission. When accept is set the submission still succeeds.
type cancellingRemote struct {
	cancel context.CancelFunc
	accept bool
	calls  atomic.Int32
}

func (c *cancellingRemote) CreateTransaction(ctx context.Context, p schema.Payload, key string) (string, error) {
	c.calls.Add(1)
	c.cancel()
	if !c.accept {
		return "", fmt.Errorf("submit %s: %w", key, ctx.Err())
	}
	return "tx_" + key, nil
}

func TestDrain_CancelledMidBatch(t *testing.T) {
	tests := []struct {
		name        string
		accept      bool
		wantSuccess int
	}{
		{"first accepted", true, 1},
		{"first cut short", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := setupQueue(t)
			a, b, c := enqueueScenario(t, q)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var notices []notify.Notice
			remote := &cancellingRemote{cancel: cancel, accept: tt.accept}
			engine := New(Config{
				Queue:    q,
				Remote:   remote,
				Notifier: notify.NotifierFunc(func(n notify.Notice) { notices = append(notices, n) }),
			})

			result := engine.Drain(ctx)

			if !result.Interrupted {
				t.Errorf("Interrupted = false: %+v", result)
			}
			if result.SuccessCount != tt.wantSuccess || result.FailureCount != 0 || len(result.Errors) != 0 {
				t.Errorf("unexpected counts: %+v", result)
			}
			if n := remote.calls.Load(); n != 1 {
				t.Errorf("remote called %d times, want 1", n)
			}

			untouched := []string{b, c}
			if !tt.accept {
				untouched = append(untouched, a)
			}
			for _, id := range untouched {
				item, err := q.Get(context.Background(), id)
				if err != nil {
					t.Fatalf("Get(%s) failed: %v", id, err)
				}
				if !item.Pending() || item.SyncAttempts != 0 || item.LastError != "" {
					t.Errorf("%s should be untouched, got attempts=%d last_error=%q",
						id, item.SyncAttempts, item.LastError)
				}
			}
			if n := countPending(t, q); n != len(untouched) {
				t.Errorf("CountPending() = %d, want %d", n, len(untouched))
			}

			if len(notices) != 1 || notices[0].Level != notify.LevelWarning {
				t.Errorf("expected one warning notice, got %+v", notices)
			}
			if engine.Status() != StatusIdle {
				t.Errorf("Status() = %s, want idle", engine.Status())
			}
		})
	}
}

func TestDrain_AlreadyCancelled(t *testing.T) {
	q := setupQueue(t)
	enqueueScenario(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	remote := &stubRemote{}
	result := New(Config{Queue: q, Remote: remote}).Drain(ctx)

	if !result.Interrupted || result.SuccessCount != 0 || result.FailureCount != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if remote.callCount() != 0 {
		t.Errorf("remote called %d times after cancellation", remote.callCount())
	}

	pending, err := q.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for _, item := range pending {
		if item.SyncAttempts != 0 {
			t.Errorf("%s SyncAttempts = %d, want 0", item.LocalID, item.SyncAttempts)
		}
	}
}
