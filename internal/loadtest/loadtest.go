// Package loadtest exercises the offline queue and the sync engine under
// concurrent load.
//
// A Fixture pairs a real on-disk queue with an in-memory remote that counts
// submissions per idempotency key, so tests can check that many concurrent
// writers and overlapping drains still deliver every transaction exactly
// once.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/syncer"
)

// CountingRemote is an in-memory remote service. It accepts every create
// except each FailEvery-th call, and remembers how often each key was
// accepted.
type CountingRemote struct {
	Latency   time.Duration
	FailEvery int

	mu       sync.Mutex
	calls    int
	accepted map[string]int
}

// NewCountingRemote returns an empty remote.
func NewCountingRemote(latency time.Duration, failEvery int) *CountingRemote {
	return &CountingRemote{Latency: latency, FailEvery: failEvery, accepted: make(map[string]int)}
}

// CreateTransaction implements syncer.Remote.
func (r *CountingRemote) CreateTransaction(ctx context.Context, p schema.Payload, key string) (string, error) {
	if r.Latency > 0 {
		select {
		case <-time.After(r.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.FailEvery > 0 && r.calls%r.FailEvery == 0 {
		return "", fmt.Errorf("injected failure on call %d", r.calls)
	}
	r.accepted[key]++
	return fmt.Sprintf("remote-%d", r.calls), nil
}

// Calls returns the number of create calls seen.
func (r *CountingRemote) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Accepted returns a copy of the per-key acceptance counts.
func (r *CountingRemote) Accepted() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.accepted))
	for k, v := range r.accepted {
		out[k] = v
	}
	return out
}

// Fixture is a populated queue wired to an engine and a CountingRemote.
type Fixture struct {
	Queue  *queue.Queue
	Remote *CountingRemote
	Engine *syncer.Engine

	mu       sync.Mutex
	localIDs []string
}

// LatencyStats captures timings from a load run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Durations  []time.Duration
}

// NewFixture opens a queue at dbPath and wires it to a fresh remote.
func NewFixture(ctx context.Context, dbPath string, remote *CountingRemote) (*Fixture, error) {
	q := queue.New(dbPath)
	if err := q.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &Fixture{
		Queue:  q,
		Remote: remote,
		Engine: syncer.New(syncer.Config{
			Queue:  q,
			Remote: remote,
			Logger: logger,
		}),
	}, nil
}

// Close closes the queue.
func (f *Fixture) Close() error {
	return f.Queue.Close()
}

// LocalIDs returns the IDs of everything enqueued so far.
func (f *Fixture) LocalIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.localIDs...)
}

// RunConcurrentEnqueues starts writers goroutines that each enqueue
// perWriter payloads, and returns the enqueue latencies.
func (f *Fixture) RunConcurrentEnqueues(ctx context.Context, writers, perWriter int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, writers)
	errorsChan := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()

			payloads := generatePayloads(writer, perWriter)
			durations := make([]time.Duration, 0, perWriter)
			for j, p := range payloads {
				start := time.Now()
				id, err := f.Queue.Enqueue(ctx, p)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("writer %d enqueue %d failed: %w", writer, j, err)
					return
				}
				f.mu.Lock()
				f.localIDs = append(f.localIDs, id)
				f.mu.Unlock()
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var firstErr error
	errorCount := 0
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no enqueues completed: %w", firstErr)
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, firstErr
}

// DrainConcurrently calls Drain from n goroutines at once and returns every
// result. At most one of them does the work; the rest report
// SkipInProgress unless they start after it finished.
func (f *Fixture) DrainConcurrently(ctx context.Context, n int) []syncer.Result {
	var wg sync.WaitGroup
	results := make([]syncer.Result, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = f.Engine.Drain(ctx)
		}(i)
	}
	close(start)
	wg.Wait()
	return results
}

// DrainUntilEmpty drains repeatedly until nothing is pending, giving up
// after maxRounds. It returns the number of drains that did work.
func (f *Fixture) DrainUntilEmpty(ctx context.Context, maxRounds int) (int, error) {
	for round := 1; round <= maxRounds; round++ {
		result := f.Engine.Drain(ctx)
		if result.Err != nil {
			return round, result.Err
		}
		n, err := f.Queue.CountPending(ctx)
		if err != nil {
			return round, err
		}
		if n == 0 {
			return round, nil
		}
	}
	return maxRounds, fmt.Errorf("queue not empty after %d drains", maxRounds)
}

// VerifyExactlyOnce checks that every enqueued item was accepted by the
// remote exactly once and that nothing else was.
func (f *Fixture) VerifyExactlyOnce() error {
	accepted := f.Remote.Accepted()
	ids := f.LocalIDs()

	for _, id := range ids {
		switch n := accepted[id]; n {
		case 1:
		case 0:
			return fmt.Errorf("%s was never accepted", id)
		default:
			return fmt.Errorf("%s was accepted %d times", id, n)
		}
	}
	if len(accepted) != len(ids) {
		return fmt.Errorf("remote accepted %d keys, %d were enqueued", len(accepted), len(ids))
	}
	return nil
}

// generatePayloads builds a deterministic batch for one writer. Roughly one
// in five is income.
func generatePayloads(writer, count int) []schema.Payload {
	rng := rand.New(rand.NewSource(int64(42 + writer)))
	categories := []string{"Food", "Transport", "Rent", "Fun", "Health"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	payloads := make([]schema.Payload, count)
	for i := range payloads {
		kind := schema.KindExpense
		if rng.Intn(5) == 0 {
			kind = schema.KindIncome
		}
		payloads[i] = schema.Payload{
			Kind:        kind,
			Amount:      decimal.New(int64(rng.Intn(100000)), -2),
			Description: fmt.Sprintf("writer %d item %d", writer, i),
			Category:    categories[rng.Intn(len(categories))],
			OccurredAt:  base.AddDate(0, 0, rng.Intn(365)),
			TagIDs:      []string{"loadtest"},
		}
	}
	return payloads
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
		Durations:  sorted,
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Operations:   %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:       %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:          %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", s.P95)
	fmt.Fprintf(w, "  P99:          %v\n", s.P99)
	fmt.Fprintf(w, "  Max:          %v\n", s.Max)
}
