package daemon

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/syncer"
)

// quietLogger discards all output.
func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeDrainer counts drains.
type fakeDrainer struct {
	calls atomic.Int32
}

func (f *fakeDrainer) Drain(context.Context) syncer.Result {
	f.calls.Add(1)
	return syncer.Result{}
}

// fakeCounter reports a fixed number of pending items.
type fakeCounter struct {
	n atomic.Int32
}

func (f *fakeCounter) CountPending(context.Context) (int, error) {
	return int(f.n.Load()), nil
}

// fakeCreator records created payloads.
type fakeCreator struct {
	mu       sync.Mutex
	payloads []schema.Payload
	err      error
}

func (f *fakeCreator) Create(_ context.Context, p schema.Payload) (entry.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return entry.Result{}, f.err
	}
	f.payloads = append(f.payloads, p)
	return entry.Result{ID: "tx", Offline: false}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeCreator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
