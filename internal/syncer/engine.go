package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/schema"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Queue  Store
	Remote Remote

	// Connectivity defaults to always online.
	Connectivity Connectivity

	// Notifier receives user-visible notices. Defaults to notify.Discard.
	Notifier notify.Notifier

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine drains the local queue. Create one per application with New.
type Engine struct {
	store    Store
	remote   Remote
	conn     Connectivity
	notifier notify.Notifier
	logger   logrus.FieldLogger
	now      func() time.Time

	mu         sync.Mutex
	syncing    bool
	status     Status
	lastResult *Result

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

// New creates an idle engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Queue,
		remote:    cfg.Remote,
		conn:      cfg.Connectivity,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		now:       cfg.Now,
		status:    StatusIdle,
		listeners: make(map[int]Listener),
	}
	if e.conn == nil {
		e.conn = OnlineFunc(func() bool { return true })
	}
	if e.notifier == nil {
		e.notifier = notify.Discard
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	e.logger = e.logger.WithField("component", "syncer")
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Status returns the current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Syncing reports whether a drain is running.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastResult returns the result of the most recent drain that reached the
// queue, or nil if none has.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return nil
	}
	r := *e.lastResult
	return &r
}

// Subscribe registers l for status events and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (e *Engine) Subscribe(l Listener) func() {
	e.listenersMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.listenersMu.Lock()
			delete(e.listeners, id)
			e.listenersMu.Unlock()
		})
	}
}

// Drain attempts every pending item once. See the package documentation for
// the full contract.
func (e *Engine) Drain(ctx context.Context) Result {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		e.logger.Debug("Drain requested while another is running, ignoring")
		return Result{Skipped: SkipInProgress}
	}
	if !e.conn.Online() {
		e.mu.Unlock()
		e.logger.Info("Offline, skipping drain")
		e.notifier.Notify(notify.Warning("You are offline", "Queued transactions will sync when the connection returns"))
		return Result{Skipped: SkipOffline}
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	e.transition(StatusSyncing, nil)

	// Bookkeeping must land even if the caller gives up mid-drain.
	bookCtx := context.WithoutCancel(ctx)

	pending, err := e.store.ListPending(bookCtx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to read pending transactions")
		result := Result{Err: err}
		e.finish(StatusError, &result)
		e.notifier.Notify(notify.Error("Sync failed", "Could not read the offline queue"))
		return result
	}

	if len(pending) == 0 {
		e.logger.Debug("Nothing to sync")
		e.transition(StatusIdle, nil)
		return Result{}
	}

	e.logger.WithField("pending", len(pending)).Info("Starting drain")

	result := Result{TotalCount: len(pending), Errors: []ItemError{}}

	for _, item := range pending {
		// Stop between items once the caller is gone. Unsent items keep
		// their attempt count.
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		log := e.logger.WithField("local_id", item.LocalID)

		err := e.syncItem(ctx, bookCtx, item)
		if err != nil && ctx.Err() != nil {
			// The write may have committed remotely; the item stays pending
			// and is resubmitted under the same Idempotency-Key.
			log.WithError(err).Info("Drain interrupted during submission")
			result.Interrupted = true
			break
		}
		if err != nil {
			log.WithError(err).Warn("Failed to sync transaction")
			result.FailureCount++
			result.Errors = append(result.Errors, ItemError{LocalID: item.LocalID, Error: err.Error()})

			if rerr := e.store.RecordAttemptFailure(bookCtx, item.LocalID, err.Error()); rerr != nil {
				log.WithError(rerr).Warn("Failed to record sync attempt")
			}
			continue
		}

		log.Debug("Synced transaction")
		result.SuccessCount++
	}

	if n, err := e.store.PruneSynced(bookCtx); err != nil {
		e.logger.WithError(err).Warn("Failed to prune synced transactions")
	} else if n > 0 {
		e.logger.WithField("pruned", n).Debug("Pruned synced transactions")
	}

	e.logger.WithFields(logrus.Fields{
		"synced":      result.SuccessCount,
		"failed":      result.FailureCount,
		"interrupted": result.Interrupted,
	}).Info("Drain complete")

	switch {
	case result.Interrupted:
		e.finish(StatusError, &result)
		e.notifier.Notify(notify.Warning("Sync interrupted", result.Summary()))
	case result.FailureCount == 0:
		e.finish(StatusSuccess, &result)
		e.notifier.Notify(notify.Success("Sync complete", result.Summary()))
	default:
		e.finish(StatusError, &result)
		e.notifier.Notify(notify.Warning("Sync finished with errors", result.Summary()))
	}

	return result
}

// syncItem submits one item and records the confirmation.
func (e *Engine) syncItem(ctx, bookCtx context.Context, item *schema.QueuedTransaction) error {
	remoteID, err := e.remote.CreateTransaction(ctx, item.Payload, item.LocalID)
	if err != nil {
		return err
	}
	if err := e.store.MarkSynced(bookCtx, item.LocalID, remoteID); err != nil {
		return fmt.Errorf("accepted as %s but failed to record confirmation: %w", remoteID, err)
	}
	return nil
}

// finish emits the terminal status with its result, then returns to idle.
func (e *Engine) finish(status Status, result *Result) {
	e.mu.Lock()
	r := *result
	e.lastResult = &r
	e.mu.Unlock()

	e.transition(status, result)
	e.transition(StatusIdle, nil)
}

func (e *Engine) transition(status Status, result *Result) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()

	ev := Event{Status: status, At: e.now()}
	if result != nil {
		r := *result
		ev.Result = &r
	}

	e.listenersMu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.listenersMu.RUnlock()

	for _, l := range listeners {
		e.deliver(l, ev)
	}
}

func (e *Engine) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("Sync status listener panicked")
		}
	}()
	l(ev)
}
