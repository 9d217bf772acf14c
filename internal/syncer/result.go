package syncer

import (
	"fmt"
	"time"
)

// Status is the state of the engine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether s ends a drain.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// SkipReason explains why a drain did nothing.
type SkipReason string

const (
	// SkipInProgress means another drain was already running.
	SkipInProgress SkipReason = "in_progress"

	// SkipOffline means connectivity reported offline.
	SkipOffline SkipReason = "offline"
)

// ItemError is the failure of one queued item during a drain.
type ItemError struct {
	LocalID string `json:"localId"`
	Error   string `json:"error"`
}

// Result aggregates one drain.
type Result struct {
	SuccessCount int         `json:"successCount"`
	FailureCount int         `json:"failureCount"`
	TotalCount   int         `json:"totalCount"`
	Errors       []ItemError `json:"errors"`

	// Skipped is set when the drain returned without looking at the queue.
	Skipped SkipReason `json:"skipped,omitempty"`

	// Interrupted is set when the caller's context ended mid-drain. Items
	// after the interruption point were not submitted and are not counted
	// as successes or failures.
	Interrupted bool `json:"interrupted,omitempty"`

	// Err is set when the pending snapshot could not be read.
	Err error `json:"-"`
}

// Attempted reports whether any item was submitted.
func (r Result) Attempted() bool {
	return r.TotalCount > 0
}

// Summary renders the result for a notice, e.g. "synced 2, 1 failed".
func (r Result) Summary() string {
	switch {
	case r.Skipped == SkipInProgress:
		return "sync already in progress"
	case r.Skipped == SkipOffline:
		return "offline, nothing sent"
	case r.Err != nil:
		return fmt.Sprintf("could not read queue: %v", r.Err)
	case r.Interrupted:
		return fmt.Sprintf("interrupted after %d of %d (%d synced, %d failed)",
			r.SuccessCount+r.FailureCount, r.TotalCount, r.SuccessCount, r.FailureCount)
	case r.TotalCount == 0:
		return "nothing to sync"
	case r.FailureCount == 0:
		return fmt.Sprintf("synced %d", r.SuccessCount)
	default:
		return fmt.Sprintf("synced %d, %d failed", r.SuccessCount, r.FailureCount)
	}
}

// Event is delivered to listeners on every status transition.
type Event struct {
	Status Status    `json:"status"`
	Result *Result   `json:"result,omitempty"`
	At     time.Time `json:"at"`
}

// Listener receives engine events. It runs on the draining goroutine and
// should return quickly.
type Listener func(Event)
