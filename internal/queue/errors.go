package queue

import "errors"

// Errors returned by queue operations. Check them with errors.Is:
//
//	if errors.Is(err, queue.ErrStorageUnavailable) {
//	    // offline writes are not supported on this machine
//	}
var (
	// ErrStorageUnavailable is returned when the queue database cannot be
	// created or opened at all (read-only home, permission denied, full
	// disk at creation time). Offline queueing cannot work until it clears.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrStorageIO is returned when a single operation fails against an
	// otherwise open database.
	ErrStorageIO = errors.New("local storage I/O error")

	// ErrIDCollision is returned when a generated local ID already exists.
	// The ID scheme makes this practically impossible; treat it as a bug.
	ErrIDCollision = errors.New("local ID collision")

	// ErrNotFound is returned by Get when no record has the given local ID.
	ErrNotFound = errors.New("queued transaction not found")
)

// IsUnavailable reports whether err means the queue cannot be used at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
