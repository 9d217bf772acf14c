package syncer

import (
	"context"

	"github.com/tallyapp/tally/internal/schema"
)

// Store is the part of the local queue the engine needs.
// *queue.Queue satisfies it.
type Store interface {
	ListPending(ctx context.Context) ([]*schema.QueuedTransaction, error)
	MarkSynced(ctx context.Context, localID, remoteID string) error
	RecordAttemptFailure(ctx context.Context, localID, msg string) error
	PruneSynced(ctx context.Context) (int, error)
}

// Remote submits a transaction and returns the identifier assigned by the
// service. *remote.Client satisfies it.
type Remote interface {
	CreateTransaction(ctx context.Context, p schema.Payload, idempotencyKey string) (string, error)
}

// Connectivity reports whether the remote service is believed reachable.
// Online must not block.
type Connectivity interface {
	Online() bool
}

// OnlineFunc adapts a function to Connectivity.
type OnlineFunc func() bool

// Online calls f.
func (f OnlineFunc) Online() bool { return f() }
