package schema

import "time"

// QueuedTransaction is a payload accepted locally while the remote service
// was unreachable, together with its sync bookkeeping.
//
// Synced flips from false to true exactly once and RemoteID is set at the
// same moment. SyncAttempts only ever grows.
type QueuedTransaction struct {
	LocalID  string `json:"localId"`
	RemoteID string `json:"remoteId,omitempty"`

	Payload Payload `json:"payload"`

	EnqueuedAt        time.Time  `json:"enqueuedAt"`
	Synced            bool       `json:"synced"`
	SyncAttempts      int        `json:"syncAttempts"`
	LastSyncAttemptAt *time.Time `json:"lastSyncAttemptAt,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

// Pending reports whether the item still awaits remote confirmation.
func (q *QueuedTransaction) Pending() bool {
	return !q.Synced
}
