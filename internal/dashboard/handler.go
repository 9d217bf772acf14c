package dashboard

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/syncer"
)

// Engine is the part of the sync engine the dashboard uses.
// *syncer.Engine satisfies it.
type Engine interface {
	Drain(ctx context.Context) syncer.Result
	Status() syncer.Status
	LastResult() *syncer.Result
	Subscribe(l syncer.Listener) func()
}

// PendingCounter reports how many items are queued.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	Online() bool
}

// SyncStatusData is the payload of a sync_status message.
type SyncStatusData struct {
	Status syncer.Status  `json:"status"`
	Result *syncer.Result `json:"result,omitempty"`
}

// CacheInvalidateData is the payload of a cache_invalidate message.
type CacheInvalidateData struct {
	Keys []string `json:"keys"`
}

// QueueStatsData is the payload of a queue_stats message and the body of
// GET /api/status.
type QueueStatsData struct {
	Pending    int            `json:"pending"`
	Online     bool           `json:"online"`
	Status     syncer.Status  `json:"status"`
	LastResult *syncer.Result `json:"last_result,omitempty"`
}

// Handler bridges the sync engine, notices and cache invalidations to the
// WebSocket server. It implements notify.Notifier and entry.Invalidator.
type Handler struct {
	server  *Server
	engine  Engine
	counter PendingCounter
	conn    Connectivity
	logger  logrus.FieldLogger

	unsubscribe func()
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Engine       Engine
	Queue        PendingCounter
	Connectivity Connectivity
	Logger       logrus.FieldLogger
}

// NewHandler connects a handler to server, registers the status API routes
// and subscribes to engine transitions. Call Close to unsubscribe.
func NewHandler(server *Server, config HandlerConfig) *Handler {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	h := &Handler{
		server:  server,
		engine:  config.Engine,
		counter: config.Queue,
		conn:    config.Connectivity,
		logger:  config.Logger.WithField("component", "dashboard"),
	}

	server.HandleFunc("/api/status", h.handleStatus, http.MethodGet)
	server.HandleFunc("/api/sync", h.handleSync, http.MethodPost)
	server.SetWelcome(h.welcome)

	if h.engine != nil {
		h.unsubscribe = h.engine.Subscribe(h.OnSyncEvent)
	}
	return h
}

// Close stops listening to the engine.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

// OnSyncEvent broadcasts an engine transition, followed by fresh queue
// stats when a drain ends.
func (h *Handler) OnSyncEvent(ev syncer.Event) {
	msg, err := NewMessage(MessageTypeSyncStatus, SyncStatusData{Status: ev.Status, Result: ev.Result})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build sync status message")
		return
	}
	msg.Timestamp = ev.At
	h.server.Broadcast(msg)

	if ev.Status.Terminal() {
		h.BroadcastStats(context.Background())
	}
}

// Notify implements notify.Notifier.
func (h *Handler) Notify(n notify.Notice) {
	msg, err := NewMessage(MessageTypeNotice, n)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build notice message")
		return
	}
	h.server.Broadcast(msg)
}

// Invalidate implements entry.Invalidator.
func (h *Handler) Invalidate(keys ...string) {
	msg, err := NewMessage(MessageTypeCacheInvalidate, CacheInvalidateData{Keys: keys})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build invalidation message")
		return
	}
	h.server.Broadcast(msg)
	h.BroadcastStats(context.Background())
}

// BroadcastStats sends the current queue statistics to all clients.
func (h *Handler) BroadcastStats(ctx context.Context) {
	msg, err := NewMessage(MessageTypeQueueStats, h.Stats(ctx))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to build stats message")
		return
	}
	h.server.Broadcast(msg)
}

// Stats collects the current queue statistics.
func (h *Handler) Stats(ctx context.Context) QueueStatsData {
	stats := QueueStatsData{Status: syncer.StatusIdle}

	if h.counter != nil {
		n, err := h.counter.CountPending(ctx)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to count pending transactions")
		}
		stats.Pending = n
	}
	if h.conn != nil {
		stats.Online = h.conn.Online()
	}
	if h.engine != nil {
		stats.Status = h.engine.Status()
		stats.LastResult = h.engine.LastResult()
	}
	return stats
}

func (h *Handler) welcome() (Message, bool) {
	msg, err := NewMessage(MessageTypeQueueStats, h.Stats(context.Background()))
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats(r.Context()))
}

// handleSync runs a drain and returns its result. A drain already in
// progress answers 409. The drain outlives a client disconnect.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sync engine not configured"})
		return
	}

	result := h.engine.Drain(context.WithoutCancel(r.Context()))

	status := http.StatusOK
	switch {
	case result.Skipped == syncer.SkipInProgress:
		status = http.StatusConflict
	case result.Err != nil:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
