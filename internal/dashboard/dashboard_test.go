package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/syncer"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("No %s message received", typ)
	return Message{}
}

type acceptAll struct{}

func (acceptAll) CreateTransaction(_ context.Context, _ schema.Payload, key string) (string, error) {
	return "tx_" + key, nil
}

func setupEngine(t *testing.T) (*syncer.Engine, *queue.Queue) {
	t.Helper()

	q := queue.New(filepath.Join(t.TempDir(), "queue.db"))
	t.Cleanup(func() { _ = q.Close() })

	engine := syncer.New(syncer.Config{Queue: q, Remote: acceptAll{}, Logger: testLogger()})
	return engine, q
}

func enqueue(t *testing.T, q *queue.Queue, desc string) {
	t.Helper()
	_, err := q.Enqueue(context.Background(), schema.Payload{
		Kind:        schema.KindExpense,
		Amount:      decimal.RequireFromString("5"),
		Description: desc,
		Category:    "Food",
		OccurredAt:  time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: testLogger()})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	if err := NewServer(&Config{Logger: testLogger()}).Stop(); err != nil {
		t.Errorf("Stop() before Start() = %v", err)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startServer(t)
	conn := dial(t, server)

	if !waitForClients(server, 1) {
		t.Fatal("client never registered")
	}

	msg, err := NewMessage(MessageTypeCacheInvalidate, CacheInvalidateData{Keys: []string{"overview"}})
	if err != nil {
		t.Fatal(err)
	}
	server.Broadcast(msg)

	received := readMessage(t, conn)
	if received.Type != MessageTypeCacheInvalidate {
		t.Fatalf("Expected %s, got %s", MessageTypeCacheInvalidate, received.Type)
	}

	var data CacheInvalidateData
	if err := json.Unmarshal(received.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Keys) != 1 || data.Keys[0] != "overview" {
		t.Errorf("Keys = %v", data.Keys)
	}
}

func waitForClients(server *Server, n int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ClientCount() == n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestHandler_WelcomeAndSyncEvents(t *testing.T) {
	engine, q := setupEngine(t)
	enqueue(t, q, "Coffee")

	server := NewServer(&Config{Port: 0, Logger: testLogger()})
	h := NewHandler(server, HandlerConfig{Engine: engine, Queue: q, Logger: testLogger()})
	defer h.Close()

	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	conn := dial(t, server)

	welcome := readMessage(t, conn)
	if welcome.Type != MessageTypeQueueStats {
		t.Fatalf("Expected welcome %s, got %s", MessageTypeQueueStats, welcome.Type)
	}
	var stats QueueStatsData
	if err := json.Unmarshal(welcome.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}

	engine.Drain(context.Background())

	msg := readUntil(t, conn, MessageTypeSyncStatus)
	var status SyncStatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != syncer.StatusSyncing {
		t.Errorf("first status = %s, want syncing", status.Status)
	}

	msg = readUntil(t, conn, MessageTypeSyncStatus)
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != syncer.StatusSuccess || status.Result == nil || status.Result.SuccessCount != 1 {
		t.Errorf("terminal status = %+v", status)
	}
}

func TestHandler_NoticeAndInvalidate(t *testing.T) {
	server := startServer(t)
	h := NewHandler(server, HandlerConfig{Logger: testLogger()})
	conn := dial(t, server)

	// Welcome message
	readMessage(t, conn)

	h.Notify(notify.Info("Saved offline", "will sync later"))
	msg := readUntil(t, conn, MessageTypeNotice)
	var n notify.Notice
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatal(err)
	}
	if n.Title != "Saved offline" || n.Level != notify.LevelInfo {
		t.Errorf("notice = %+v", n)
	}

	h.Invalidate("overview", "transactions", "calendar")
	msg = readUntil(t, conn, MessageTypeCacheInvalidate)
	var inv CacheInvalidateData
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		t.Fatal(err)
	}
	if len(inv.Keys) != 3 {
		t.Errorf("Keys = %v", inv.Keys)
	}
}

func TestStatusAndSyncEndpoints(t *testing.T) {
	engine, q := setupEngine(t)
	enqueue(t, q, "Coffee")
	enqueue(t, q, "Parking")

	server := NewServer(&Config{Logger: testLogger()})
	h := NewHandler(server, HandlerConfig{Engine: engine, Queue: q, Logger: testLogger()})
	defer h.Close()

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	var stats QueueStatsData
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if stats.Pending != 2 || stats.Status != syncer.StatusIdle {
		t.Errorf("status = %+v", stats)
	}

	resp, err = http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/sync status = %d", resp.StatusCode)
	}
	var result syncer.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.SuccessCount != 2 || result.TotalCount != 2 {
		t.Errorf("result = %+v", result)
	}

	resp2, err := http.Get(ts.URL + "/api/sync")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/sync status = %d, want 405", resp2.StatusCode)
	}
}

func TestSyncEndpoint_OutlivesClient(t *testing.T) {
	engine, q := setupEngine(t)
	enqueue(t, q, "Coffee")
	enqueue(t, q, "Parking")

	server := NewServer(&Config{Logger: testLogger()})
	h := NewHandler(server, HandlerConfig{Engine: engine, Queue: q, Logger: testLogger()})
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.handleSync(rec, req)

	var result syncer.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Interrupted || result.SuccessCount != 2 {
		t.Errorf("result = %+v", result)
	}
	n, err := q.CountPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountPending() = %d after sync, want 0", n)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(&Config{Logger: testLogger()})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}
