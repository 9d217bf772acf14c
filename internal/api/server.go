// Package api is a reference implementation of the remote transaction
// service the tally client syncs to. It stores transactions with GORM on
// SQLite and keeps a per-month aggregate up to date on every insert.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/remote"
	"github.com/tallyapp/tally/internal/schema"
)

// Config holds server settings.
type Config struct {
	JWTSecret []byte
	Logger    logrus.FieldLogger
}

// Server serves the transaction API.
type Server struct {
	store  *Store
	router *mux.Router
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewServer builds the router over store.
func NewServer(store *Store, cfg Config) (*Server, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	s := &Server{
		store:  store,
		router: mux.NewRouter(),
		logger: cfg.Logger.WithField("component", "api"),
		now:    time.Now,
	}

	s.router.Use(s.logRequests)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	authed := s.router.PathPrefix("/api").Subrouter()
	authed.Use(AuthMiddleware(cfg.JWTSecret))
	authed.HandleFunc("/transactions", s.handleCreate).Methods(http.MethodPost)
	authed.HandleFunc("/transactions", s.handleList).Methods(http.MethodGet)
	authed.HandleFunc("/overview", s.handleOverview).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("Starting API server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// TransactionView is the JSON form of a stored transaction.
type TransactionView struct {
	ID        string
	Payload   schema.Payload
	CreatedAt time.Time
}

// MarshalJSON flattens the payload fields next to id and createdAt.
func (v TransactionView) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["id"], _ = json.Marshal(v.ID)
	fields["createdAt"], _ = json.Marshal(v.CreatedAt)
	return json.Marshal(fields)
}

// OverviewView is the JSON form of a monthly summary.
type OverviewView struct {
	Month   string `json:"month"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Balance string `json:"balance"`
	Count   int    `json:"count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var p schema.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get(remote.IdempotencyHeader)
	id, created, err := s.store.Create(r.Context(), user, key, p)
	if err != nil {
		s.logger.WithError(err).Error("Create failed")
		writeError(w, http.StatusInternalServerError, "failed to store transaction")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
		s.logger.WithFields(logrus.Fields{"user": user, "key": key, "id": id}).Info("Replayed idempotent create")
	}
	writeJSON(w, status, map[string]string{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := s.store.List(r.Context(), user, limit)
	if err != nil {
		s.logger.WithError(err).Error("List failed")
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	views := make([]TransactionView, 0, len(rows))
	for i := range rows {
		views = append(views, TransactionView{ID: rows[i].ID, Payload: rows[i].Payload(), CreatedAt: rows[i].CreatedAt.UTC()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	month := r.URL.Query().Get("month")
	if month == "" {
		month = s.now().UTC().Format(MonthLayout)
	} else if _, err := time.Parse(MonthLayout, month); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}

	summary, err := s.store.Overview(r.Context(), user, month)
	if err != nil {
		s.logger.WithError(err).Error("Overview failed")
		writeError(w, http.StatusInternalServerError, "failed to read overview")
		return
	}

	writeJSON(w, http.StatusOK, OverviewView{
		Month:   month,
		Income:  fromCents(summary.IncomeCents).StringFixed(2),
		Expense: fromCents(summary.ExpenseCents).StringFixed(2),
		Balance: summary.Balance().StringFixed(2),
		Count:   summary.Count,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
