// Package entry is the single place application code records a new
// transaction. It hides whether the write went straight to the remote
// service or into the offline queue.
package entry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/schema"
)

var (
	// ErrOfflineUnsupported is returned when the device is offline and the
	// local queue cannot be used. The transaction was not saved anywhere.
	ErrOfflineUnsupported = errors.New("offline saving is unavailable")

	// ErrInvalidInput is returned when the payload fails validation.
	ErrInvalidInput = errors.New("invalid transaction")
)

// Queue is the enqueue side of the local queue.
type Queue interface {
	Enqueue(ctx context.Context, p schema.Payload) (string, error)
}

// Remote creates a transaction on the remote service.
type Remote interface {
	CreateTransaction(ctx context.Context, p schema.Payload, idempotencyKey string) (string, error)
}

// Connectivity reports whether the remote service is believed reachable.
type Connectivity interface {
	Online() bool
}

// Config wires a Service.
type Config struct {
	Queue        Queue
	Remote       Remote
	Connectivity Connectivity
	Invalidator  Invalidator
	Notifier     notify.Notifier
	Logger       logrus.FieldLogger
}

// Service records transactions.
type Service struct {
	queue       Queue
	remote      Remote
	conn        Connectivity
	invalidator Invalidator
	notifier    notify.Notifier
	logger      logrus.FieldLogger
}

// Result describes where a created transaction went.
type Result struct {
	// ID is the remote identifier when Offline is false, otherwise the local
	// queue ID.
	ID      string `json:"id"`
	Offline bool   `json:"offline"`
}

// New creates a Service. Queue, Remote and Connectivity are required.
func New(cfg Config) *Service {
	s := &Service{
		queue:       cfg.Queue,
		remote:      cfg.Remote,
		conn:        cfg.Connectivity,
		invalidator: cfg.Invalidator,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
	}
	if s.invalidator == nil {
		s.invalidator = InvalidatorFunc(func(...string) {})
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.logger = s.logger.WithField("component", "entry")
	return s
}

// Create records p. Offline, it is queued locally; online, it is sent to the
// remote service directly and a failure is returned to the caller without
// falling back to the queue.
func (s *Service) Create(ctx context.Context, p schema.Payload) (Result, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if !s.conn.Online() {
		return s.createOffline(ctx, p)
	}

	id, err := s.remote.CreateTransaction(ctx, p, "")
	if err != nil {
		s.logger.WithError(err).Warn("Failed to create transaction")
		return Result{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.logger.WithField("id", id).Info("Created transaction")
	s.invalidator.Invalidate(InvalidatedKeys...)
	return Result{ID: id}, nil
}

func (s *Service) createOffline(ctx context.Context, p schema.Payload) (Result, error) {
	localID, err := s.queue.Enqueue(ctx, p)
	if err != nil {
		if queue.IsUnavailable(err) {
			s.logger.WithError(err).Error("Offline queue unavailable")
			s.notifier.Notify(notify.Error("Could not save offline", "Local storage is unavailable on this device"))
			return Result{}, fmt.Errorf("%w: %w", ErrOfflineUnsupported, err)
		}
		s.logger.WithError(err).Error("Failed to queue transaction")
		s.notifier.Notify(notify.Error("Could not save offline", err.Error()))
		return Result{}, fmt.Errorf("failed to queue transaction: %w", err)
	}

	s.logger.WithField("local_id", localID).Info("Queued transaction while offline")
	s.notifier.Notify(notify.Info("Saved offline", "It will sync when you are back online"))
	s.invalidator.Invalidate(InvalidatedKeys...)
	return Result{ID: localID, Offline: true}, nil
}
