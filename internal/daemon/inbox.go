package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/schema"
)

// RejectedDir is the subdirectory of the inbox that receives files which can
// never be imported.
const RejectedDir = "rejected"

// Creator records a transaction. *entry.Service satisfies it.
type Creator interface {
	Create(ctx context.Context, p schema.Payload) (entry.Result, error)
}

// InboxConfig holds configuration for the inbox.
type InboxConfig struct {
	// Dir is the drop folder.
	Dir string

	// DebounceInterval is how long a file must stay quiet before it is read.
	// This lets writers finish before the payload is parsed.
	DebounceInterval time.Duration

	// Logger for inbox activity
	Logger logrus.FieldLogger
}

// Inbox turns payload files dropped into a folder into transactions.
//
// Each *.json file is handed to the Creator, so it follows the same
// online/offline branch as an interactive entry, and then removed. Files
// that fail validation are moved to the rejected/ subdirectory. Files whose
// creation failed for any other reason stay in place and are retried by
// ProcessExisting.
type Inbox struct {
	dir      string
	creator  Creator
	debounce time.Duration
	logger   logrus.FieldLogger

	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	// processMu keeps the startup scan and the watcher from reading the
	// same file concurrently.
	processMu sync.Mutex
}

// NewInbox creates an inbox over config.Dir.
func NewInbox(creator Creator, config InboxConfig) *Inbox {
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 200 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Inbox{
		dir:         config.Dir,
		creator:     creator,
		debounce:    config.DebounceInterval,
		logger:      config.Logger.WithField("component", "inbox"),
		changeQueue: make(map[string]time.Time),
	}
}

// Dir returns the drop folder.
func (in *Inbox) Dir() string {
	return in.dir
}

// ProcessExisting imports every payload file currently in the folder and
// returns how many were consumed (imported or rejected).
func (in *Inbox) ProcessExisting(ctx context.Context) (int, error) {
	paths, err := schema.ListPayloadFiles(in.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to scan inbox: %w", err)
	}

	consumed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if in.processFile(ctx, path) {
			consumed++
		}
	}
	return consumed, nil
}

// Run processes existing files, then watches the folder until ctx is
// cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(in.dir, RejectedDir), 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	defer fw.Stop()

	if err := fw.Start(in.dir); err != nil {
		return err
	}

	if n, err := in.ProcessExisting(ctx); err != nil {
		in.logger.WithError(err).Warn("Initial inbox scan failed")
	} else if n > 0 {
		in.logger.WithField("files", n).Info("Imported waiting inbox files")
	}

	in.logger.WithField("dir", in.dir).Info("Watching inbox")

	ticker := time.NewTicker(in.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			if ev.Op == OpDelete {
				in.dropChange(ev.Path)
				continue
			}
			in.queueChange(ev.Path)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			in.logger.WithError(err).Warn("Inbox watcher error")

		case <-ticker.C:
			in.processPendingChanges(ctx)
		}
	}
}

func (in *Inbox) queueChange(path string) {
	in.changeQueueMu.Lock()
	defer in.changeQueueMu.Unlock()
	in.changeQueue[path] = time.Now()
}

func (in *Inbox) dropChange(path string) {
	in.changeQueueMu.Lock()
	defer in.changeQueueMu.Unlock()
	delete(in.changeQueue, path)
}

// processPendingChanges imports files that have been quiet for the debounce
// interval.
func (in *Inbox) processPendingChanges(ctx context.Context) {
	now := time.Now()

	in.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range in.changeQueue {
		if now.Sub(queuedAt) < in.debounce {
			continue
		}
		ready = append(ready, path)
		delete(in.changeQueue, path)
	}
	in.changeQueueMu.Unlock()

	for _, path := range ready {
		in.processFile(ctx, path)
	}
}

// processFile imports one file. It reports whether the file was consumed.
func (in *Inbox) processFile(ctx context.Context, path string) bool {
	in.processMu.Lock()
	defer in.processMu.Unlock()

	log := in.logger.WithField("file", filepath.Base(path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	p, err := schema.ReadPayloadFile(path)
	if err != nil {
		log.WithError(err).Warn("Rejecting unreadable payload file")
		in.reject(path)
		return true
	}

	res, err := in.creator.Create(ctx, *p)
	if err != nil {
		if errors.Is(err, entry.ErrInvalidInput) {
			log.WithError(err).Warn("Rejecting invalid payload file")
			in.reject(path)
			return true
		}
		log.WithError(err).Warn("Failed to import payload file, will retry")
		return false
	}

	log.WithFields(logrus.Fields{"id": res.ID, "offline": res.Offline}).Info("Imported payload file")
	if err := os.Remove(path); err != nil {
		log.WithError(err).Error("Imported payload file could not be removed")
	}
	return true
}

func (in *Inbox) reject(path string) {
	dest := filepath.Join(in.dir, RejectedDir, filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		in.logger.WithError(err).Error("Failed to create rejected directory")
		return
	}
	if err := os.Rename(path, dest); err != nil {
		in.logger.WithError(err).Error("Failed to move rejected payload file")
	}
}
