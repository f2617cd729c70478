package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"harvest/internal/faults"
	"harvest/internal/fileutil"
	"harvest/internal/logging"
)

const lockRetryDelay = 10 * time.Millisecond

// trackerState is the persisted form of a tracker.
type trackerState struct {
	Uploaded       bool       `json:"uploaded"`
	RetryCount     int        `json:"retry_count"`
	LastUploadDate *time.Time `json:"last_upload_date,omitempty"`
}

// Tracker holds the upload state of one item. Its fields are a snapshot of
// tracker.json refreshed by every mutation and by Reload.
type Tracker struct {
	store *Store
	id    string
	dir   string

	mu    sync.RWMutex
	state trackerState
}

func newTracker(s *Store, id, dir string) *Tracker {
	return &Tracker{store: s, id: id, dir: dir}
}

// Uploaded reports whether the item has been delivered.
func (t *Tracker) Uploaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Uploaded
}

// RetryCount returns the number of failed delivery attempts recorded.
func (t *Tracker) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.RetryCount
}

// LastUploadDate returns when the item was marked uploaded, or nil.
func (t *Tracker) LastUploadDate() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state.LastUploadDate == nil {
		return nil
	}
	value := *t.state.LastUploadDate
	return &value
}

func (t *Tracker) snapshot() trackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// MarkUploaded records a successful delivery. Calling it again refreshes the
// upload date; the retry count is preserved.
func (t *Tracker) MarkUploaded(ctx context.Context) error {
	return t.mutate(ctx, "mark uploaded", func(state *trackerState) {
		now := t.store.now().UTC()
		state.Uploaded = true
		state.LastUploadDate = &now
	})
}

// IncreaseRetryCount records a failed delivery attempt.
func (t *Tracker) IncreaseRetryCount(ctx context.Context) error {
	return t.mutate(ctx, "increase retry count", func(state *trackerState) {
		state.RetryCount++
	})
}

// Reload refreshes the snapshot from disk.
func (t *Tracker) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := t.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "reload tracker", t.id)
		}
		return faults.Wrap(faults.ErrIO, component, "reload tracker", t.id, err)
	}
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	return nil
}

// mutate applies fn to the on-disk state under the item's file lock.
func (t *Tracker) mutate(ctx context.Context, operation string, fn func(*trackerState)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(t.dir, manifestFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, operation, t.id)
		}
		return faults.Wrap(faults.ErrIO, component, operation, "stat item", err)
	}

	lock := flock.New(filepath.Join(t.dir, trackerLockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, operation, t.id)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return faults.Wrap(faults.ErrIO, component, operation, "lock tracker", err)
	}
	if !locked {
		return faults.Wrap(faults.ErrIO, component, operation, "tracker lock not acquired", nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			t.store.logger.Debug("tracker unlock failed", logging.String(logging.FieldItemID, t.id), logging.Error(err))
		}
	}()

	state, err := t.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, operation, t.id)
		}
		return faults.Wrap(faults.ErrIO, component, operation, "read tracker", err)
	}
	fn(&state)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return faults.Wrap(faults.ErrIO, component, operation, "encode tracker", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(t.dir, trackerFile), data, 0o644); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, operation, t.id)
		}
		return faults.Wrap(faults.ErrIO, component, operation, "write tracker", err)
	}

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	t.store.recorder.IncTrackerUpdate(operationLabel(operation))
	t.store.logger.Debug("tracker updated",
		logging.String(logging.FieldItemID, t.id),
		logging.String("operation", operation),
		logging.Bool("uploaded", state.Uploaded),
		logging.Int("retry_count", state.RetryCount),
	)
	return nil
}

func (t *Tracker) read() (trackerState, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, trackerFile))
	if err != nil {
		return trackerState{}, err
	}
	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		return trackerState{}, fmt.Errorf("decode tracker: %w", err)
	}
	if state.RetryCount < 0 {
		return trackerState{}, fmt.Errorf("decode tracker: negative retry count %d", state.RetryCount)
	}
	return state, nil
}

func operationLabel(operation string) string {
	switch operation {
	case "mark uploaded":
		return "mark_uploaded"
	case "increase retry count":
		return "increase_retry"
	default:
		return operation
	}
}
