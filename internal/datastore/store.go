package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"harvest/internal/faults"
	"harvest/internal/fileutil"
	"harvest/internal/logging"
	"harvest/internal/metrics"
)

const (
	manifestFile    = "item.json"
	metadataFile    = "metadata.json"
	trackerFile     = "tracker.json"
	trackerLockFile = "tracker.lock"
	payloadDir      = "payload"
	dataFile        = "data.bin"
	resultFile      = "result.json"
	resultFilesDir  = "files"

	tempPrefix  = ".tmp-"
	trashPrefix = ".trash-"

	maxAllocateAttempts = 8
)

const component = "datastore"

// Observer is notified once for every item that becomes visible in the store.
type Observer interface {
	ItemAdded(id string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(id string)

// ItemAdded calls f(id).
func (f ObserverFunc) ItemAdded(id string) { f(id) }

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers the item-added observer.
func WithObserver(observer Observer) Option {
	return func(s *Store) { s.observer = observer }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *Store) { s.recorder = metrics.OrNoop(recorder) }
}

// WithClock overrides the time source used for creation and upload dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how item identifiers are drawn. Generated values
// must be canonical UUID strings.
func WithIDGenerator(next func() string) Option {
	return func(s *Store) {
		if next != nil {
			s.newID = next
		}
	}
}

// Store is the durable staging queue rooted at a single directory. It is safe
// for concurrent use, including by several processes sharing the directory.
type Store struct {
	root     string
	logger   *slog.Logger
	observer Observer
	recorder metrics.Recorder
	now      func() time.Time
	newID    func() string
}

// Open prepares the store directory and returns a Store bound to it.
func Open(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, faults.Validation(component, "open", "store directory must be set")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, component, "open", "resolve store directory", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, faults.Wrap(faults.ErrIO, component, "open", "create store directory", err)
	}

	s := &Store{
		root:     root,
		logger:   logging.NewNop(),
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, component)
	return s, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) itemDir(id string) string {
	return filepath.Join(s.root, id)
}

// validID reports whether id is a canonical store identifier.
func validID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// contains reports whether path lies inside the store root.
func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// payloadSpec describes what populate placed into the staging payload directory.
type payloadSpec struct {
	name        string
	isDirectory bool
	// undo reverses any ownership transfer performed by populate.
	undo func()
}

// add stages a new item under a temp directory, lets populate fill its payload,
// and publishes it under a freshly allocated identifier.
func (s *Store) add(ctx context.Context, kind Kind, metadata map[string]any, populate func(payloadPath string) (payloadSpec, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	metaBytes, err := encodeMetadata(metadata)
	if err != nil {
		return "", faults.Wrap(faults.ErrValidation, component, "add", "encode metadata", err)
	}

	staging := filepath.Join(s.root, tempPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", faults.Wrap(faults.ErrIO, component, "add", "create staging directory", err)
	}
	spec := payloadSpec{}
	fail := func(err error) (string, error) {
		if spec.undo != nil {
			spec.undo()
		}
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			logging.WarnWithContext(s.logger, "failed to remove staging directory", "store_staging_cleanup_failed",
				logging.String("path", staging),
				logging.Error(rmErr),
				logging.String(logging.FieldErrorHint, "run items cleanup to sweep leftovers"),
				logging.String(logging.FieldImpact, "disk space not reclaimed until cleanup"),
			)
		}
		return "", err
	}

	payloadPath := filepath.Join(staging, payloadDir)
	if err := os.Mkdir(payloadPath, 0o755); err != nil {
		return fail(faults.Wrap(faults.ErrIO, component, "add", "create payload directory", err))
	}
	spec, err = populate(payloadPath)
	if err != nil {
		return fail(err)
	}

	created := s.now().UTC()
	if err := writeFileSynced(filepath.Join(staging, metadataFile), metaBytes); err != nil {
		return fail(faults.Wrap(faults.ErrIO, component, "add", "write metadata", err))
	}
	trackerBytes, err := json.MarshalIndent(trackerState{}, "", "  ")
	if err != nil {
		return fail(faults.Wrap(faults.ErrIO, component, "add", "encode tracker", err))
	}
	if err := writeFileSynced(filepath.Join(staging, trackerFile), trackerBytes); err != nil {
		return fail(faults.Wrap(faults.ErrIO, component, "add", "write tracker", err))
	}
	if err := writeFileSynced(filepath.Join(staging, trackerLockFile), nil); err != nil {
		return fail(faults.Wrap(faults.ErrIO, component, "add", "create tracker lock", err))
	}

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		id := s.newID()
		if !validID(id) {
			return fail(faults.Validation(component, "add", fmt.Sprintf("generated identifier %q is not a canonical UUID", id)))
		}
		man := manifest{
			ID:          id,
			Kind:        kind,
			CreatedAt:   created,
			Payload:     spec.name,
			IsDirectory: spec.isDirectory,
		}
		manBytes, err := json.MarshalIndent(man, "", "  ")
		if err != nil {
			return fail(faults.Wrap(faults.ErrIO, component, "add", "encode manifest", err))
		}
		if err := writeFileSynced(filepath.Join(staging, manifestFile), manBytes); err != nil {
			return fail(faults.Wrap(faults.ErrIO, component, "add", "write manifest", err))
		}
		if err := fileutil.SyncDir(staging); err != nil {
			return fail(faults.Wrap(faults.ErrIO, component, "add", "sync staging directory", err))
		}

		err = fileutil.RenameNoReplace(staging, s.itemDir(id))
		if errors.Is(err, fileutil.ErrExists) {
			s.logger.Warn("identifier collision, reallocating",
				logging.String(logging.FieldItemID, id),
				logging.Int("attempt", attempt+1),
				logging.String(logging.FieldEventType, "store_identifier_conflict"),
				logging.String(logging.FieldErrorHint, "none; a new identifier is drawn"),
				logging.String(logging.FieldImpact, "none"),
			)
			continue
		}
		if err != nil {
			return fail(faults.Wrap(faults.ErrIO, component, "add", "publish item", err))
		}
		if err := fileutil.SyncDir(s.root); err != nil {
			s.logger.Debug("store root sync failed", logging.Error(err))
		}

		s.recorder.IncItemsAdded(string(kind))
		s.logger.Debug("item staged",
			logging.String(logging.FieldItemID, id),
			logging.String("kind", string(kind)),
			logging.String(logging.FieldEventType, "store_item_added"),
		)
		s.notifyAdded(id)
		return id, nil
	}

	return fail(faults.Wrap(faults.ErrConflict, component, "add", fmt.Sprintf("no free identifier after %d attempts", maxAllocateAttempts), nil))
}

func (s *Store) notifyAdded(id string) {
	if s.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.WarnWithContext(s.logger, "item observer panicked", "store_observer_panic",
				logging.String(logging.FieldItemID, id),
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "fix the registered store observer"),
				logging.String(logging.FieldImpact, "item is stored; notification was lost"),
			)
		}
	}()
	s.observer.ItemAdded(id)
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return json.MarshalIndent(metadata, "", "  ")
}

// writeFileSynced creates path and flushes it. Used only inside unpublished
// staging directories; visible files go through fileutil.WriteFileAtomic.
func writeFileSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
