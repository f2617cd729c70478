package drain

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"harvest/internal/datastore"
	"harvest/internal/faults"
	"harvest/internal/fileutil"
)

const deliveryManifest = "delivery.json"

// DirSink delivers items into an outbox directory, one subdirectory per item
// holding the payload tree, metadata.json, and delivery.json.
type DirSink struct {
	dir string
	now func() time.Time
}

// NewDirSink creates the outbox directory when needed.
func NewDirSink(dir string) (*DirSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, faults.Validation(component, "new dir sink", "outbox directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.Wrap(faults.ErrIO, component, "new dir sink", "create outbox", err)
	}
	return &DirSink{dir: dir, now: time.Now}, nil
}

// Dir returns the outbox directory.
func (s *DirSink) Dir() string { return s.dir }

// Deliver copies the item into the outbox. An item already present in the
// outbox counts as delivered.
func (s *DirSink) Deliver(ctx context.Context, item *datastore.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.dir, item.Identifier())
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	staging := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return faults.Wrap(faults.ErrIO, component, "deliver", "create staging directory", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := fileutil.CopyTreeVerified(item.PayloadDir(), filepath.Join(staging, "payload")); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "deliver", item.Identifier())
		}
		return faults.Wrap(faults.ErrIO, component, "deliver", "copy payload", err)
	}

	metadata, err := json.MarshalIndent(item.Metadata(), "", "  ")
	if err != nil {
		return faults.Wrap(faults.ErrValidation, component, "deliver", "encode metadata", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(staging, "metadata.json"), metadata, 0o644); err != nil {
		return faults.Wrap(faults.ErrIO, component, "deliver", "write metadata", err)
	}

	manifest, err := json.MarshalIndent(map[string]any{
		"id":           item.Identifier(),
		"kind":         item.Kind(),
		"created_at":   item.CreatedAt().UTC().Format(time.RFC3339Nano),
		"delivered_at": s.now().UTC().Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return faults.Wrap(faults.ErrValidation, component, "deliver", "encode manifest", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(staging, deliveryManifest), manifest, 0o644); err != nil {
		return faults.Wrap(faults.ErrIO, component, "deliver", "write manifest", err)
	}

	if err := fileutil.RenameNoReplace(staging, target); err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			return nil
		}
		return faults.Wrap(faults.ErrIO, component, "deliver", "publish", err)
	}
	if err := fileutil.SyncDir(s.dir); err != nil {
		return faults.Wrap(faults.ErrIO, component, "deliver", "sync outbox", err)
	}
	return nil
}
