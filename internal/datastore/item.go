package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"harvest/internal/faults"
	"harvest/internal/fileutil"
)

// Kind identifies the payload variant of a staged item.
type Kind string

const (
	KindData   Kind = "data"
	KindResult Kind = "result"
	KindFile   Kind = "file"
)

func (k Kind) valid() bool {
	switch k {
	case KindData, KindResult, KindFile:
		return true
	default:
		return false
	}
}

// manifest is the immutable description of an item written once at creation.
type manifest struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	Payload     string    `json:"payload,omitempty"`
	IsDirectory bool      `json:"is_directory,omitempty"`
}

// Item is a snapshot of a staged item loaded from disk.
type Item struct {
	dir      string
	manifest manifest
	tracker  *Tracker

	mu       sync.RWMutex
	metadata map[string]any
}

// Identifier returns the store-assigned identifier.
func (it *Item) Identifier() string { return it.manifest.ID }

// Dir returns the item's managed directory.
func (it *Item) Dir() string { return it.dir }

// Kind returns the payload variant.
func (it *Item) Kind() Kind { return it.manifest.Kind }

// CreatedAt returns the creation timestamp.
func (it *Item) CreatedAt() time.Time { return it.manifest.CreatedAt }

// Tracker returns the item's upload-state tracker.
func (it *Item) Tracker() *Tracker { return it.tracker }

// IsDirectory reports whether a file item holds a directory tree.
func (it *Item) IsDirectory() bool { return it.manifest.IsDirectory }

// Metadata returns a copy of the item's metadata as last loaded or written.
func (it *Item) Metadata() map[string]any {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return maps.Clone(it.metadata)
}

// SetMetadata replaces the item's metadata on disk atomically.
func (it *Item) SetMetadata(ctx context.Context, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeMetadata(metadata)
	if err != nil {
		return faults.Wrap(faults.ErrValidation, component, "set metadata", "encode metadata", err)
	}
	if _, err := os.Stat(filepath.Join(it.dir, manifestFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "set metadata", it.manifest.ID)
		}
		return faults.Wrap(faults.ErrIO, component, "set metadata", "stat item", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(it.dir, metadataFile), data, 0o644); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "set metadata", it.manifest.ID)
		}
		return faults.Wrap(faults.ErrIO, component, "set metadata", "write metadata", err)
	}

	it.mu.Lock()
	it.metadata = maps.Clone(metadata)
	if it.metadata == nil {
		it.metadata = map[string]any{}
	}
	it.mu.Unlock()
	return nil
}

// Data returns the raw payload of a data item.
func (it *Item) Data() ([]byte, error) {
	if it.manifest.Kind != KindData {
		return nil, faults.Validation(component, "data", "item "+it.manifest.ID+" is a "+string(it.manifest.Kind)+" item")
	}
	data, err := os.ReadFile(filepath.Join(it.dir, payloadDir, dataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.NotFound(component, "data", it.manifest.ID)
		}
		return nil, faults.Wrap(faults.ErrIO, component, "data", "read payload", err)
	}
	return data, nil
}

// Result returns the stored result record of a result item. Files are
// resolved to absolute paths inside the item directory.
func (it *Item) Result() (Result, error) {
	if it.manifest.Kind != KindResult {
		return Result{}, faults.Validation(component, "result", "item "+it.manifest.ID+" is a "+string(it.manifest.Kind)+" item")
	}
	data, err := os.ReadFile(filepath.Join(it.dir, payloadDir, resultFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, faults.NotFound(component, "result", it.manifest.ID)
		}
		return Result{}, faults.Wrap(faults.ErrIO, component, "result", "read payload", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, faults.Wrap(faults.ErrIO, component, "result", "decode payload", err)
	}
	for i, name := range result.Files {
		result.Files[i] = filepath.Join(it.dir, payloadDir, filepath.FromSlash(name))
	}
	return result, nil
}

// PayloadDir returns the directory holding the item's payload.
func (it *Item) PayloadDir() string { return filepath.Join(it.dir, payloadDir) }

// FilePath returns the managed path of a file item's payload, or "" for other kinds.
func (it *Item) FilePath() string {
	if it.manifest.Kind != KindFile || it.manifest.Payload == "" {
		return ""
	}
	return filepath.Join(it.dir, payloadDir, it.manifest.Payload)
}

// WalkFiles calls fn for every regular file in the item's payload, in lexical
// order, until fn returns false.
func (it *Item) WalkFiles(fn func(path string) bool) error {
	root := filepath.Join(it.dir, payloadDir)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if !fn(path) {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.NotFound(component, "walk files", it.manifest.ID)
		}
		return faults.Wrap(faults.ErrIO, component, "walk files", it.manifest.ID, err)
	}
	return nil
}

// Size returns the total size in bytes of the item's payload files.
func (it *Item) Size() (int64, error) {
	var total int64
	err := it.WalkFiles(func(path string) bool {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
		return true
	})
	return total, err
}

// Item loads the item with the given identifier. It returns (nil, nil) when
// no such item exists, including for malformed identifiers and items removed
// concurrently.
func (s *Store) Item(ctx context.Context, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, nil
	}
	return s.loadItem(id)
}

func (s *Store) loadItem(id string) (*Item, error) {
	dir := s.itemDir(id)
	absent := func(err error) (*Item, error) {
		if errors.Is(err, fs.ErrNotExist) {
			if _, statErr := os.Stat(dir); errors.Is(statErr, fs.ErrNotExist) {
				return nil, nil
			}
		}
		return nil, faults.Wrap(faults.ErrIO, component, "load item", id, err)
	}

	manBytes, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return absent(err)
	}
	var man manifest
	if err := json.Unmarshal(manBytes, &man); err != nil {
		return nil, faults.Wrap(faults.ErrIO, component, "load item", "decode manifest "+id, err)
	}
	if man.ID != id || !man.Kind.valid() {
		return nil, faults.Wrap(faults.ErrIO, component, "load item", "manifest does not describe "+id, nil)
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return absent(err)
	}
	metadata := map[string]any{}
	if err := json.Unmarshal(metaBytes, &metadata); err != nil {
		return nil, faults.Wrap(faults.ErrIO, component, "load item", "decode metadata "+id, err)
	}

	tracker := newTracker(s, id, dir)
	state, err := tracker.read()
	if err != nil {
		return absent(err)
	}
	tracker.state = state

	return &Item{
		dir:      dir,
		manifest: man,
		tracker:  tracker,
		metadata: metadata,
	}, nil
}
