package datastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harvest/internal/faults"
	"harvest/internal/logging"
)

// CleanResult contains the outcome of a stale debris sweep.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes unpublished staging directories and leftover trash older
// than maxAge, along with interrupted atomic-write temp files inside published
// items. Published item files are never touched.
func (s *Store) CleanStale(ctx context.Context, maxAge time.Duration) CleanResult {
	result := CleanResult{}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: s.root, Error: err})
		}
		return result
	}

	cutoff := s.now().Add(-maxAge)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		name := entry.Name()
		if !entry.IsDir() {
			continue
		}
		switch {
		case strings.HasPrefix(name, tempPrefix), strings.HasPrefix(name, trashPrefix):
			s.removeStale(&result, filepath.Join(s.root, name), entry, cutoff)
		case validID(name):
			s.sweepItemTemps(&result, filepath.Join(s.root, name), cutoff)
		}
	}

	return result
}

// sweepItemTemps removes ".<file>.tmp-*" files left in an item directory by a
// write that never reached its rename.
func (s *Store) sweepItemTemps(result *CleanResult, dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.Contains(name, tempPrefix) {
			continue
		}
		s.removeStale(result, filepath.Join(dir, name), entry, cutoff)
	}
}

func (s *Store) removeStale(result *CleanResult, path string, entry os.DirEntry, cutoff time.Time) {
	info, err := entry.Info()
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
		}
		return
	}
	if !info.ModTime().Before(cutoff) {
		return
	}

	if err := os.RemoveAll(path); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
		s.logger.Warn("failed to remove stale store entry",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "store_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "check store_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return
	}
	result.Removed = append(result.Removed, path)
	s.logger.Info("removed stale store entry",
		logging.String("path", path),
		logging.Duration("age", s.now().Sub(info.ModTime())),
		logging.String(logging.FieldEventType, "store_cleanup"),
	)
}

// Stats summarizes the items currently staged.
type Stats struct {
	Total    int
	Uploaded int
	Pending  int
	Retried  int
	Bytes    int64
}

// Stats walks the store and reports item counts and payload bytes. The
// figures are also published to the metrics recorder.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var walkErr error
	err := s.Enumerate(ctx, EnumerateOptions{Ascending: true}, func(item *Item) bool {
		stats.Total++
		if item.Tracker().Uploaded() {
			stats.Uploaded++
		} else {
			stats.Pending++
		}
		if item.Tracker().RetryCount() > 0 {
			stats.Retried++
		}
		size, err := item.Size()
		if err != nil && !errors.Is(err, faults.ErrNotFound) {
			walkErr = err
			return false
		}
		stats.Bytes += size
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	if walkErr != nil {
		return Stats{}, walkErr
	}

	s.recorder.SetStoreItems("uploaded", stats.Uploaded)
	s.recorder.SetStoreItems("pending", stats.Pending)
	s.recorder.SetStoreItems("retried", stats.Retried)
	s.recorder.SetStoreBytes(stats.Bytes)
	return stats, nil
}
