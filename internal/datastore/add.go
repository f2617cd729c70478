package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"harvest/internal/faults"
	"harvest/internal/fileutil"
	"harvest/internal/logging"
)

// Result is a structured result record. Files listed in a record passed to
// AddResult are moved into the item; once stored, the record refers to them by
// names relative to the item payload.
type Result struct {
	Identifier string         `json:"identifier"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    time.Time      `json:"end_date"`
	Values     map[string]any `json:"values,omitempty"`
	Files      []string       `json:"files,omitempty"`
}

// AddData stages an opaque byte buffer and returns the new item identifier.
func (s *Store) AddData(ctx context.Context, data []byte, metadata map[string]any) (string, error) {
	return s.add(ctx, KindData, metadata, func(payloadPath string) (payloadSpec, error) {
		if err := writeFileSynced(filepath.Join(payloadPath, dataFile), data); err != nil {
			return payloadSpec{}, faults.Wrap(faults.ErrIO, component, "add data", "write payload", err)
		}
		return payloadSpec{name: dataFile}, nil
	})
}

// AddResult stages a result record. Files referenced by the record are moved
// into the item; if the add fails they are moved back to their original paths.
func (s *Store) AddResult(ctx context.Context, result Result, metadata map[string]any) (string, error) {
	sources := make([]string, 0, len(result.Files))
	for _, file := range result.Files {
		source, err := s.checkSource("add result", file)
		if err != nil {
			return "", err
		}
		sources = append(sources, source)
	}

	return s.add(ctx, KindResult, metadata, func(payloadPath string) (payloadSpec, error) {
		filesDir := filepath.Join(payloadPath, resultFilesDir)
		if err := os.Mkdir(filesDir, 0o755); err != nil {
			return payloadSpec{}, faults.Wrap(faults.ErrIO, component, "add result", "create files directory", err)
		}

		type moved struct{ from, to string }
		var done []moved
		undo := func() {
			for i := len(done) - 1; i >= 0; i-- {
				if err := fileutil.Move(done[i].to, done[i].from); err != nil {
					s.logger.Error("failed to restore result file",
						logging.String("path", done[i].from),
						logging.Error(err),
						logging.String(logging.FieldEventType, "store_restore_failed"),
						logging.String(logging.FieldErrorHint, "recover the file from the staging directory"),
					)
				}
			}
			done = nil
		}

		stored := result
		stored.Files = make([]string, 0, len(sources))
		used := make(map[string]struct{}, len(sources))
		for i, source := range sources {
			name := uniqueName(filepath.Base(source), i, used)
			target := filepath.Join(filesDir, name)
			if err := fileutil.Move(source, target); err != nil {
				undo()
				return payloadSpec{}, faults.Wrap(faults.ErrIO, component, "add result", "move "+source, err)
			}
			done = append(done, moved{from: source, to: target})
			stored.Files = append(stored.Files, path.Join(resultFilesDir, name))
		}

		data, err := json.MarshalIndent(stored, "", "  ")
		if err != nil {
			undo()
			return payloadSpec{}, faults.Wrap(faults.ErrValidation, component, "add result", "encode result", err)
		}
		if err := writeFileSynced(filepath.Join(payloadPath, resultFile), data); err != nil {
			undo()
			return payloadSpec{}, faults.Wrap(faults.ErrIO, component, "add result", "write result", err)
		}
		return payloadSpec{name: resultFile, undo: undo}, nil
	})
}

// AddFile stages a file or directory tree by moving it into the store.
func (s *Store) AddFile(ctx context.Context, source string, metadata map[string]any) (string, error) {
	resolved, err := s.checkSource("add file", source)
	if err != nil {
		return "", err
	}
	info, err := os.Lstat(resolved)
	if err != nil {
		return "", faults.Wrap(faults.ErrValidation, component, "add file", "stat "+resolved, err)
	}

	return s.add(ctx, KindFile, metadata, func(payloadPath string) (payloadSpec, error) {
		name := filepath.Base(resolved)
		target := filepath.Join(payloadPath, name)
		if err := fileutil.Move(resolved, target); err != nil {
			return payloadSpec{}, faults.Wrap(faults.ErrIO, component, "add file", "move "+resolved, err)
		}
		undo := func() {
			if err := fileutil.Move(target, resolved); err != nil {
				s.logger.Error("failed to restore staged file",
					logging.String("path", resolved),
					logging.Error(err),
					logging.String(logging.FieldEventType, "store_restore_failed"),
					logging.String(logging.FieldErrorHint, "recover the file from the staging directory"),
				)
			}
		}
		return payloadSpec{name: name, isDirectory: info.IsDir(), undo: undo}, nil
	})
}

// checkSource validates a caller-supplied path to be moved into the store.
func (s *Store) checkSource(operation, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", faults.Validation(component, operation, "path must be set")
	}
	resolved, err := filepath.Abs(source)
	if err != nil {
		return "", faults.Wrap(faults.ErrValidation, component, operation, "resolve "+source, err)
	}
	if _, err := os.Lstat(resolved); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", faults.Validation(component, operation, "path does not exist: "+resolved)
		}
		return "", faults.Wrap(faults.ErrIO, component, operation, "stat "+resolved, err)
	}
	if s.contains(resolved) {
		return "", faults.Validation(component, operation, "path is inside the store: "+resolved)
	}
	return resolved, nil
}

// uniqueName returns base, or base prefixed with the file's position when
// that name is taken, adding a counter until the name is free.
func uniqueName(base string, index int, used map[string]struct{}) string {
	name := base
	for n := 0; ; n++ {
		if _, taken := used[name]; !taken {
			break
		}
		if n == 0 {
			name = fmt.Sprintf("%d-%s", index, base)
		} else {
			name = fmt.Sprintf("%d-%d-%s", index, n, base)
		}
	}
	used[name] = struct{}{}
	return name
}
