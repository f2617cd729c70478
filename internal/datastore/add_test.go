package datastore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"harvest/internal/datastore"
	"harvest/internal/faults"
)

func TestAddFileMovesFile(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	src := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(src, []byte("sensor"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := store.AddFile(ctx, src, map[string]any{"device": "watch"})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source to be moved, stat err=%v", err)
	}

	item := mustItem(t, store, id)
	if item.Kind() != datastore.KindFile || item.IsDirectory() {
		t.Fatalf("unexpected kind %q dir=%v", item.Kind(), item.IsDirectory())
	}
	got, err := os.ReadFile(item.FilePath())
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(got) != "sensor" {
		t.Fatalf("unexpected staged content %q", got)
	}
	if filepath.Dir(filepath.Dir(item.FilePath())) != item.Dir() {
		t.Fatalf("expected file under item dir, got %q", item.FilePath())
	}
}

func TestAddFileMovesDirectoryTree(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	src := filepath.Join(t.TempDir(), "session")
	if err := os.MkdirAll(filepath.Join(src, "raw"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "raw", "accel.csv"), []byte("1,2,3"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := store.AddFile(ctx, src, nil)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	item := mustItem(t, store, id)
	if !item.IsDirectory() {
		t.Fatal("expected directory item")
	}
	if _, err := os.Stat(filepath.Join(item.FilePath(), "raw", "accel.csv")); err != nil {
		t.Fatalf("expected nested file in staged tree: %v", err)
	}
}

func TestAddFileValidation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	existing, err := store.AddData(ctx, []byte("x"), nil)
	if err != nil {
		t.Fatalf("AddData: %v", err)
	}
	inside := filepath.Join(mustItem(t, store, existing).Dir(), "metadata.json")

	cases := []struct {
		name string
		path string
	}{
		{name: "empty", path: ""},
		{name: "missing", path: filepath.Join(t.TempDir(), "nope")},
		{name: "inside store", path: inside},
		{name: "store root", path: store.Root()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.AddFile(ctx, tc.path, nil); !errors.Is(err, faults.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAddResultMovesReferencedFiles(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "ecg.bin")
	second := filepath.Join(dir, "b", "ecg.bin")
	for _, p := range []string{first, second} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := store.AddResult(ctx, datastore.Result{
		Identifier: "walk-test",
		StartDate:  start,
		EndDate:    start.Add(time.Minute),
		Values:     map[string]any{"steps": 42},
		Files:      []string{first, second},
	}, nil)
	if err != nil {
		t.Fatalf("AddResult: %v", err)
	}
	for _, p := range []string{first, second} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be moved", p)
		}
	}

	result, err := mustItem(t, store, id).Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Identifier != "walk-test" || !result.StartDate.Equal(start) {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Values["steps"] != float64(42) {
		t.Fatalf("unexpected values %#v", result.Values)
	}
	if len(result.Files) != 2 || result.Files[0] == result.Files[1] {
		t.Fatalf("expected two distinct managed files, got %v", result.Files)
	}
	for i, p := range result.Files {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read managed file %s: %v", p, err)
		}
		want := []string{first, second}[i]
		if string(got) != want {
			t.Fatalf("managed file %d content %q, want %q", i, got, want)
		}
	}
}

func TestAddResultRestoresFilesOnFailure(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	src := filepath.Join(t.TempDir(), "trace.bin")
	if err := os.WriteFile(src, []byte("trace"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := store.AddResult(ctx, datastore.Result{
		Identifier: "broken",
		Values:     map[string]any{"bad": func() {}},
		Files:      []string{src},
	}, nil)
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("expected source restored: %v", err)
	}
	if string(got) != "trace" {
		t.Fatalf("unexpected restored content %q", got)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftovers in store, found %d", len(entries))
	}
}

func TestAddResultRejectsMissingFile(t *testing.T) {
	store := openStore(t)
	_, err := store.AddResult(context.Background(), datastore.Result{Files: []string{filepath.Join(t.TempDir(), "gone")}}, nil)
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAddResultRenamesUntilNameIsFree(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "p", "a"),
		filepath.Join(dir, "q", "2-a"),
		filepath.Join(dir, "r", "a"),
	}
	for _, p := range files {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	id, err := store.AddResult(ctx, datastore.Result{Identifier: "clash", Files: files}, nil)
	if err != nil {
		t.Fatalf("AddResult: %v", err)
	}
	result, err := mustItem(t, store, id).Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result.Files) != len(files) {
		t.Fatalf("expected %d managed files, got %v", len(files), result.Files)
	}
	seen := make(map[string]bool)
	for i, p := range result.Files {
		if seen[filepath.Base(p)] {
			t.Fatalf("duplicate managed name %q in %v", filepath.Base(p), result.Files)
		}
		seen[filepath.Base(p)] = true
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read managed file %s: %v", p, err)
		}
		if string(got) != files[i] {
			t.Fatalf("managed file %d content %q, want %q", i, got, files[i])
		}
	}
}
