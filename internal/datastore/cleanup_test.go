package datastore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"harvest/internal/datastore"
)

func TestCleanStaleRemovesOnlyOldDebris(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id, err := store.AddData(ctx, []byte("keep"), nil)
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-2 * time.Hour)
	staleTemp := filepath.Join(store.Root(), ".tmp-"+uuid.NewString())
	staleTrash := filepath.Join(store.Root(), ".trash-"+uuid.NewString()+"-abcd1234")
	freshTemp := filepath.Join(store.Root(), ".tmp-"+uuid.NewString())
	for _, dir := range []string{staleTemp, staleTrash, freshTemp} {
		if err := os.MkdirAll(filepath.Join(dir, "payload"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, dir := range []string{staleTemp, staleTrash, filepath.Join(store.Root(), id)} {
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
	}

	result := store.CleanStale(ctx, time.Hour)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removals, got %v", result.Removed)
	}
	for _, dir := range []string{staleTemp, staleTrash} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", dir)
		}
	}
	if _, err := os.Stat(freshTemp); err != nil {
		t.Fatalf("expected fresh temp dir kept: %v", err)
	}
	mustItem(t, store, id)
}

func TestStatsCountsItems(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	first, err := store.AddData(ctx, []byte("12345"), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.AddData(ctx, []byte("123"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mustItem(t, store, first).Tracker().MarkUploaded(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mustItem(t, store, second).Tracker().IncreaseRetryCount(ctx); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := datastore.Stats{Total: 2, Uploaded: 1, Pending: 1, Retried: 1, Bytes: 8}
	if stats != want {
		t.Fatalf("stats %+v, want %+v", stats, want)
	}
}

func TestWatchReportsPublishedItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := openStore(t)

	seen := make(chan string, 64)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func(id string) { seen <- id })
	}()

	// The watcher registers asynchronously; keep adding until one is reported.
	deadline := time.After(5 * time.Second)
	added := map[string]bool{}
	for {
		id, err := store.AddData(ctx, []byte("w"), nil)
		if err != nil {
			t.Fatalf("AddData: %v", err)
		}
		added[id] = true
		select {
		case got := <-seen:
			if !added[got] {
				t.Fatalf("watch reported unknown id %s", got)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned error: %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for watch notification")
		}
	}
}

func TestCleanStaleSweepsInterruptedWritesInsideItems(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id, err := store.AddData(ctx, []byte("keep"), nil)
	if err != nil {
		t.Fatal(err)
	}
	itemDir := filepath.Join(store.Root(), id)
	staleTracker := filepath.Join(itemDir, ".tracker.json.tmp-123")
	staleMetadata := filepath.Join(itemDir, ".metadata.json.tmp-456")
	freshTracker := filepath.Join(itemDir, ".tracker.json.tmp-789")
	for _, p := range []string{staleTracker, staleMetadata, freshTracker} {
		if err := os.WriteFile(p, []byte("{"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{staleTracker, staleMetadata} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	result := store.CleanStale(ctx, time.Hour)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 2 {
		t.Fatalf("expected 2 removals, got %v", result.Removed)
	}
	for _, p := range []string{staleTracker, staleMetadata} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", p)
		}
	}
	if _, err := os.Stat(freshTracker); err != nil {
		t.Fatalf("expected in-flight temp file kept: %v", err)
	}
	item := mustItem(t, store, id)
	if data, err := item.Data(); err != nil || string(data) != "keep" {
		t.Fatalf("item damaged by cleanup: %q %v", data, err)
	}
}
