package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"harvest/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	writeLog(t, path, "a\nb\nc\n")

	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}
	if !slices.Equal(lines, []string{"b", "c"}) {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != 6 {
		t.Fatalf("expected offset 6, got %d", offset)
	}
}

func TestLastLeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	writeLog(t, path, "one\ntwo")

	lines, offset, err := logs.Last(path, 10)
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}
	if !slices.Equal(lines, []string{"one"}) || offset != 4 {
		t.Fatalf("unexpected result: lines=%#v offset=%d", lines, offset)
	}
}

func TestLastZeroLimitSkipsToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	writeLog(t, path, "a\nb\n")

	lines, offset, err := logs.Last(path, 0)
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}
	if len(lines) != 0 || offset != 4 {
		t.Fatalf("unexpected result: lines=%#v offset=%d", lines, offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "missing.log"), 5)
	if err != nil || len(lines) != 0 || offset != 0 {
		t.Fatalf("expected empty result, got lines=%#v offset=%d err=%v", lines, offset, err)
	}
}

func TestFollowStreamsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	writeLog(t, path, "old\n")
	_, offset, err := logs.Last(path, 0)
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	appended := false
	for time.Now().Before(deadline) {
		if !appended {
			// Give the watcher a moment to register before writing.
			time.Sleep(50 * time.Millisecond)
			appendLog(t, path, "new one\nnew two\n")
			appended = true
		}
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, []string{"new one", "new two"}) {
		t.Fatalf("unexpected followed lines: %#v", got)
	}
}
