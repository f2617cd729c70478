package main

import (
	"io"
	"strings"
	"testing"
	"time"

	"harvest/internal/datastore"
)

func TestRenderStatusPlain(t *testing.T) {
	out := renderStatus(statusSections(statusReport{
		Collectors:     2,
		NeverCollected: 1,
		Items:          3,
		Pending:        2,
		Retried:        1,
		Bytes:          2048,
		StoreDir:       "/data/store",
	}), false)
	for _, want := range []string{
		"Harvest\n",
		"  warn Daemon       not running\n",
		"  info Registered   2 (1 not collected yet)\n",
		"  info Items        3 (2.0 KiB)\n",
		"  warn Retried      1\n",
		"       Store        /data/store\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in status output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected escape sequences without color:\n%q", out)
	}
}

func TestRenderStatusColorsMarkers(t *testing.T) {
	out := renderStatus(statusSections(statusReport{DaemonRunning: true, Collectors: 1}), true)
	if !strings.Contains(out, "\x1b[") || !strings.Contains(out, "ok") {
		t.Fatalf("expected colored markers, got %q", out)
	}
	if !strings.Contains(out, "running") || strings.Contains(out, "not running") {
		t.Fatalf("expected running daemon, got %q", out)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestItemsTableTotalsFooter(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := itemsTable([]itemView{
		{ID: "a", Kind: "data", CreatedAt: created, RetryCount: 2, Bytes: 1024},
		{ID: "b", Kind: "file", CreatedAt: created, Uploaded: true, Bytes: 1024},
	})
	for _, want := range []string{"a", "b", "Data", "File", "2 items", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in items table:\n%s", want, out)
		}
	}
}

func TestCollectorsTableCursorLabels(t *testing.T) {
	out := collectorsTable([]collectorView{
		{ID: "sample/quantity.steps/count", Kind: "sample", Detail: "quantity.steps [count]", Anchor: "12"},
		{ID: "activity", Kind: "activity", Detail: "motion activity"},
	})
	for _, want := range []string{"line 12", "not collected", "quantity.steps [count]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in collectors table:\n%s", want, out)
		}
	}
}

func TestStoreStatsTable(t *testing.T) {
	out := storeStatsTable(datastore.Stats{Total: 4, Uploaded: 1, Pending: 3, Bytes: 3 << 20})
	for _, want := range []string{"Pending", "3.0 MiB"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in stats table:\n%s", want, out)
		}
	}
}
