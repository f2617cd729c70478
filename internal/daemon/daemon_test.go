package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"harvest/internal/bridge"
	"harvest/internal/collection"
	"harvest/internal/collector"
	"harvest/internal/config"
	"harvest/internal/daemon"
	"harvest/internal/datastore"
	"harvest/internal/metrics"
	"harvest/internal/testsupport"
)

type onceSource struct{}

func (onceSource) FetchSince(_ context.Context, _ collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	if cursor.Anchor != "" {
		return nil, cursor, nil
	}
	start := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	return []collector.Object{
		collector.Sample{UUID: "x", Type: "quantity.steps", Start: start, End: start, Value: 5, Unit: "count"},
	}, collector.Cursor{Anchor: "1"}, nil
}

func newDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) (*daemon.Daemon, *datastore.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	manager := testsupport.MustOpenManager(t, cfg, onceSource{}, bridge.New(store))
	if _, err := manager.AddSampleCollector(context.Background(), "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add collector: %v", err)
	}
	d, err := daemon.New(cfg, store, manager, nil, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}
	running, err := daemon.IsRunning(cfg.LockPath())
	if err != nil || !running {
		t.Fatalf("expected lock to be held, got %v %v", running, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the immediate pass to stage one item, got %+v", stats)
		}
		time.Sleep(20 * time.Millisecond)
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	running, err = daemon.IsRunning(cfg.LockPath())
	if err != nil || running {
		t.Fatalf("expected lock to be released, got %v %v", running, err)
	}
}

func TestSecondDaemonIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	other, err := collection.Open(t.TempDir(), onceSource{}, bridge.New(store))
	if err != nil {
		t.Fatalf("open second manager: %v", err)
	}
	second, err := daemon.New(cfg, store, other, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true
	reg := prometheus.NewRegistry()
	metrics.NewPrometheusRecorder(reg).ObservePassDuration(time.Second)
	d, _ := newDaemon(t, cfg, daemon.WithRegistry(reg))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bind := d.Status().MetricsBind
	if bind == "" {
		t.Fatal("expected metrics bind in status")
	}
	resp, err := http.Get("http://" + bind + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Fatal("expected metrics body")
	}
}

func apiRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIRequiresBearerToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.APIToken = "secret"
	d, _ := newDaemon(t, cfg, daemon.WithRegistry(prometheus.NewRegistry()))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := "http://" + d.Status().MetricsBind

	if resp := apiRequest(t, http.MethodGet, base+"/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := apiRequest(t, http.MethodGet, base+"/api/status", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	resp := apiRequest(t, http.MethodGet, base+"/api/status", "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	var status struct {
		Running      bool `json:"running"`
		Collectors   int  `json:"collectors"`
		DrainEnabled bool `json:"drain_enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Collectors != 1 || status.DrainEnabled {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	if resp := apiRequest(t, http.MethodGet, base+"/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics to stay open, got %d", resp.StatusCode)
	}
}

func TestAPICollectorsItemsAndDrain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Enabled = true
	d, _ := newDaemon(t, cfg, daemon.WithRegistry(prometheus.NewRegistry()))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := "http://" + d.Status().MetricsBind

	resp := apiRequest(t, http.MethodGet, base+"/api/collectors", "")
	var collectors []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&collectors); err != nil {
		t.Fatalf("decode collectors: %v", err)
	}
	if len(collectors) != 1 || collectors[0].ID != "sample/quantity.steps/count" {
		t.Fatalf("unexpected collectors: %+v", collectors)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/items?exclude=sideways", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown exclusion, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unknown exclusion") {
		t.Fatalf("unexpected error body %q", body)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/items?exclude=uploaded&limit=10", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for item listing, got %d", resp.StatusCode)
	}

	if resp := apiRequest(t, http.MethodPost, base+"/api/drain", ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without a drainer, got %d", resp.StatusCode)
	}
	if resp := apiRequest(t, http.MethodPost, base+"/api/collect", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for collect, got %d", resp.StatusCode)
	}
	if resp := apiRequest(t, http.MethodGet, base+"/api/collect", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET collect, got %d", resp.StatusCode)
	}
}
