package collection_test

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"harvest/internal/collection"
	"harvest/internal/collector"
	"harvest/internal/faults"
	"harvest/internal/sources/filesource"
	"harvest/internal/testsupport"
)

const stepsID = "sample/quantity.steps/count"

type fakeSource struct {
	mu      sync.Mutex
	objects map[string][]collector.Object
	errs    map[string]error
	seen    map[string][]collector.Cursor
	gate    chan struct{}
	entered chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		objects: make(map[string][]collector.Object),
		errs:    make(map[string]error),
		seen:    make(map[string][]collector.Cursor),
	}
}

func (s *fakeSource) add(id string, objects ...collector.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = append(s.objects[id], objects...)
}

func (s *fakeSource) FetchSince(_ context.Context, query collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[query.Collector] = append(s.seen[query.Collector], cursor)
	if err := s.errs[query.Collector]; err != nil {
		return nil, cursor, err
	}
	all := s.objects[query.Collector]
	if query.Kind == collector.KindActivity {
		var out []collector.Object
		for _, obj := range all {
			if obj.StartDate().After(cursor.Timestamp) {
				out = append(out, obj)
			}
		}
		return out, collector.Cursor{}, nil
	}
	offset := 0
	if cursor.Anchor != "" {
		offset, _ = strconv.Atoi(cursor.Anchor)
	}
	if offset >= len(all) {
		return nil, cursor, nil
	}
	return all[offset:], collector.Cursor{Anchor: strconv.Itoa(len(all))}, nil
}

func (s *fakeSource) cursors(id string) []collector.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]collector.Cursor(nil), s.seen[id]...)
}

type fakeObserver struct {
	mu       sync.Mutex
	reject   map[string]bool
	batches  map[string][]int
	passes   int
	failed   []string
	failures []error
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{reject: make(map[string]bool), batches: make(map[string][]int)}
}

func (o *fakeObserver) Collected(_ context.Context, c *collector.Collector, objects []collector.Object) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches[c.Identifier()] = append(o.batches[c.Identifier()], len(objects))
	return !o.reject[c.Identifier()]
}

func (o *fakeObserver) PassCompleted(m *collection.Manager) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m != nil {
		o.passes++
	}
}

func (o *fakeObserver) CollectionFailed(c *collector.Collector, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, c.Identifier())
	o.failures = append(o.failures, err)
}

func (o *fakeObserver) setReject(id string, reject bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reject[id] = reject
}

func (o *fakeObserver) passCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.passes
}

func sample(n int) collector.Sample {
	start := time.Date(2024, 3, 1, 8, 0, n, 0, time.UTC)
	return collector.Sample{
		UUID:  "s-" + strconv.Itoa(n),
		Type:  "quantity.steps",
		Start: start,
		End:   start.Add(time.Minute),
		Value: float64(100 + n),
		Unit:  "count",
	}
}

func TestOpenValidatesArguments(t *testing.T) {
	root := t.TempDir()
	if _, err := collection.Open(" ", newFakeSource(), newFakeObserver()); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for empty root, got %v", err)
	}
	if _, err := collection.Open(root, nil, newFakeObserver()); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for nil source, got %v", err)
	}
	if _, err := collection.Open(root, newFakeSource(), nil); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for nil observer, got %v", err)
	}
}

func TestAddCollectorsPersistInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	manager := testsupport.MustOpenManager(t, cfg, newFakeSource(), newFakeObserver())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", start); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	if _, err := manager.AddActivityCollector(ctx, start); err != nil {
		t.Fatalf("add activity: %v", err)
	}
	if _, err := manager.AddCorrelationCollector(ctx, "correlation.bloodPressure",
		[]string{"quantity.systolic", "quantity.diastolic"}, []string{"mmHg", "mmHg"}, start); err != nil {
		t.Fatalf("add correlation: %v", err)
	}
	want := []string{stepsID, "activity", "correlation/correlation.bloodPressure"}

	assertIDs := func(t *testing.T, got []*collector.Collector) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("expected %d collectors, got %d", len(want), len(got))
		}
		for i, c := range got {
			if c.Identifier() != want[i] {
				t.Fatalf("collector %d: got %q want %q", i, c.Identifier(), want[i])
			}
		}
	}
	assertIDs(t, manager.Collectors())

	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := testsupport.MustOpenManager(t, cfg, newFakeSource(), newFakeObserver())
	assertIDs(t, reopened.Collectors())
	c, ok := reopened.Collector(stepsID)
	if !ok {
		t.Fatal("expected steps collector after reopen")
	}
	if !c.StartDate().Equal(start) {
		t.Fatalf("start date not restored: %s", c.StartDate())
	}
}

func TestAddCollectorRejectsDuplicatesAndInvalidParams(t *testing.T) {
	ctx := context.Background()
	manager := testsupport.MustOpenManager(t, testsupport.NewConfig(t), newFakeSource(), newFakeObserver())

	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("expected conflict for duplicate collector, got %v", err)
	}
	if _, err := manager.AddSampleCollector(ctx, "steps", "count", time.Time{}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for bad type, got %v", err)
	}
	if _, err := manager.AddCorrelationCollector(ctx, "correlation.food", []string{"quantity.energy"}, nil, time.Time{}); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error for mismatched units, got %v", err)
	}
	if got := len(manager.Collectors()); got != 1 {
		t.Fatalf("failed adds must not register collectors, got %d", got)
	}
}

func TestRemoveCollectorPurgesCursor(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	source := newFakeSource()
	source.add(stepsID, sample(1), sample(2))
	manager := testsupport.MustOpenManager(t, cfg, source, newFakeObserver())

	if err := manager.RemoveCollector(ctx, stepsID); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found for unknown collector, got %v", err)
	}
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	manager.RunCollectionPass(ctx)
	if err := manager.RemoveCollector(ctx, stepsID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(manager.Collectors()) != 0 {
		t.Fatal("expected no collectors after removal")
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := testsupport.MustOpenManager(t, cfg, source, newFakeObserver())
	if len(reopened.Collectors()) != 0 {
		t.Fatal("removed collector came back after reopen")
	}
	c, err := reopened.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{})
	if err != nil {
		t.Fatalf("re-add sample: %v", err)
	}
	if !c.Cursor().IsZero() {
		t.Fatalf("expected fresh cursor after re-adding, got %+v", c.Cursor())
	}
}

func TestPassAdvancesCursorOnlyAfterStore(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	source := newFakeSource()
	source.add(stepsID, sample(1), sample(2), sample(3))
	observer := newFakeObserver()
	manager := testsupport.MustOpenManager(t, cfg, source, observer)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	summary := manager.RunCollectionPass(ctx)
	if summary.Collected != 1 || summary.Objects != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}
	c, _ := manager.Collector(stepsID)
	if c.Cursor().Anchor != "3" {
		t.Fatalf("expected anchor 3, got %q", c.Cursor().Anchor)
	}

	summary = manager.RunCollectionPass(ctx)
	if summary.Skipped != 1 || summary.Collected != 0 {
		t.Fatalf("expected skipped collector on second pass, got %+v", summary)
	}
	if observer.passCount() != 2 {
		t.Fatalf("expected PassCompleted once per pass, got %d", observer.passCount())
	}

	source.add(stepsID, sample(4))
	manager.RunCollectionPass(ctx)
	if got := observer.batches[stepsID]; len(got) != 2 || got[1] != 1 {
		t.Fatalf("expected second batch of one object, got %v", got)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := testsupport.MustOpenManager(t, cfg, source, newFakeObserver())
	c, _ = reopened.Collector(stepsID)
	if c.Cursor().Anchor != "4" {
		t.Fatalf("expected persisted anchor 4, got %q", c.Cursor().Anchor)
	}
}

func TestRejectedBatchIsFetchedAgain(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.add(stepsID, sample(1), sample(2))
	observer := newFakeObserver()
	observer.setReject(stepsID, true)
	manager := testsupport.MustOpenManager(t, testsupport.NewConfig(t), source, observer)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	summary := manager.RunCollectionPass(ctx)
	if summary.Failed != 1 {
		t.Fatalf("expected failed collector, got %+v", summary)
	}
	if len(observer.failures) != 1 || !errors.Is(observer.failures[0], collection.ErrNotStored) {
		t.Fatalf("expected ErrNotStored failure, got %v", observer.failures)
	}
	c, _ := manager.Collector(stepsID)
	if !c.Cursor().IsZero() {
		t.Fatalf("cursor moved after rejected batch: %+v", c.Cursor())
	}

	observer.setReject(stepsID, false)
	manager.RunCollectionPass(ctx)
	seen := source.cursors(stepsID)
	if len(seen) != 2 || !seen[1].IsZero() {
		t.Fatalf("expected second fetch from the same cursor, got %+v", seen)
	}
	if got := observer.batches[stepsID]; len(got) != 2 || got[1] != 2 {
		t.Fatalf("expected the same two objects again, got %v", got)
	}
}

func TestFetchErrorDoesNotStopOtherCollectors(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.errs[stepsID] = errors.New("export unreadable")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source.add("activity",
		collector.Activity{Start: start.Add(time.Hour), Activity: "walking", Confidence: "high"},
		collector.Activity{Start: start.Add(2 * time.Hour), Activity: "stationary", Confidence: "medium"},
	)
	observer := newFakeObserver()
	manager := testsupport.MustOpenManager(t, testsupport.NewConfig(t), source, observer)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", start); err != nil {
		t.Fatalf("add sample: %v", err)
	}
	if _, err := manager.AddActivityCollector(ctx, start); err != nil {
		t.Fatalf("add activity: %v", err)
	}

	summary := manager.RunCollectionPass(ctx)
	if summary.Failed != 1 || summary.Collected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(observer.failed) != 1 || observer.failed[0] != stepsID {
		t.Fatalf("expected failure for steps collector, got %v", observer.failed)
	}
	activity, _ := manager.Collector("activity")
	if want := start.Add(2 * time.Hour); !activity.Cursor().Timestamp.Equal(want) {
		t.Fatalf("expected activity cursor %s, got %s", want, activity.Cursor().Timestamp)
	}

	summary = manager.RunCollectionPass(ctx)
	if summary.Skipped != 1 {
		t.Fatalf("expected activity to have nothing new, got %+v", summary)
	}
}

func TestPassiveRequestsCoalesce(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	source.gate = make(chan struct{})
	source.entered = make(chan struct{}, 1)
	observer := newFakeObserver()
	manager := testsupport.MustOpenManager(t, testsupport.NewConfig(t), source, observer)
	if _, err := manager.AddActivityCollector(ctx, time.Time{}); err != nil {
		t.Fatalf("add activity: %v", err)
	}

	manager.RunPassiveCollectionPass()
	select {
	case <-source.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("passive pass did not start")
	}
	for range 3 {
		manager.RunPassiveCollectionPass()
	}
	close(source.gate)
	manager.Wait()

	if got := observer.passCount(); got != 2 {
		t.Fatalf("expected requests during a pass to collapse into one more pass, got %d passes", got)
	}
}

func TestWaitReturnsImmediatelyWhenIdle(t *testing.T) {
	manager := testsupport.MustOpenManager(t, testsupport.NewConfig(t), newFakeSource(), newFakeObserver())
	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait blocked with no pass running")
	}
}

type skippingSource struct {
	mu   sync.Mutex
	seen []collector.Cursor
}

func (s *skippingSource) FetchSince(_ context.Context, _ collector.Query, cursor collector.Cursor) ([]collector.Object, collector.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cursor)
	offset := 0
	if cursor.Anchor != "" {
		offset, _ = strconv.Atoi(cursor.Anchor)
	}
	if offset >= 4 {
		return nil, cursor, nil
	}
	return nil, collector.Cursor{Anchor: strconv.Itoa(offset + 2)}, nil
}

func TestEmptyBatchStillPersistsMovedCursor(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	source := &skippingSource{}
	observer := newFakeObserver()
	manager := testsupport.MustOpenManager(t, cfg, source, observer)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", time.Time{}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	for range 3 {
		summary := manager.RunCollectionPass(ctx)
		if summary.Skipped != 1 || summary.Failed != 0 {
			t.Fatalf("expected skipped collector, got %+v", summary)
		}
	}
	if len(observer.batches[stepsID]) != 0 {
		t.Fatalf("empty batches must not reach the observer, got %v", observer.batches)
	}
	source.mu.Lock()
	seen := append([]collector.Cursor(nil), source.seen...)
	source.mu.Unlock()
	if len(seen) != 3 || seen[1].Anchor != "2" || seen[2].Anchor != "4" {
		t.Fatalf("expected each pass to resume where the last stopped, got %+v", seen)
	}

	if err := manager.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := testsupport.MustOpenManager(t, cfg, source, newFakeObserver())
	c, _ := reopened.Collector(stepsID)
	if c.Cursor().Anchor != "4" {
		t.Fatalf("expected persisted anchor 4, got %q", c.Cursor().Anchor)
	}
}

func TestRecordsAfterFilteredLinesAreCollected(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	line := func(uuid string, at time.Time) map[string]any {
		return map[string]any{
			"uuid":  uuid,
			"type":  "quantity.steps",
			"start": at.Format(time.RFC3339),
			"end":   at.Add(time.Minute).Format(time.RFC3339),
			"value": 5,
			"unit":  "count",
		}
	}
	testsupport.WriteJSONLines(t, filepath.Join(cfg.Paths.SourceDir, "samples", "quantity.steps.jsonl"),
		line("old-1", start.Add(-2*time.Hour)),
		line("old-2", start.Add(-time.Hour)),
		line("new-1", start.Add(time.Hour)),
	)
	observer := newFakeObserver()
	manager := testsupport.MustOpenManager(t, cfg, filesource.New(cfg.Paths.SourceDir, filesource.WithBatchSize(2)), observer)
	if _, err := manager.AddSampleCollector(ctx, "quantity.steps", "count", start); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	summary := manager.RunCollectionPass(ctx)
	if summary.Collected != 1 || summary.Objects != 1 {
		t.Fatalf("expected the record after the filtered lines, got %+v", summary)
	}
	c, _ := manager.Collector(stepsID)
	if c.Cursor().Anchor != "3" {
		t.Fatalf("expected anchor 3, got %q", c.Cursor().Anchor)
	}
}
