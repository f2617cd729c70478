package testsupport

import (
	"testing"

	"harvest/internal/collection"
	"harvest/internal/collector"
	"harvest/internal/config"
	"harvest/internal/datastore"
)

// MustOpenStore opens the staging store under cfg's store dir.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...datastore.Option) *datastore.Store {
	t.Helper()

	store, err := datastore.Open(cfg.Paths.StoreDir, opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

// MustOpenManager opens a collection manager under cfg's collection dir and
// closes it when the test ends.
func MustOpenManager(t testing.TB, cfg *config.Config, source collector.Source, observer collection.Observer, opts ...collection.Option) *collection.Manager {
	t.Helper()

	manager, err := collection.Open(cfg.Paths.CollectionDir, source, observer, opts...)
	if err != nil {
		t.Fatalf("open collection manager: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Close()
	})
	return manager
}
