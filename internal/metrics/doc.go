// Package metrics defines the observability hooks used by the collection
// manager, the staging store, and the drain, together with a Prometheus
// implementation and its HTTP handler. NoopRecorder is the default when
// metrics are not configured.
package metrics
