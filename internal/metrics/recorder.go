package metrics

import "time"

// ResultLabel enumerates per-collector pass outcomes.
type ResultLabel string

const (
	ResultStored  ResultLabel = "stored"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// DeliveryLabel enumerates drain delivery outcomes.
type DeliveryLabel string

const (
	DeliverySuccess   DeliveryLabel = "success"
	DeliveryFailed    DeliveryLabel = "failed"
	DeliveryExhausted DeliveryLabel = "exhausted"
)

// Recorder defines observability hooks for collection passes and the staging
// store. Implementations must be safe for concurrent use.
type Recorder interface {
	ObservePassDuration(d time.Duration)
	IncCollectorResult(collector string, result ResultLabel)
	AddObjectsCollected(collector string, n int)
	IncItemsAdded(kind string)
	IncItemsRemoved()
	IncTrackerUpdate(operation string)
	IncDelivery(result DeliveryLabel)
	SetStoreItems(state string, n int)
	SetStoreBytes(n int64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePassDuration(time.Duration)      {}
func (NoopRecorder) IncCollectorResult(string, ResultLabel) {}
func (NoopRecorder) AddObjectsCollected(string, int)        {}
func (NoopRecorder) IncItemsAdded(string)                   {}
func (NoopRecorder) IncItemsRemoved()                       {}
func (NoopRecorder) IncTrackerUpdate(string)                {}
func (NoopRecorder) IncDelivery(DeliveryLabel)              {}
func (NoopRecorder) SetStoreItems(string, int)              {}
func (NoopRecorder) SetStoreBytes(int64)                    {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
