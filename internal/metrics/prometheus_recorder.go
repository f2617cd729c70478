package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "harvest"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	passDuration     prom.Histogram
	collectorResults *prom.CounterVec
	objectsCollected *prom.CounterVec
	itemsAdded       *prom.CounterVec
	itemsRemoved     prom.Counter
	trackerUpdates   *prom.CounterVec
	deliveries       *prom.CounterVec
	storeItems       *prom.GaugeVec
	storeBytes       prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
// A fresh registry is used when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		passDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_pass_duration_seconds",
			Help:      "Duration of full collection passes",
			Buckets:   prom.DefBuckets,
		}),
		collectorResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "collector_results_total",
			Help:      "Per-collector pass outcomes",
		}, []string{"collector", "result"}),
		objectsCollected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "objects_collected_total",
			Help:      "Objects fetched and durably stored per collector",
		}, []string{"collector"}),
		itemsAdded: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_items_added_total",
			Help:      "Items added to the staging store by payload kind",
		}, []string{"kind"}),
		itemsRemoved: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_items_removed_total",
			Help:      "Items removed from the staging store",
		}),
		trackerUpdates: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_updates_total",
			Help:      "Tracker mutations by operation",
		}, []string{"operation"}),
		deliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "drain_deliveries_total",
			Help:      "Drain delivery attempts by outcome",
		}, []string{"result"}),
		storeItems: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "store_items",
			Help:      "Items currently staged by upload state",
		}, []string{"state"}),
		storeBytes: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "store_bytes",
			Help:      "Total payload bytes currently staged",
		}),
	}
	reg.MustRegister(
		pr.passDuration,
		pr.collectorResults,
		pr.objectsCollected,
		pr.itemsAdded,
		pr.itemsRemoved,
		pr.trackerUpdates,
		pr.deliveries,
		pr.storeItems,
		pr.storeBytes,
	)
	return pr
}

func (p *PrometheusRecorder) ObservePassDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.passDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCollectorResult(collector string, result ResultLabel) {
	if p == nil {
		return
	}
	p.collectorResults.WithLabelValues(collector, string(result)).Inc()
}

func (p *PrometheusRecorder) AddObjectsCollected(collector string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.objectsCollected.WithLabelValues(collector).Add(float64(n))
}

func (p *PrometheusRecorder) IncItemsAdded(kind string) {
	if p == nil {
		return
	}
	p.itemsAdded.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncItemsRemoved() {
	if p == nil {
		return
	}
	p.itemsRemoved.Inc()
}

func (p *PrometheusRecorder) IncTrackerUpdate(operation string) {
	if p == nil {
		return
	}
	p.trackerUpdates.WithLabelValues(operation).Inc()
}

func (p *PrometheusRecorder) IncDelivery(result DeliveryLabel) {
	if p == nil {
		return
	}
	p.deliveries.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) SetStoreItems(state string, n int) {
	if p == nil {
		return
	}
	p.storeItems.WithLabelValues(state).Set(float64(n))
}

func (p *PrometheusRecorder) SetStoreBytes(n int64) {
	if p == nil {
		return
	}
	p.storeBytes.Set(float64(n))
}
