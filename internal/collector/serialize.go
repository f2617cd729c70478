package collector

import (
	"encoding/json"
	"fmt"
	"time"
)

// SerializableObjects maps objects to JSON-ready records. Objects of another
// variant than the collector's are skipped. Sample values are expressed in the
// collector's unit when the source unit can be converted.
func (c *Collector) SerializableObjects(objects []Object) []map[string]any {
	records := make([]map[string]any, 0, len(objects))
	for _, obj := range objects {
		switch c.kind {
		case KindSample:
			if sample, ok := obj.(Sample); ok {
				records = append(records, sampleRecord(sample, c.sample.Unit))
			}
		case KindCorrelation:
			if correlation, ok := obj.(Correlation); ok {
				records = append(records, c.correlationRecord(correlation))
			}
		case KindActivity:
			if activity, ok := obj.(Activity); ok {
				records = append(records, activityRecord(activity))
			}
		}
	}
	return records
}

// SerializedData returns the archival document for a batch:
// {"collector": id, "kind": kind, "items": [...]}.
func (c *Collector) SerializedData(objects []Object) ([]byte, error) {
	document := struct {
		Collector string           `json:"collector"`
		Kind      Kind             `json:"kind"`
		Items     []map[string]any `json:"items"`
	}{
		Collector: c.id,
		Kind:      c.kind,
		Items:     c.SerializableObjects(objects),
	}
	data, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode %s batch: %w", c.id, err)
	}
	return data, nil
}

func (c *Collector) correlationRecord(correlation Correlation) map[string]any {
	unitFor := make(map[string]string, len(c.correlation.SampleTypes))
	for i, sampleType := range c.correlation.SampleTypes {
		unitFor[sampleType] = c.correlation.Units[i]
	}
	components := make([]map[string]any, 0, len(correlation.Samples))
	for _, sample := range correlation.Samples {
		unit, ok := unitFor[sample.Type]
		if !ok {
			continue
		}
		components = append(components, sampleRecord(sample, unit))
	}
	record := map[string]any{
		"type":       correlation.Type,
		"start_date": formatTime(correlation.Start),
		"end_date":   formatTime(correlation.End),
		"objects":    components,
	}
	if correlation.UUID != "" {
		record["uuid"] = correlation.UUID
	}
	return record
}

func sampleRecord(sample Sample, unit string) map[string]any {
	value := sample.Value
	if sample.Unit == "" {
		sample.Unit = unit
	}
	if converted, err := ConvertValue(sample.Value, sample.Unit, unit); err == nil {
		value = converted
	} else {
		unit = sample.Unit
	}
	record := map[string]any{
		"type":       sample.Type,
		"start_date": formatTime(sample.Start),
		"end_date":   formatTime(sample.End),
		"value":      value,
		"unit":       unit,
	}
	if sample.UUID != "" {
		record["uuid"] = sample.UUID
	}
	if sample.Source != "" {
		record["source"] = sample.Source
	}
	if len(sample.Metadata) > 0 {
		record["metadata"] = sample.Metadata
	}
	return record
}

func activityRecord(activity Activity) map[string]any {
	record := map[string]any{
		"start_date": formatTime(activity.Start),
		"activity":   activity.Activity,
	}
	if activity.Confidence != "" {
		record["confidence"] = activity.Confidence
	}
	return record
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
