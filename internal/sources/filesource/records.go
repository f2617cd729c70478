package filesource

import (
	"time"

	"harvest/internal/collector"
)

type sampleRecord struct {
	UUID     string         `json:"uuid"`
	Type     string         `json:"type"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Value    float64        `json:"value"`
	Unit     string         `json:"unit"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (r sampleRecord) object(fallbackType string) collector.Sample {
	sampleType := r.Type
	if sampleType == "" {
		sampleType = fallbackType
	}
	end := r.End
	if end.IsZero() {
		end = r.Start
	}
	return collector.Sample{
		UUID:     r.UUID,
		Type:     sampleType,
		Start:    r.Start,
		End:      end,
		Value:    r.Value,
		Unit:     r.Unit,
		Source:   r.Source,
		Metadata: r.Metadata,
	}
}

type correlationRecord struct {
	UUID    string         `json:"uuid"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Samples []sampleRecord `json:"samples"`
}

type activityRecord struct {
	Start      time.Time `json:"start"`
	Activity   string    `json:"activity"`
	Confidence string    `json:"confidence"`
}
