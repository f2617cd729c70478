package collector

import "time"

// Object is one record fetched from a source: a Sample, a Correlation, or an
// Activity.
type Object interface {
	ObjectKind() Kind
	StartDate() time.Time
}

// Sample is a single quantity or category measurement.
type Sample struct {
	UUID     string
	Type     string
	Start    time.Time
	End      time.Time
	Value    float64
	Unit     string
	Source   string
	Metadata map[string]any
}

// ObjectKind implements Object.
func (Sample) ObjectKind() Kind { return KindSample }

// StartDate implements Object.
func (s Sample) StartDate() time.Time { return s.Start }

// Correlation groups component samples recorded together.
type Correlation struct {
	UUID    string
	Type    string
	Start   time.Time
	End     time.Time
	Samples []Sample
}

// ObjectKind implements Object.
func (Correlation) ObjectKind() Kind { return KindCorrelation }

// StartDate implements Object.
func (c Correlation) StartDate() time.Time { return c.Start }

// Activity is a motion activity classification.
type Activity struct {
	Start      time.Time
	Activity   string
	Confidence string
}

// ObjectKind implements Object.
func (Activity) ObjectKind() Kind { return KindActivity }

// StartDate implements Object.
func (a Activity) StartDate() time.Time { return a.Start }
