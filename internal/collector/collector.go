package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"harvest/internal/faults"
)

const component = "collector"

// Kind identifies the collector variant.
type Kind string

const (
	KindSample      Kind = "sample"
	KindCorrelation Kind = "correlation"
	KindActivity    Kind = "activity"
)

const (
	quantityPrefix    = "quantity."
	categoryPrefix    = "category."
	correlationPrefix = "correlation."
)

// Cursor marks how far a collector has consumed its source.
type Cursor struct {
	Anchor    string    `json:"anchor,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// IsZero reports whether the cursor still points at the start of the source.
func (c Cursor) IsZero() bool {
	return c.Anchor == "" && c.Timestamp.IsZero()
}

// Equal reports whether both cursors mark the same position.
func (c Cursor) Equal(other Cursor) bool {
	return c.Anchor == other.Anchor && c.Timestamp.Equal(other.Timestamp)
}

// SampleParams are the parameters of a sample collector.
type SampleParams struct {
	Type  string    `json:"type"`
	Unit  string    `json:"unit"`
	Start time.Time `json:"start,omitzero"`
}

// CorrelationParams are the parameters of a correlation collector.
type CorrelationParams struct {
	Type        string    `json:"type"`
	SampleTypes []string  `json:"sample_types"`
	Units       []string  `json:"units"`
	Start       time.Time `json:"start,omitzero"`
}

// ActivityParams are the parameters of the activity collector.
type ActivityParams struct {
	Start time.Time `json:"start,omitzero"`
}

// Query is what a collector asks its source for. Exactly one of the parameter
// pointers is set, matching Kind.
type Query struct {
	Collector   string
	Kind        Kind
	Sample      *SampleParams
	Correlation *CorrelationParams
	Activity    *ActivityParams
}

// Start returns the earliest date the query is interested in.
func (q Query) Start() time.Time {
	switch {
	case q.Sample != nil:
		return q.Sample.Start
	case q.Correlation != nil:
		return q.Correlation.Start
	case q.Activity != nil:
		return q.Activity.Start
	default:
		return time.Time{}
	}
}

// Source fetches objects newer than a cursor. Implementations return the
// cursor to resume from next time; an unchanged or zero cursor is allowed when
// the source has nothing better to offer.
type Source interface {
	FetchSince(ctx context.Context, query Query, cursor Cursor) ([]Object, Cursor, error)
}

// Collector is one resumable source registered with a collection manager.
// Values are immutable; cursor changes produce a new Collector.
type Collector struct {
	id          string
	kind        Kind
	sample      *SampleParams
	correlation *CorrelationParams
	activity    *ActivityParams
	cursor      Cursor
}

// NewSample builds a collector for one quantity or category sample type.
func NewSample(sampleType, unit string, start time.Time) (*Collector, error) {
	sampleType = strings.TrimSpace(sampleType)
	unit = strings.TrimSpace(unit)
	if err := validateSample("new sample collector", sampleType, unit); err != nil {
		return nil, err
	}
	params := &SampleParams{Type: sampleType, Unit: unit, Start: start.UTC()}
	return &Collector{
		id:     string(KindSample) + "/" + sampleType + "/" + unit,
		kind:   KindSample,
		sample: params,
	}, nil
}

// NewCorrelation builds a collector for a correlation type. sampleTypes and
// units describe the component samples and must line up one to one.
func NewCorrelation(correlationType string, sampleTypes, units []string, start time.Time) (*Collector, error) {
	const operation = "new correlation collector"
	correlationType = strings.TrimSpace(correlationType)
	if !strings.HasPrefix(correlationType, correlationPrefix) || len(correlationType) == len(correlationPrefix) {
		return nil, faults.Validation(component, operation, fmt.Sprintf("unsupported correlation type %q", correlationType))
	}
	if len(sampleTypes) != len(units) {
		return nil, faults.Validation(component, operation, fmt.Sprintf("%d sample types but %d units", len(sampleTypes), len(units)))
	}
	if len(sampleTypes) == 0 {
		return nil, faults.Validation(component, operation, "at least one component sample type is required")
	}

	params := &CorrelationParams{
		Type:        correlationType,
		SampleTypes: make([]string, len(sampleTypes)),
		Units:       make([]string, len(units)),
		Start:       start.UTC(),
	}
	for i := range sampleTypes {
		sampleType := strings.TrimSpace(sampleTypes[i])
		unit := strings.TrimSpace(units[i])
		if err := validateSample(operation, sampleType, unit); err != nil {
			return nil, err
		}
		if slices.Contains(params.SampleTypes[:i], sampleType) {
			return nil, faults.Validation(component, operation, fmt.Sprintf("duplicate sample type %q", sampleType))
		}
		params.SampleTypes[i] = sampleType
		params.Units[i] = unit
	}

	return &Collector{
		id:          string(KindCorrelation) + "/" + correlationType,
		kind:        KindCorrelation,
		correlation: params,
	}, nil
}

// NewActivity builds the motion activity collector.
func NewActivity(start time.Time) *Collector {
	return &Collector{
		id:       string(KindActivity),
		kind:     KindActivity,
		activity: &ActivityParams{Start: start.UTC()},
	}
}

func validateSample(operation, sampleType, unit string) error {
	switch {
	case strings.HasPrefix(sampleType, quantityPrefix) && len(sampleType) > len(quantityPrefix):
	case strings.HasPrefix(sampleType, categoryPrefix) && len(sampleType) > len(categoryPrefix):
	default:
		return faults.Validation(component, operation, fmt.Sprintf("unsupported sample type %q", sampleType))
	}
	if unit == "" {
		return faults.Validation(component, operation, "unit is required for "+sampleType)
	}
	if !KnownUnit(unit) {
		return faults.Validation(component, operation, fmt.Sprintf("unknown unit %q", unit))
	}
	return nil
}

// Identifier returns the collector's identity within its manager.
func (c *Collector) Identifier() string { return c.id }

// Kind returns the collector variant.
func (c *Collector) Kind() Kind { return c.kind }

// Cursor returns the resumption point.
func (c *Collector) Cursor() Cursor { return c.cursor }

// Sample returns the sample parameters, or nil for other variants.
func (c *Collector) Sample() *SampleParams {
	if c.sample == nil {
		return nil
	}
	params := *c.sample
	return &params
}

// Correlation returns the correlation parameters, or nil for other variants.
func (c *Collector) Correlation() *CorrelationParams {
	if c.correlation == nil {
		return nil
	}
	params := *c.correlation
	params.SampleTypes = slices.Clone(c.correlation.SampleTypes)
	params.Units = slices.Clone(c.correlation.Units)
	return &params
}

// Activity returns the activity parameters, or nil for other variants.
func (c *Collector) Activity() *ActivityParams {
	if c.activity == nil {
		return nil
	}
	params := *c.activity
	return &params
}

// StartDate returns the earliest date the collector reads.
func (c *Collector) StartDate() time.Time {
	return c.Query().Start()
}

// Query builds the request passed to the source.
func (c *Collector) Query() Query {
	return Query{
		Collector:   c.id,
		Kind:        c.kind,
		Sample:      c.Sample(),
		Correlation: c.Correlation(),
		Activity:    c.Activity(),
	}
}

// WithCursor returns a copy of c positioned at cursor.
func (c *Collector) WithCursor(cursor Cursor) *Collector {
	clone := *c
	clone.cursor = cursor
	return &clone
}

// Advance computes the cursor that follows a fetch. Anchored variants take the
// source's anchor when one is given. The activity variant takes the source's
// timestamp, or else the latest start date among objects; it never moves back.
// The activity cursor is exclusive: an activity that reaches the source later
// with a start equal to the cursor timestamp is not fetched.
func (c *Collector) Advance(fetched Cursor, objects []Object) Cursor {
	switch c.kind {
	case KindActivity:
		next := c.cursor
		latest := fetched.Timestamp
		if latest.IsZero() {
			for _, obj := range objects {
				if start := obj.StartDate(); start.After(latest) {
					latest = start
				}
			}
		}
		if latest.After(next.Timestamp) {
			next.Timestamp = latest.UTC()
		}
		return next
	default:
		if fetched.Anchor == "" {
			return c.cursor
		}
		return Cursor{Anchor: fetched.Anchor}
	}
}

// Encode returns the variant parameters as JSON for persistence.
func (c *Collector) Encode() ([]byte, error) {
	var params any
	switch c.kind {
	case KindSample:
		params = c.sample
	case KindCorrelation:
		params = c.correlation
	case KindActivity:
		params = c.activity
	default:
		return nil, faults.Validation(component, "encode", "unknown collector kind "+string(c.kind))
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode collector params: %w", err)
	}
	return data, nil
}

// Decode rebuilds a collector from persisted parameters and cursor. The same
// validation as the constructors applies.
func Decode(kind Kind, params []byte, cursor Cursor) (*Collector, error) {
	var (
		c   *Collector
		err error
	)
	switch kind {
	case KindSample:
		var p SampleParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, faults.Wrap(faults.ErrValidation, component, "decode", "sample params", err)
		}
		c, err = NewSample(p.Type, p.Unit, p.Start)
	case KindCorrelation:
		var p CorrelationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, faults.Wrap(faults.ErrValidation, component, "decode", "correlation params", err)
		}
		c, err = NewCorrelation(p.Type, p.SampleTypes, p.Units, p.Start)
	case KindActivity:
		var p ActivityParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, faults.Wrap(faults.ErrValidation, component, "decode", "activity params", err)
		}
		c = NewActivity(p.Start)
	default:
		return nil, faults.Validation(component, "decode", "unknown collector kind "+string(kind))
	}
	if err != nil {
		return nil, err
	}
	c.cursor = cursor
	return c, nil
}
