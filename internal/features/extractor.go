// Package features turns audit events into schema-tagged feature vectors.
// The same code runs at training and at serving time.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"auditrisk/internal/schema"
	"auditrisk/pkg/models"
)

var (
	// ErrSchemaMismatch is returned when an event cannot be laid out in the
	// requested schema.
	ErrSchemaMismatch = schema.ErrMismatch
	// ErrExtraction is returned when an inbound record is structurally
	// unparseable.
	ErrExtraction = errors.New("extraction error")
)

// Extractor maps events to vectors. Location fixes the timezone that
// hour_of_day and is_workday are read in; nil means time.Local.
type Extractor struct {
	Location *time.Location
}

// NewExtractor returns an extractor for the given IANA timezone name.
// An empty name selects the process local zone.
func NewExtractor(tz string) (*Extractor, error) {
	if tz == "" || tz == "Local" {
		return &Extractor{Location: time.Local}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Extractor{Location: loc}, nil
}

// Extract lays an event out in the requested schema.
func (x *Extractor) Extract(ev *models.AuditEvent, v schema.Version) (schema.Vector, error) {
	s, err := schema.Lookup(v)
	if err != nil {
		return schema.Vector{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if ev == nil || ev.Timestamp.IsZero() {
		return schema.Vector{}, fmt.Errorf("%w: timestamp is required", ErrSchemaMismatch)
	}

	values := make([]float64, s.Len())
	for i, f := range s.Fields() {
		values[i] = x.value(ev, f.Name)
	}
	return schema.Vector{Version: v, Values: values}, nil
}

// Matrix extracts every event into one row-major matrix.
func (x *Extractor) Matrix(events []models.AuditEvent, v schema.Version) ([][]float64, error) {
	out := make([][]float64, 0, len(events))
	for i := range events {
		vec, err := x.Extract(&events[i], v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, vec.Values)
	}
	return out, nil
}

func (x *Extractor) value(ev *models.AuditEvent, name string) float64 {
	switch name {
	case schema.HourOfDay:
		return float64(x.local(ev.Timestamp).Hour())
	case schema.IsWorkday:
		return IsWorkday(x.local(ev.Timestamp))
	case schema.LogRowCount:
		return LogMagnitude(float64(ev.RowCount))
	case schema.LogAffectedRows:
		return LogMagnitude(float64(ev.AffectedRows))
	case schema.LogExecTime:
		return LogMagnitude(ev.ExecTimeMs)
	case schema.SQLLength:
		return float64(ev.SQLLength)
	case schema.NumTables:
		return float64(ev.NumTables)
	case schema.NumJoins, schema.JoinCount:
		return float64(ev.JoinCount)
	case schema.Freq1Min:
		return float64(ev.Freq1Min)
	case schema.SQLTypeWeight:
		return float64(ev.SQLTypeWeight)
	case schema.ConditionCount:
		return float64(ev.ConditionCount)
	case schema.NestedLevel:
		return float64(ev.NestedLevel)
	case schema.HasAlwaysTrue:
		return boolValue(ev.HasAlwaysTrue)
	case schema.ClientAppRisk:
		return boolValue(ev.ClientAppRisk)
	case schema.ErrorCodeRisk:
		return boolValue(ev.ErrorCodeRisk)
	default:
		return 0
	}
}

func (x *Extractor) local(ts time.Time) time.Time {
	loc := x.Location
	if loc == nil {
		loc = time.Local
	}
	return ts.In(loc)
}

// LogMagnitude is ln(1+x) with negative inputs clamped to zero.
func LogMagnitude(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Log1p(v)
}

// IsWorkday returns 1 for Monday through Friday.
func IsWorkday(t time.Time) float64 {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return 0
	default:
		return 1
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
