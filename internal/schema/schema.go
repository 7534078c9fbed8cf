// Package schema defines the versioned feature-vector layouts a model can be
// fit against. A published layout is frozen: the index of a field never
// changes once an artifact has been trained on it.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMismatch is returned when a vector, event or artifact does not fit the
// layout it is used with.
var ErrMismatch = errors.New("schema mismatch")

// Version tags a feature layout.
type Version string

const (
	// V1 is the 8-field layout whose structural counts come from raw SQL
	// length and table counts.
	V1 Version = "v1-8field"
	// V2 is the 13-field layout with AST counts and environment flags.
	V2 Version = "v2-13field-ast"

	// Default is the layout new training runs target.
	Default = V2
)

// Feature names.
const (
	HourOfDay       = "hour_of_day"
	IsWorkday       = "is_workday"
	LogRowCount     = "log_row_count"
	LogAffectedRows = "log_affected_rows"
	LogExecTime     = "log_exec_time"
	SQLLength       = "sql_length"
	NumTables       = "num_tables"
	NumJoins        = "num_joins"
	Freq1Min        = "freq_1min"
	SQLTypeWeight   = "sql_type_weight"
	ConditionCount  = "condition_count"
	JoinCount       = "join_count"
	NestedLevel     = "nested_level"
	HasAlwaysTrue   = "has_always_true"
	ClientAppRisk   = "client_app_risk"
	ErrorCodeRisk   = "error_code_risk"
)

// Kind describes the value domain of a feature.
type Kind int

const (
	Numeric Kind = iota
	Binary
)

// Field is one slot of a layout.
type Field struct {
	Name string
	Kind Kind
}

// Schema is an ordered, immutable list of fields.
type Schema struct {
	version Version
	fields  []Field
	index   map[string]int
}

var (
	v1 = newSchema(V1, []Field{
		{HourOfDay, Numeric},
		{IsWorkday, Binary},
		{LogRowCount, Numeric},
		{LogExecTime, Numeric},
		{SQLLength, Numeric},
		{NumTables, Numeric},
		{NumJoins, Numeric},
		{Freq1Min, Numeric},
	})
	v2 = newSchema(V2, []Field{
		{HourOfDay, Numeric},
		{IsWorkday, Binary},
		{LogRowCount, Numeric},
		{LogAffectedRows, Numeric},
		{LogExecTime, Numeric},
		{Freq1Min, Numeric},
		{SQLTypeWeight, Numeric},
		{ConditionCount, Numeric},
		{JoinCount, Numeric},
		{NestedLevel, Numeric},
		{HasAlwaysTrue, Binary},
		{ClientAppRisk, Binary},
		{ErrorCodeRisk, Binary},
	})
)

func newSchema(v Version, fields []Field) *Schema {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Name] = i
	}
	return &Schema{version: v, fields: fields, index: idx}
}

// Lookup returns the layout for a version.
func Lookup(v Version) (*Schema, error) {
	switch v {
	case V1:
		return v1, nil
	case V2:
		return v2, nil
	default:
		return nil, fmt.Errorf("unknown schema version %q", v)
	}
}

// MustLookup is Lookup for versions known at compile time.
func MustLookup(v Version) *Schema {
	s, err := Lookup(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse accepts a version string from configuration.
func Parse(raw string) (Version, error) {
	v := Version(strings.TrimSpace(strings.ToLower(raw)))
	if v == "" {
		return Default, nil
	}
	if _, err := Lookup(v); err != nil {
		return "", err
	}
	return v, nil
}

// Version returns the layout tag.
func (s *Schema) Version() Version { return s.version }

// Len returns the vector length.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the ordered fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the ordered field names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of a named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// IsBinary reports whether the named field only takes the values 0 and 1.
func (s *Schema) IsBinary(name string) bool {
	i, ok := s.index[name]
	return ok && s.fields[i].Kind == Binary
}

// CheckNames verifies that a persisted field list matches this layout exactly.
func (s *Schema) CheckNames(names []string) error {
	if len(names) != len(s.fields) {
		return fmt.Errorf("%w: schema %s expects %d fields, artifact has %d", ErrMismatch, s.version, len(s.fields), len(names))
	}
	for i, f := range s.fields {
		if names[i] != f.Name {
			return fmt.Errorf("%w: schema %s field %d is %q, artifact has %q", ErrMismatch, s.version, i, f.Name, names[i])
		}
	}
	return nil
}

// Vector is a feature vector tagged with the layout that produced it.
type Vector struct {
	Version Version
	Values  []float64
}
