package models

import "time"

// Label marks a training row as normal or anomalous.
type Label int

const (
	LabelNormal Label = iota
	LabelAnomalous
)

// SQL statement verb weights.
const (
	WeightRead        = 1
	WeightWrite       = 3
	WeightDestructive = 5
)

// AuditEvent is one observed query execution against a monitored database.
type AuditEvent struct {
	Timestamp     time.Time `json:"ts"`
	Actor         string    `json:"actor,omitempty"`
	RowCount      int64     `json:"row_count"`
	AffectedRows  int64     `json:"affected_rows"`
	ExecTimeMs    float64   `json:"exec_time"`
	SQLTypeWeight int       `json:"sql_type_weight"`
	Freq1Min      int64     `json:"freq_1min"`

	// Only the 8-field schema reads these.
	SQLLength int `json:"sql_length,omitempty"`
	NumTables int `json:"num_tables,omitempty"`

	ConditionCount int  `json:"condition_count"`
	JoinCount      int  `json:"join_count"`
	NestedLevel    int  `json:"nested_level"`
	HasAlwaysTrue  bool `json:"has_always_true"`

	ClientAppRisk bool `json:"client_app_risk"`
	ErrorCodeRisk bool `json:"error_code_risk"`

	Label Label `json:"label,omitempty"`
}
