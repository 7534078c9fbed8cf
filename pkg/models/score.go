package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ScoreRequest is the inbound scoring payload. Timestamp is epoch milliseconds;
// every other field is optional and defaults to zero.
type ScoreRequest struct {
	Timestamp    int64   `json:"timestamp"`
	Actor        string  `json:"actor,omitempty"`
	RowCount     float64 `json:"row_count"`
	AffectedRows float64 `json:"affected_rows"`
	ExecTime     float64 `json:"exec_time"`
	SQLLength    float64 `json:"sql_length"`
	NumTables    float64 `json:"num_tables"`
	NumJoins     float64 `json:"num_joins"`
	JoinCount    float64 `json:"join_count"`
	// Nil means the caller did not measure it; the service may fill it from
	// its own window counter.
	Freq1Min *float64 `json:"freq_1min,omitempty"`

	SQLTypeWeight  float64 `json:"sql_type_weight"`
	ConditionCount float64 `json:"condition_count"`
	NestedLevel    float64 `json:"nested_level"`
	HasAlwaysTrue  Flag    `json:"has_always_true"`
	ClientAppRisk  Flag    `json:"client_app_risk"`
	ErrorCodeRisk  Flag    `json:"error_code_risk"`
}

// Flag is a 0/1 indicator. Producers send it either as a JSON bool or as a
// number; any nonzero number sets it.
type Flag bool

// UnmarshalJSON accepts true, false, null or a number.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null":
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag must be a bool or a number, got %s", data)
	}
	*f = n != 0
	return nil
}

// ScoreResponse is the outbound scoring payload.
type ScoreResponse struct {
	Status              string      `json:"status"`
	IsAnomaly           bool        `json:"is_anomaly"`
	RawScore            float64     `json:"raw_score"`
	NormalizedRiskScore float64     `json:"normalized_risk_score"`
	Violations          []Violation `json:"violations,omitempty"`
	Message             string      `json:"message,omitempty"`
}

// Violation names a feature that fell outside its learned envelope.
type Violation struct {
	Feature     string  `json:"feature"`
	Description string  `json:"desc"`
	Value       float64 `json:"value"`
	Deduction   int     `json:"deduction"`
	IsCritical  bool    `json:"is_critical"`
}

// ScoreRecord is an anomalous result handed to score sinks.
type ScoreRecord struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"ts"`
	Actor         string      `json:"actor,omitempty"`
	SchemaVersion string      `json:"schema_version"`
	ModelRunID    string      `json:"model_run_id,omitempty"`
	RawScore      float64     `json:"raw_score"`
	Risk          float64     `json:"normalized_risk_score"`
	IsAnomaly     bool        `json:"is_anomaly"`
	Violations    []Violation `json:"violations,omitempty"`
}
