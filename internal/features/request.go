package features

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"auditrisk/pkg/models"
)

// DecodeRequest reads one JSON scoring request.
func DecodeRequest(r io.Reader) (models.ScoreRequest, error) {
	var req models.ScoreRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: decode request: %v", ErrExtraction, err)
	}
	return req, nil
}

// EventFromRequest converts an inbound request into an audit event. Absent
// fields keep their zero value. The returned flag reports whether the caller
// supplied freq_1min.
func EventFromRequest(req models.ScoreRequest) (models.AuditEvent, bool, error) {
	if req.Timestamp <= 0 {
		return models.AuditEvent{}, false, fmt.Errorf("%w: timestamp is required", ErrSchemaMismatch)
	}
	ev := models.AuditEvent{
		Timestamp:      time.UnixMilli(req.Timestamp),
		Actor:          req.Actor,
		RowCount:       toInt(req.RowCount),
		AffectedRows:   toInt(req.AffectedRows),
		ExecTimeMs:     nonNegative(req.ExecTime),
		SQLTypeWeight:  int(toInt(req.SQLTypeWeight)),
		SQLLength:      int(toInt(req.SQLLength)),
		NumTables:      int(toInt(req.NumTables)),
		ConditionCount: int(toInt(req.ConditionCount)),
		JoinCount:      int(toInt(joins(req))),
		NestedLevel:    int(toInt(req.NestedLevel)),
		HasAlwaysTrue:  bool(req.HasAlwaysTrue),
		ClientAppRisk:  bool(req.ClientAppRisk),
		ErrorCodeRisk:  bool(req.ErrorCodeRisk),
	}
	if req.Freq1Min != nil {
		ev.Freq1Min = toInt(*req.Freq1Min)
		return ev, true, nil
	}
	return ev, false, nil
}

// joins accepts either the v1 or the v2 spelling of the join count.
func joins(req models.ScoreRequest) float64 {
	if req.JoinCount != 0 {
		return req.JoinCount
	}
	return req.NumJoins
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// toInt saturates at math.MaxInt64; converting a larger float is undefined.
func toInt(v float64) int64 {
	v = nonNegative(v)
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
