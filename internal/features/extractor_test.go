package features

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"auditrisk/internal/schema"
	"auditrisk/pkg/models"
)

func utcExtractor() *Extractor {
	return &Extractor{Location: time.UTC}
}

func TestExtractLargeRowCountAtNight(t *testing.T) {
	// 2026-01-07 is a Wednesday.
	ts := time.Date(2026, 1, 7, 3, 0, 0, 0, time.UTC)
	ev := &models.AuditEvent{Timestamp: ts, RowCount: 500000}

	vec, err := utcExtractor().Extract(ev, schema.V1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	s := schema.MustLookup(schema.V1)
	get := func(name string) float64 {
		i, _ := s.Index(name)
		return vec.Values[i]
	}
	if get(schema.HourOfDay) != 3 {
		t.Fatalf("expected hour 3, got %v", get(schema.HourOfDay))
	}
	if get(schema.IsWorkday) != 1 {
		t.Fatalf("expected Wednesday to be a workday")
	}
	if got := get(schema.LogRowCount); math.Abs(got-13.122) > 0.001 || math.Abs(got-math.Log(500001)) > 1e-12 {
		t.Fatalf("expected ln(500001), got %v", got)
	}
	for _, name := range []string{schema.LogExecTime, schema.SQLLength, schema.NumTables, schema.NumJoins, schema.Freq1Min} {
		if get(name) != 0 {
			t.Fatalf("expected %s to default to 0, got %v", name, get(name))
		}
	}

	saturday := &models.AuditEvent{Timestamp: time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC), RowCount: 500000}
	vec, err = utcExtractor().Extract(saturday, schema.V1)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if vec.Values[1] != 0 {
		t.Fatalf("expected Saturday to be a non-workday")
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ev := &models.AuditEvent{
		Timestamp:      time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		RowCount:       12,
		AffectedRows:   3,
		ExecTimeMs:     41.5,
		SQLTypeWeight:  3,
		Freq1Min:       7,
		ConditionCount: 2,
		JoinCount:      1,
		HasAlwaysTrue:  true,
		ErrorCodeRisk:  true,
	}
	x := utcExtractor()
	a, err := x.Extract(ev, schema.V2)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := x.Extract(ev, schema.V2)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(a.Values) != 13 || a.Version != schema.V2 {
		t.Fatalf("unexpected vector %+v", a)
	}
	for i := range a.Values {
		if math.Float64bits(a.Values[i]) != math.Float64bits(b.Values[i]) {
			t.Fatalf("field %d differs between runs: %v vs %v", i, a.Values[i], b.Values[i])
		}
	}
	want := []float64{14, 1, math.Log(13), math.Log(4), math.Log(42.5), 7, 3, 2, 1, 0, 1, 0, 1}
	for i := range want {
		if math.Abs(a.Values[i]-want[i]) > 1e-12 {
			t.Fatalf("field %d expected %v, got %v", i, want[i], a.Values[i])
		}
	}
}

func TestLogMagnitude(t *testing.T) {
	if LogMagnitude(0) != 0 {
		t.Fatalf("log transform of 0 must be 0")
	}
	if LogMagnitude(-5) != 0 {
		t.Fatalf("negative magnitudes clamp to 0")
	}
	if math.Abs(LogMagnitude(math.E-1)-1) > 1e-12 {
		t.Fatalf("expected ln(e) == 1")
	}
}

func TestExtractRejectsMissingTimestampAndUnknownSchema(t *testing.T) {
	x := utcExtractor()
	if _, err := x.Extract(&models.AuditEvent{}, schema.V2); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for zero timestamp, got %v", err)
	}
	ev := &models.AuditEvent{Timestamp: time.Now()}
	if _, err := x.Extract(ev, schema.Version("v9")); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for unknown version, got %v", err)
	}
}

func TestExtractHonoursTimezone(t *testing.T) {
	x, err := NewExtractor("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	ev := &models.AuditEvent{Timestamp: time.Date(2026, 1, 7, 19, 0, 0, 0, time.UTC)}
	vec, err := x.Extract(ev, schema.V2)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if vec.Values[0] != 3 {
		t.Fatalf("expected 03:00 local hour, got %v", vec.Values[0])
	}
}

func TestDecodeRequestDefaults(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"timestamp": 1767754800000, "row_count": 500000}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	ev, hasFreq, err := EventFromRequest(req)
	if err != nil {
		t.Fatalf("EventFromRequest: %v", err)
	}
	if hasFreq {
		t.Fatalf("freq_1min was not supplied")
	}
	if ev.RowCount != 500000 || ev.ExecTimeMs != 0 || ev.Freq1Min != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.Timestamp.Equal(time.UnixMilli(1767754800000)) {
		t.Fatalf("timestamp not decoded as epoch millis: %v", ev.Timestamp)
	}
}

func TestDecodeRequestRejectsGarbage(t *testing.T) {
	if _, err := DecodeRequest(strings.NewReader(`{"timestamp": "yesterday"}`)); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	if _, _, err := EventFromRequest(models.ScoreRequest{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for missing timestamp, got %v", err)
	}
}

func TestDecodeRequestNumericFlags(t *testing.T) {
	// Upstream collectors serialize flags as floats and counts as decimals.
	payload := `{
		"timestamp": 1767754800000,
		"actor": "etl",
		"row_count": 1200.0,
		"exec_time": 35.5,
		"sql_type_weight": 2.0,
		"condition_count": 3.0,
		"join_count": 1.0,
		"nested_level": 0.0,
		"freq_1min": 4.0,
		"has_always_true": 1.0,
		"client_app_risk": 1,
		"error_code_risk": 0.0
	}`
	req, err := DecodeRequest(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	ev, hasFreq, err := EventFromRequest(req)
	if err != nil {
		t.Fatalf("EventFromRequest: %v", err)
	}
	if !hasFreq || ev.Freq1Min != 4 {
		t.Fatalf("freq_1min not decoded: %v %v", hasFreq, ev.Freq1Min)
	}
	if !ev.HasAlwaysTrue || !ev.ClientAppRisk || ev.ErrorCodeRisk {
		t.Fatalf("flags decoded as %v/%v/%v", ev.HasAlwaysTrue, ev.ClientAppRisk, ev.ErrorCodeRisk)
	}
	if ev.RowCount != 1200 || ev.SQLTypeWeight != 2 || ev.ConditionCount != 3 || ev.JoinCount != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}

	vec, err := utcExtractor().Extract(&ev, schema.V2)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	s := schema.MustLookup(schema.V2)
	for name, want := range map[string]float64{schema.HasAlwaysTrue: 1, schema.ClientAppRisk: 1, schema.ErrorCodeRisk: 0} {
		i, _ := s.Index(name)
		if vec.Values[i] != want {
			t.Errorf("%s = %v, want %v", name, vec.Values[i], want)
		}
	}
}

func TestDecodeRequestFlagForms(t *testing.T) {
	cases := map[string]bool{
		`true`: true, `false`: false, `1`: true, `0`: false,
		`1.0`: true, `0.0`: false, `2`: true, `null`: false,
	}
	for raw, want := range cases {
		req, err := DecodeRequest(strings.NewReader(`{"timestamp": 1, "has_always_true": ` + raw + `}`))
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if bool(req.HasAlwaysTrue) != want {
			t.Errorf("has_always_true %s decoded as %v", raw, req.HasAlwaysTrue)
		}
	}
	if _, err := DecodeRequest(strings.NewReader(`{"timestamp": 1, "client_app_risk": "yes"}`)); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction for a string flag, got %v", err)
	}
}

func TestEventFromRequestSaturatesHugeCounts(t *testing.T) {
	ev, _, err := EventFromRequest(models.ScoreRequest{Timestamp: 1767754800000, RowCount: 1e19, AffectedRows: math.Inf(1)})
	if err != nil {
		t.Fatalf("EventFromRequest: %v", err)
	}
	if ev.RowCount != math.MaxInt64 {
		t.Fatalf("row_count = %d, want MaxInt64", ev.RowCount)
	}
	if ev.AffectedRows != 0 {
		t.Fatalf("infinite affected_rows should clamp to 0, got %d", ev.AffectedRows)
	}
	if got := LogMagnitude(float64(ev.RowCount)); got < 43 {
		t.Fatalf("huge row count scored as %v", got)
	}
}
