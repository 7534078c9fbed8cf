// Package corpus assembles the labeled training events: a synthetic
// workload with injected attack scenarios, optionally merged with
// operator-approved traffic read back from the audit log.
package corpus

import (
	"math"
	"math/rand"
	"time"

	"auditrisk/pkg/models"
)

// Scenario names an injected attack pattern.
type Scenario int

const (
	BooleanInjection Scenario = iota
	DataExfiltration
	DestructiveOperation
	SlowQueryDoS
	BruteForceScan

	scenarioCount
)

func (s Scenario) String() string {
	switch s {
	case BooleanInjection:
		return "boolean_injection"
	case DataExfiltration:
		return "data_exfiltration"
	case DestructiveOperation:
		return "destructive_operation"
	case SlowQueryDoS:
		return "slow_query_dos"
	case BruteForceScan:
		return "brute_force_scan"
	default:
		return "unknown"
	}
}

// Synthesizer draws the synthetic part of the corpus. Output depends only
// on the fields, so a fixed Seed and Now reproduce it exactly.
type Synthesizer struct {
	Samples         int
	AnomalyFraction float64
	Seed            int64
	Now             time.Time
	Location        *time.Location
}

// Shares returns the number of normal rows and the anomaly rows per
// scenario. Anomalies split evenly; the remainder goes to the first
// scenarios so the total is exactly Samples.
func (s Synthesizer) Shares() (int, [scenarioCount]int) {
	var per [scenarioCount]int
	if s.Samples <= 0 {
		return 0, per
	}
	f := math.Min(math.Max(s.AnomalyFraction, 0), 1)
	anomalies := int(math.Round(float64(s.Samples) * f))
	base, rem := anomalies/int(scenarioCount), anomalies%int(scenarioCount)
	for i := range per {
		per[i] = base
		if i < rem {
			per[i]++
		}
	}
	return s.Samples - anomalies, per
}

// Generate returns the normal rows followed by each scenario in order.
func (s Synthesizer) Generate() []models.AuditEvent {
	rng := rand.New(rand.NewSource(s.Seed))
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	if s.Location != nil {
		now = now.In(s.Location)
	}

	normal, per := s.Shares()
	out := make([]models.AuditEvent, 0, s.Samples)
	for i := 0; i < normal; i++ {
		out = append(out, normalEvent(rng, now))
	}
	for sc := Scenario(0); sc < scenarioCount; sc++ {
		for i := 0; i < per[sc]; i++ {
			out = append(out, anomalyEvent(rng, sc, now))
		}
	}
	return out
}

func normalEvent(rng *rand.Rand, now time.Time) models.AuditEvent {
	hour := int(math.Min(math.Max(14+3*rng.NormFloat64(), 0), 23))
	day := now.AddDate(0, 0, -rng.Intn(8))
	ts := time.Date(day.Year(), day.Month(), day.Day(), hour, rng.Intn(60), day.Second(), 0, now.Location())

	ev := models.AuditEvent{
		Timestamp:      ts,
		RowCount:       int64(logNormal(rng, 2, 1.2)),
		ExecTimeMs:     math.Floor(logNormal(rng, 3, 1.0)),
		SQLTypeWeight:  models.WeightRead,
		Freq1Min:       int64(poisson(rng, 5)),
		ConditionCount: poisson(rng, 1),
		JoinCount:      joinCount(rng),
		Label:          models.LabelNormal,
	}
	if rng.Float64() < 0.1 {
		ev.SQLTypeWeight = models.WeightWrite
		ev.AffectedRows = int64(logNormal(rng, 0.5, 0.8))
	}
	return ev
}

func anomalyEvent(rng *rand.Rand, sc Scenario, now time.Time) models.AuditEvent {
	ev := models.AuditEvent{
		Timestamp:     now,
		SQLTypeWeight: models.WeightRead,
		Label:         models.LabelAnomalous,
	}
	switch sc {
	case BooleanInjection:
		ev.RowCount = int64(uniform(rng, 0, 100))
		ev.ExecTimeMs = float64(uniform(rng, 10, 200))
		ev.Freq1Min = int64(uniform(rng, 10, 50))
		ev.ConditionCount = uniform(rng, 5, 10)
		ev.HasAlwaysTrue = true
		ev.ClientAppRisk = true
		ev.ErrorCodeRisk = rng.Intn(2) == 1
	case DataExfiltration:
		ev.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), 3, now.Minute(), now.Second(), 0, now.Location())
		ev.RowCount = int64(uniform(rng, 50000, 999999))
		ev.ExecTimeMs = float64(uniform(rng, 5000, 59999))
		ev.Freq1Min = int64(uniform(rng, 1, 5))
		ev.ConditionCount = 1
	case DestructiveOperation:
		ev.AffectedRows = int64(uniform(rng, 1000, 49999))
		ev.ExecTimeMs = float64(uniform(rng, 1000, 9999))
		ev.SQLTypeWeight = models.WeightDestructive
		ev.Freq1Min = int64(uniform(rng, 1, 5))
		ev.ConditionCount = 1
	case SlowQueryDoS:
		ev.RowCount = 100
		ev.ExecTimeMs = float64(uniform(rng, 30000, 99999))
		ev.Freq1Min = int64(uniform(rng, 1, 5))
		ev.ConditionCount = uniform(rng, 5, 20)
		ev.JoinCount = uniform(rng, 5, 10)
		ev.NestedLevel = uniform(rng, 2, 5)
	case BruteForceScan:
		ev.ExecTimeMs = float64(uniform(rng, 1, 10))
		ev.Freq1Min = int64(uniform(rng, 100, 499))
		ev.ClientAppRisk = true
		ev.ErrorCodeRisk = true
	}
	return ev
}

// uniform draws an integer in [lo, hi].
func uniform(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

func logNormal(rng *rand.Rand, mu, sigma float64) float64 {
	return math.Exp(mu + sigma*rng.NormFloat64())
}

// poisson uses Knuth's multiplication method; the rates drawn here are small.
func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

func joinCount(rng *rand.Rand) int {
	switch u := rng.Float64(); {
	case u < 0.7:
		return 0
	case u < 0.95:
		return 1
	default:
		return 2
	}
}

// Shuffle permutes events in place with a seeded Fisher-Yates pass.
func Shuffle(events []models.AuditEvent, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := len(events) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		events[i], events[j] = events[j], events[i]
	}
}
