// Package risk maps raw outlier scores onto the bounded 0-100 risk scale.
package risk

import "math"

const (
	// Scale converts one unit of negative decision score into risk points.
	Scale = 50.0
	// Max is the saturation point of the scale.
	Max = 100.0
)

// Result is the normalized outcome of one decision score.
type Result struct {
	RawScore  float64 `json:"raw_score"`
	Risk      float64 `json:"normalized_risk_score"`
	IsAnomaly bool    `json:"is_anomaly"`
}

// Normalize applies the affine-then-clamp transform. A score of exactly zero
// is on the normal side: risk 0, not anomalous.
func Normalize(raw float64) Result {
	r := 0.0
	if raw <= 0 {
		r = math.Min(math.Abs(raw)*Scale, Max)
	}
	return Result{RawScore: raw, Risk: r, IsAnomaly: raw < 0}
}
