// Package model wraps a fitted outlier detector with the standardization it
// was trained behind, persists the pair as one artifact, and serves it to
// scoring code through a read-only process handle.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"auditrisk/internal/schema"
)

// ErrModelUnavailable is returned when no artifact is loaded.
var ErrModelUnavailable = errors.New("model unavailable")

// Detector is an unsupervised outlier scorer over standardized vectors.
// Decision is positive for normal points and negative for outliers; Predict
// returns -1 exactly when Decision is negative.
type Detector interface {
	Fit(data [][]float64) error
	Decision(x []float64) float64
	Predict(x []float64) int
}

// Pipeline is a detector bound to its scaler and feature layout.
type Pipeline struct {
	Version   schema.Version
	Scaler    *Scaler
	Detector  Detector
	RunID     string
	CreatedAt time.Time
}

// Fit standardizes the matrix, fits the detector on it and returns the
// standardized copy.
func (p *Pipeline) Fit(data [][]float64) ([][]float64, error) {
	s, err := schema.Lookup(p.Version)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && len(data[0]) != s.Len() {
		return nil, fmt.Errorf("matrix has %d columns, schema %s has %d", len(data[0]), p.Version, s.Len())
	}
	p.Scaler = &Scaler{}
	if err := p.Scaler.Fit(data); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled := p.Scaler.TransformMatrix(data)
	if err := p.Detector.Fit(scaled); err != nil {
		return nil, fmt.Errorf("fit detector: %w", err)
	}
	return scaled, nil
}

// Decision scores one raw (unscaled) vector.
func (p *Pipeline) Decision(vec schema.Vector) (float64, error) {
	if err := p.check(vec); err != nil {
		return 0, err
	}
	d := p.Detector.Decision(p.Scaler.Transform(vec.Values))
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("detector returned non-finite score %v", d)
	}
	return d, nil
}

// PredictMatrix labels every raw row +1/-1.
func (p *Pipeline) PredictMatrix(data [][]float64) ([]int, error) {
	if p.Scaler == nil || p.Detector == nil {
		return nil, ErrModelUnavailable
	}
	out := make([]int, len(data))
	for i, row := range data {
		if len(row) != len(p.Scaler.Mean) {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), len(p.Scaler.Mean))
		}
		out[i] = p.Detector.Predict(p.Scaler.Transform(row))
	}
	return out, nil
}

func (p *Pipeline) check(vec schema.Vector) error {
	if p == nil || p.Scaler == nil || p.Detector == nil {
		return ErrModelUnavailable
	}
	if vec.Version != p.Version {
		return fmt.Errorf("%w: vector schema %s does not match model schema %s", schema.ErrMismatch, vec.Version, p.Version)
	}
	if len(vec.Values) != len(p.Scaler.Mean) {
		return fmt.Errorf("%w: vector has %d features, model expects %d", schema.ErrMismatch, len(vec.Values), len(p.Scaler.Mean))
	}
	return nil
}
