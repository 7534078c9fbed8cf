package model

import (
	"fmt"
	"math"
)

// Scaler standardizes features to zero mean and unit variance with
// parameters frozen at fit time. Constant columns keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column mean and population standard deviation.
func (s *Scaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("empty matrix")
	}
	cols := len(data[0])
	mean := make([]float64, cols)
	for i, row := range data {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), cols)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, cols)
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 || math.IsNaN(scale[j]) {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

// Transform returns a standardized copy of x.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformMatrix standardizes every row.
func (s *Scaler) TransformMatrix(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.Transform(row)
	}
	return out
}
