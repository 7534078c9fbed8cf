package iforest

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
)

func gaussianBlob(n, dims int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, dims)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		out[i] = row
	}
	return out
}

func TestForestSeparatesBlatantOutlier(t *testing.T) {
	data := gaussianBlob(2000, 4, 1)
	f := New(WithTrees(100), WithSeed(7), WithContamination(0.05))
	if err := f.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	outlier := []float64{9, -9, 9, -9}
	center := []float64{0, 0, 0, 0}
	if d := f.Decision(outlier); d >= 0 {
		t.Fatalf("expected negative decision for outlier, got %v", d)
	}
	if f.Predict(outlier) != -1 {
		t.Fatalf("expected outlier prediction")
	}
	if d := f.Decision(center); d <= 0 {
		t.Fatalf("expected positive decision at the centre, got %v", d)
	}
	if f.Predict(center) != 1 {
		t.Fatalf("expected inlier prediction")
	}
}

func TestForestContaminationSetsBoundary(t *testing.T) {
	data := gaussianBlob(4000, 3, 2)
	f := New(WithTrees(50), WithSeed(3), WithContamination(0.1))
	if err := f.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	outliers := 0
	for _, row := range data {
		if f.Predict(row) == -1 {
			outliers++
		}
	}
	share := float64(outliers) / float64(len(data))
	if math.Abs(share-0.1) > 0.01 {
		t.Fatalf("expected ~10%% training outliers, got %.3f", share)
	}
}

func TestForestIsDeterministicAcrossWorkers(t *testing.T) {
	data := gaussianBlob(1000, 3, 4)
	a := New(WithTrees(40), WithSeed(11), WithWorkers(1))
	b := New(WithTrees(40), WithSeed(11), WithWorkers(8))
	if err := a.Fit(data); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(data); err != nil {
		t.Fatal(err)
	}
	if a.Offset != b.Offset {
		t.Fatalf("offsets differ: %v vs %v", a.Offset, b.Offset)
	}
	probe := []float64{1.5, -0.3, 2.2}
	if a.Decision(probe) != b.Decision(probe) {
		t.Fatalf("decisions differ between worker counts")
	}
}

func TestForestSurvivesJSONRoundTrip(t *testing.T) {
	data := gaussianBlob(500, 2, 5)
	f := New(WithTrees(20), WithSeed(1))
	if err := f.Fit(data); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var back Forest
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	for _, row := range data[:50] {
		if back.Decision(row) != f.Decision(row) {
			t.Fatalf("decision changed after round trip")
		}
	}
}

func TestForestRejectsBadInput(t *testing.T) {
	if err := New().Fit(nil); err == nil {
		t.Fatalf("expected error on empty matrix")
	}
	if err := New().Fit([][]float64{{1, 2}, {3}}); err == nil {
		t.Fatalf("expected error on ragged matrix")
	}
	if err := New(WithContamination(0.9)).Fit([][]float64{{1}, {2}}); err == nil {
		t.Fatalf("expected error on contamination above 0.5")
	}
	if _, err := New().ScoreSamples([][]float64{{1}}); err != ErrNotFitted {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestAveragePathLength(t *testing.T) {
	if AveragePathLength(1) != 0 || AveragePathLength(2) != 1 {
		t.Fatalf("unexpected small-n path lengths")
	}
	// c(256) is roughly 10.24.
	if got := AveragePathLength(256); math.Abs(got-10.2448) > 0.001 {
		t.Fatalf("unexpected c(256): %v", got)
	}
}
