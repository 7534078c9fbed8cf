// Package explain derives per-feature normal envelopes from a fitted model
// and uses them to say which features pushed an event out of bounds.
package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"auditrisk/internal/fileutil"
	"auditrisk/internal/model"
	"auditrisk/internal/schema"
	"auditrisk/internal/stats"
	"auditrisk/pkg/models"
)

// ErrNoNormalSamples is returned when the model labels every training row
// anomalous, leaving nothing to learn an envelope from.
var ErrNoNormalSamples = errors.New("no rows predicted normal")

const (
	lowerQuantile = 0.001
	upperQuantile = 0.999

	// MaxDeduction caps the summed deduction of one event.
	MaxDeduction = 100
)

// RuleSet is the full set of envelopes learned in one training run.
type RuleSet struct {
	SchemaVersion schema.Version                    `json:"schema_version"`
	RunID         string                            `json:"run_id,omitempty"`
	CreatedAt     time.Time                         `json:"created_at"`
	Rules         map[string]models.ExplanationRule `json:"rules"`
}

// Generate computes the envelope of every feature over the rows of data
// the pipeline predicts normal. data holds raw (unscaled) rows laid out in
// version.
func Generate(p *model.Pipeline, data [][]float64, version schema.Version) (*RuleSet, error) {
	s, err := schema.Lookup(version)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.ErrModelUnavailable
	}
	if p.Version != version {
		return nil, fmt.Errorf("%w: model schema %s, rules requested for %s", schema.ErrMismatch, p.Version, version)
	}
	labels, err := p.PredictMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("predict training rows: %w", err)
	}

	normal := make([][]float64, 0, len(data))
	for i, l := range labels {
		if l == 1 {
			normal = append(normal, data[i])
		}
	}
	if len(normal) == 0 {
		return nil, ErrNoNormalSamples
	}

	rules := make(map[string]models.ExplanationRule, s.Len())
	for j, name := range s.Names() {
		col := stats.Column(normal, j)
		sort.Float64s(col)
		upper := stats.QuantileSorted(col, upperQuantile)
		if flagFeatures[name] {
			upper = flagUpperBound
		}
		pol := PolicyFor(name)
		rules[name] = models.ExplanationRule{
			Description: pol.Description,
			LowerBound:  stats.QuantileSorted(col, lowerQuantile),
			UpperBound:  upper,
			Deduction:   pol.Deduction,
			IsCritical:  pol.Critical,
		}
	}
	return &RuleSet{
		SchemaVersion: version,
		RunID:         p.RunID,
		CreatedAt:     p.CreatedAt,
		Rules:         rules,
	}, nil
}

// Evaluate lists the rules vec breaches in schema order and the summed
// deduction, capped at MaxDeduction.
func (rs *RuleSet) Evaluate(vec schema.Vector) ([]models.Violation, int, error) {
	if vec.Version != rs.SchemaVersion {
		return nil, 0, fmt.Errorf("%w: vector schema %s, rules schema %s", schema.ErrMismatch, vec.Version, rs.SchemaVersion)
	}
	s, err := schema.Lookup(vec.Version)
	if err != nil {
		return nil, 0, err
	}
	if len(vec.Values) != s.Len() {
		return nil, 0, fmt.Errorf("%w: vector has %d features, schema has %d", schema.ErrMismatch, len(vec.Values), s.Len())
	}

	var out []models.Violation
	total := 0
	for j, name := range s.Names() {
		rule, ok := rs.Rules[name]
		if !ok {
			continue
		}
		v := vec.Values[j]
		if v <= rule.UpperBound && v >= rule.LowerBound {
			continue
		}
		out = append(out, models.Violation{
			Feature:     name,
			Description: rule.Description,
			Value:       v,
			Deduction:   rule.Deduction,
			IsCritical:  rule.IsCritical,
		})
		total += rule.Deduction
	}
	if total > MaxDeduction {
		total = MaxDeduction
	}
	return out, total, nil
}

// Encode writes the rule set as indented JSON.
func (rs *RuleSet) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}

// SaveRuleSet writes the rule set to path atomically.
func SaveRuleSet(path string, rs *RuleSet) error {
	return fileutil.WriteAtomic(path, rs.Encode)
}

// DecodeRuleSet reads a rule set. A bare feature-keyed mapping without the
// envelope is accepted and tagged with fallback.
func DecodeRuleSet(r io.Reader, fallback schema.Version) (*RuleSet, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rs RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if rs.Rules == nil {
		var bare map[string]models.ExplanationRule
		if err := json.Unmarshal(raw, &bare); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		rs = RuleSet{SchemaVersion: fallback, Rules: bare}
	}
	if _, err := schema.Lookup(rs.SchemaVersion); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadRuleSet reads path and rejects rules built for another schema.
func LoadRuleSet(path string, expected schema.Version) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	rs, err := DecodeRuleSet(f, expected)
	if err != nil {
		return nil, err
	}
	if rs.SchemaVersion != expected {
		return nil, fmt.Errorf("%w: rules built for %s, expected %s", schema.ErrMismatch, rs.SchemaVersion, expected)
	}
	return rs, nil
}
