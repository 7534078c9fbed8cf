// Package scoring is the serving path: one request in, one explained risk
// score out.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"auditrisk/internal/explain"
	"auditrisk/internal/features"
	"auditrisk/internal/frequency"
	"auditrisk/internal/logger"
	"auditrisk/internal/metrics"
	"auditrisk/internal/model"
	"auditrisk/internal/risk"
	"auditrisk/pkg/models"
)

const statusSuccess = "success"

var log = logger.Named("scoring")

// Recorder receives the records of anomalous results.
type Recorder interface {
	Accumulate(ctx context.Context, records []models.ScoreRecord) error
}

// Options wires the optional collaborators of a Service.
type Options struct {
	// Counter sees every request that names an actor and fills freq_1min
	// when the request omits it.
	Counter frequency.Counter
	// Rules explains anomalous results. Nil skips explanations.
	Rules *explain.RuleSet
	// Recorders are told about every anomalous result Score produces.
	Recorders []Recorder
}

// Service scores requests against the handle's snapshot. It keeps no
// mutable state of its own.
type Service struct {
	handle    *model.Handle
	extractor *features.Extractor
	counter   frequency.Counter
	rules     *explain.RuleSet
	recorders []Recorder
}

// NewService builds a scoring service.
func NewService(handle *model.Handle, extractor *features.Extractor, opts Options) *Service {
	if extractor == nil {
		extractor = &features.Extractor{}
	}
	return &Service{
		handle:    handle,
		extractor: extractor,
		counter:   opts.Counter,
		rules:     opts.Rules,
		recorders: opts.Recorders,
	}
}

// Ready reports whether a model snapshot is loaded.
func (s *Service) Ready() bool {
	return s.handle.Loaded()
}

// Result is a scored event and, when anomalous, the record sinks receive.
type Result struct {
	Response models.ScoreResponse
	Record   *models.ScoreRecord
}

// Evaluate scores one request without notifying recorders.
func (s *Service) Evaluate(ctx context.Context, req models.ScoreRequest) (Result, error) {
	start := time.Now()
	defer func() { metrics.ScoreDuration.Observe(time.Since(start).Seconds()) }()

	p, err := s.handle.Get()
	if err != nil {
		return Result{}, err
	}
	ev, hasFreq, err := features.EventFromRequest(req)
	if err != nil {
		return Result{}, err
	}
	// Every call with an actor enters the window, including calls that
	// carry their own freq_1min; the count is used only when it is absent.
	if s.counter != nil && ev.Actor != "" {
		n, err := s.counter.Observe(ctx, ev.Actor, ev.Timestamp)
		switch {
		case err != nil:
			log.Warnf("frequency counter unavailable: %v", err)
		case !hasFreq:
			ev.Freq1Min = n
		}
	}

	vec, err := s.extractor.Extract(&ev, p.Version)
	if err != nil {
		return Result{}, err
	}
	raw, err := p.Decision(vec)
	if err != nil {
		return Result{}, fmt.Errorf("score event: %w", err)
	}
	res := risk.Normalize(raw)

	resp := models.ScoreResponse{
		Status:              statusSuccess,
		IsAnomaly:           res.IsAnomaly,
		RawScore:            res.RawScore,
		NormalizedRiskScore: res.Risk,
	}
	if s.rules != nil && s.rules.SchemaVersion == p.Version {
		violations, _, err := s.rules.Evaluate(vec)
		if err != nil {
			log.Warnf("explanation skipped: %v", err)
		}
		resp.Violations = violations
		for _, v := range violations {
			metrics.ViolationsTotal.WithLabelValues(v.Feature).Inc()
		}
	}
	metrics.RiskScore.Observe(res.Risk)

	out := Result{Response: resp}
	if res.IsAnomaly {
		metrics.AnomaliesTotal.Inc()
		out.Record = &models.ScoreRecord{
			ID:            uuid.NewString(),
			Timestamp:     ev.Timestamp,
			Actor:         ev.Actor,
			SchemaVersion: string(p.Version),
			ModelRunID:    p.RunID,
			RawScore:      res.RawScore,
			Risk:          res.Risk,
			IsAnomaly:     true,
			Violations:    resp.Violations,
		}
	}
	return out, nil
}

// Score scores one request and hands anomalous results to the recorders.
// Recorder failures are logged; they never fail the request.
func (s *Service) Score(ctx context.Context, req models.ScoreRequest) (models.ScoreResponse, error) {
	res, err := s.Evaluate(ctx, req)
	if err != nil {
		return models.ScoreResponse{}, err
	}
	if res.Record != nil {
		batch := []models.ScoreRecord{*res.Record}
		for _, r := range s.recorders {
			if err := r.Accumulate(ctx, batch); err != nil {
				log.Errorf("record anomaly %s: %v", res.Record.ID, err)
			}
		}
	}
	return res.Response, nil
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, records []models.ScoreRecord) error

// Accumulate calls f.
func (f RecorderFunc) Accumulate(ctx context.Context, records []models.ScoreRecord) error {
	return f(ctx, records)
}
