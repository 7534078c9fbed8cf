// Package training runs one offline fit: corpus, matrix, model, rules and
// persistence, in that order.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"auditrisk/internal/corpus"
	"auditrisk/internal/explain"
	"auditrisk/internal/features"
	"auditrisk/internal/fileutil"
	"auditrisk/internal/logger"
	"auditrisk/internal/metrics"
	"auditrisk/internal/model"
	"auditrisk/internal/model/iforest"
	"auditrisk/internal/model/onnx"
	"auditrisk/internal/schema"
	"auditrisk/pkg/models"
)

var log = logger.Named("training")

// Config parameterizes a run. Zero values fall back to the forest and
// corpus defaults.
type Config struct {
	Schema    schema.Version
	Extractor *features.Extractor

	Samples         int
	AnomalyFraction float64
	Seed            int64
	Now             time.Time

	Trees         int
	MaxSamples    int
	Contamination float64
	Workers       int

	Feedback   corpus.FeedbackSource
	Oversample int

	ArtifactPath string
	RulesPath    string
	// ONNXPath is optional; empty skips the export.
	ONNXPath string
}

// Report summarizes a finished run.
type Report struct {
	RunID              string
	Schema             schema.Version
	Rows               int
	Normal             int
	Anomalous          int
	Feedback           int
	FeedbackDegraded   bool
	PredictedAnomalies int
	Rules              int
	ArtifactPath       string
	RulesPath          string
	ONNXPath           string
	Elapsed            time.Duration
}

// Run executes the full run. Any failure aborts before anything is renamed
// into place, so existing artifacts survive a failed run untouched.
func Run(ctx context.Context, cfg Config) (Report, error) {
	start := time.Now()
	rep, err := run(ctx, cfg)
	rep.Elapsed = time.Since(start)
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues("failed").Inc()
		log.Errorf("training run failed after %s: %v", rep.Elapsed, err)
		return rep, err
	}
	metrics.TrainingRunsTotal.WithLabelValues("success").Inc()
	log.Infof("training run %s finished in %s: %d rows, %d predicted anomalous", rep.RunID, rep.Elapsed, rep.Rows, rep.PredictedAnomalies)
	return rep, nil
}

func run(ctx context.Context, cfg Config) (Report, error) {
	version := cfg.Schema
	if version == "" {
		version = schema.Default
	}
	if _, err := schema.Lookup(version); err != nil {
		return Report{}, err
	}
	if cfg.ArtifactPath == "" || cfg.RulesPath == "" {
		return Report{}, errors.New("artifact and rules paths are required")
	}
	x := cfg.Extractor
	if x == nil {
		x = &features.Extractor{}
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	rep := Report{RunID: model.NewRunID(), Schema: version}

	// 1. corpus
	phase := time.Now()
	b := corpus.Builder{
		Synth: corpus.Synthesizer{
			Samples:         cfg.Samples,
			AnomalyFraction: cfg.AnomalyFraction,
			Seed:            cfg.Seed,
			Now:             now,
			Location:        x.Location,
		},
		Feedback:   cfg.Feedback,
		Oversample: cfg.Oversample,
	}
	events, st, err := b.Build(ctx)
	if err != nil {
		return rep, fmt.Errorf("build corpus: %w", err)
	}
	if len(events) == 0 {
		return rep, errors.New("build corpus: no training events")
	}
	rep.Rows = len(events)
	rep.Normal = st.Normal
	rep.Anomalous = st.Anomalous
	rep.Feedback = st.FeedbackWeighted
	rep.FeedbackDegraded = st.FeedbackDegraded
	metrics.CorpusSize.WithLabelValues("normal").Set(float64(st.Normal))
	metrics.CorpusSize.WithLabelValues("anomalous").Set(float64(st.Anomalous))
	metrics.CorpusSize.WithLabelValues("feedback").Set(float64(st.FeedbackWeighted))
	observe("corpus", phase)
	log.Infof("corpus ready: %d rows (%d normal, %d anomalous, %d feedback)", rep.Rows, st.Normal, st.Anomalous, st.FeedbackWeighted)

	// 2. matrix
	phase = time.Now()
	data, err := x.Matrix(events, version)
	if err != nil {
		return rep, fmt.Errorf("extract features: %w", err)
	}
	observe("matrix", phase)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// 3. fit
	phase = time.Now()
	opts := []iforest.Option{iforest.WithSeed(cfg.Seed)}
	if cfg.Trees > 0 {
		opts = append(opts, iforest.WithTrees(cfg.Trees))
	}
	if cfg.MaxSamples > 0 {
		opts = append(opts, iforest.WithMaxSamples(cfg.MaxSamples))
	}
	if cfg.Contamination > 0 {
		opts = append(opts, iforest.WithContamination(cfg.Contamination))
	}
	if cfg.Workers > 0 {
		opts = append(opts, iforest.WithWorkers(cfg.Workers))
	}
	p := &model.Pipeline{
		Version:   version,
		Detector:  iforest.New(opts...),
		RunID:     rep.RunID,
		CreatedAt: now.UTC(),
	}
	if _, err := p.Fit(data); err != nil {
		return rep, fmt.Errorf("fit model: %w", err)
	}
	observe("fit", phase)
	log.Infof("model fitted on %d rows x %d features", len(data), len(data[0]))
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// 4. rules
	phase = time.Now()
	rules, err := explain.Generate(p, data, version)
	if err != nil {
		return rep, fmt.Errorf("generate rules: %w", err)
	}
	rep.Rules = len(rules.Rules)
	labels, err := p.PredictMatrix(data)
	if err != nil {
		return rep, fmt.Errorf("label training rows: %w", err)
	}
	for _, l := range labels {
		if l == -1 {
			rep.PredictedAnomalies++
		}
	}
	observe("rules", phase)
	logRecall(events, labels)

	// 5. persist
	phase = time.Now()
	if err := persist(&rep, cfg, p, rules); err != nil {
		return rep, err
	}
	observe("persist", phase)
	return rep, nil
}

func persist(rep *Report, cfg Config, p *model.Pipeline, rules *explain.RuleSet) error {
	var staged []*fileutil.Staged
	defer func() {
		for _, s := range staged {
			s.Discard()
		}
	}()

	stage := func(path string, write func(io.Writer) error) error {
		s, err := fileutil.Stage(path, write)
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		staged = append(staged, s)
		return nil
	}

	// Commit order follows stage order. The artifact goes last so a served
	// model never changes before its rules and ONNX export are in place.
	if err := stage(cfg.RulesPath, rules.Encode); err != nil {
		return err
	}
	if cfg.ONNXPath != "" {
		blob, err := onnx.Export(p)
		if err != nil {
			return fmt.Errorf("export onnx: %w", err)
		}
		if err := stage(cfg.ONNXPath, func(w io.Writer) error {
			_, err := w.Write(blob)
			return err
		}); err != nil {
			return err
		}
	}
	if err := stage(cfg.ArtifactPath, func(w io.Writer) error { return model.EncodeArtifact(w, p) }); err != nil {
		return err
	}

	for _, s := range staged {
		if err := s.Commit(); err != nil {
			return err
		}
		log.Infof("wrote %s", s.Path())
	}
	rep.ArtifactPath = cfg.ArtifactPath
	rep.RulesPath = cfg.RulesPath
	rep.ONNXPath = cfg.ONNXPath
	return nil
}

func logRecall(events []models.AuditEvent, labels []int) {
	if !logger.Enabled(logger.Debug) {
		return
	}
	var anomalous, caught int
	for i, ev := range events {
		if ev.Label == models.LabelAnomalous {
			anomalous++
			if labels[i] == -1 {
				caught++
			}
		}
	}
	if anomalous > 0 {
		log.Debugf("injected anomalies flagged: %d/%d", caught, anomalous)
	}
}

func observe(phase string, since time.Time) {
	metrics.TrainingDuration.WithLabelValues(phase).Observe(time.Since(since).Seconds())
}
