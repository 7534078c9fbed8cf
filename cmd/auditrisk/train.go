package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"auditrisk/config"
	"auditrisk/internal/corpus"
	"auditrisk/internal/logger"
	"auditrisk/internal/training"
)

func newTrainCmd(configArg *string) *cobra.Command {
	var (
		samples  int
		seed     int64
		noONNX   bool
		feedback bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Synthesize a corpus, fit the model and write artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configArg)
			if err != nil {
				return err
			}
			defer logger.Close()
			t := &cfg.AuditRisk.Training
			if cmd.Flags().Changed("samples") {
				t.Samples = samples
			}
			if cmd.Flags().Changed("seed") {
				t.Seed = seed
			}
			if noONNX {
				off := false
				t.ExportONNX = &off
			}
			if cmd.Flags().Changed("feedback") {
				cfg.AuditRisk.Feedback.Enabled = feedback
			}
			return runTrain(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 0, "corpus size (overrides training.samples)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (overrides training.seed)")
	cmd.Flags().BoolVar(&noONNX, "no-onnx", false, "skip the ONNX export")
	cmd.Flags().BoolVar(&feedback, "feedback", false, "mix in approved rows from the audit database")
	return cmd
}

func trainingConfig(cfg *config.Config) (training.Config, error) {
	v, err := schemaVersion(cfg)
	if err != nil {
		return training.Config{}, err
	}
	x, err := newExtractor(cfg)
	if err != nil {
		return training.Config{}, err
	}
	t := cfg.AuditRisk.Training
	m := cfg.AuditRisk.Model
	tc := training.Config{
		Schema:          v,
		Extractor:       x,
		Samples:         t.Samples,
		AnomalyFraction: t.AnomalyFraction,
		Seed:            t.Seed,
		Trees:           t.Trees,
		MaxSamples:      t.MaxSamples,
		Contamination:   t.Contamination,
		Workers:         t.Workers,
		Oversample:      cfg.AuditRisk.Feedback.Oversample,
		ArtifactPath:    m.Artifact,
		RulesPath:       m.Rules,
	}
	if t.ExportONNX == nil || *t.ExportONNX {
		tc.ONNXPath = m.ONNX
	}
	return tc, nil
}

func runTrain(ctx context.Context, cfg *config.Config) error {
	tc, err := trainingConfig(cfg)
	if err != nil {
		return err
	}

	fb := cfg.AuditRisk.Feedback
	if fb.Enabled {
		src, err := corpus.NewSQLFeedbackSource(fb.Driver, fb.DSN, fb.Limit)
		if err != nil {
			// Feedback only enriches the corpus; training goes on without it.
			logger.Warnf("Feedback source unavailable, training on synthetic data only: %v", err)
		} else {
			defer src.Close()
			tc.Feedback = src
			logger.Infof("Feedback source: %s (limit %d, x%d)", fb.Driver, fb.Limit, fb.Oversample)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := training.Run(ctx, tc)
	if err != nil {
		logger.Errorf("Training failed: %v", err)
		return fmt.Errorf("training failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
