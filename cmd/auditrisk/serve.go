package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"auditrisk/config"
	"auditrisk/internal/logger"
	"auditrisk/internal/scoring"
	"auditrisk/internal/server"
	"auditrisk/pkg/models"
)

func newServeCmd(configArg *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /predict_risk against the trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configArg)
			if err != nil {
				return err
			}
			defer logger.Close()
			if listen != "" {
				cfg.AuditRisk.Server.Listen = listen
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger.Infof("AuditRisk scoring service starting")

	v, err := schemaVersion(cfg)
	if err != nil {
		return err
	}
	x, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	// The service still starts without a model and answers 503.
	handle, err := loadModel(cfg, v)
	if err != nil {
		logger.Errorf("Model not loaded from %s: %v", cfg.AuditRisk.Model.Artifact, err)
	} else {
		logger.Infof("Model loaded from %s (schema %s)", cfg.AuditRisk.Model.Artifact, v)
	}
	defer handle.Teardown()

	counter, err := newCounter(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	defer counter.Close()

	var recorders []scoring.Recorder
	writer, err := newScoreWriter(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	if writer != nil {
		defer writer.Close()
		recorders = append(recorders, scoring.RecorderFunc(func(_ context.Context, records []models.ScoreRecord) error {
			return writer.WriteScores(records)
		}))
	}
	if cfg.AuditRisk.RiskState.Enabled {
		store, err := newRiskStore(cfg)
		if err != nil {
			logger.Errorf("%v", err)
			return err
		}
		defer store.Close()
		recorders = append(recorders, store)
	}

	svc := scoring.NewService(handle, x, scoring.Options{
		Counter:   counter,
		Rules:     loadRules(cfg, v),
		Recorders: recorders,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg.AuditRisk.Server.Listen, svc).Run(ctx); err != nil {
		logger.Errorf("Server error: %v", err)
		return err
	}
	logger.Infof("AuditRisk scoring service stopped")
	return nil
}
