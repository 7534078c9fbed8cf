package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"auditrisk/config"
	inputredis "auditrisk/internal/input/redis"
	"auditrisk/internal/logger"
	"auditrisk/internal/pipeline"
	"auditrisk/internal/scoring"
)

func newConsumeCmd(configArg *string) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Score audit events popped from a Redis list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configArg)
			if err != nil {
				return err
			}
			defer logger.Close()
			return runConsume(cfg)
		},
	}
}

func runConsume(cfg *config.Config) error {
	logger.Infof("AuditRisk stream consumer starting")

	v, err := schemaVersion(cfg)
	if err != nil {
		return err
	}
	x, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	// Unlike serve, a consumer without a model would only drop events.
	handle, err := loadModel(cfg, v)
	if err != nil {
		logger.Errorf("Failed to load model from %s: %v", cfg.AuditRisk.Model.Artifact, err)
		return err
	}
	defer handle.Teardown()

	in := cfg.AuditRisk.Input.Redis
	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         in.Addr,
		Password:     in.Password,
		DB:           in.DB,
		Key:          in.Key,
		BlockTimeout: in.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		return err
	}
	logger.Infof("Input: redis list %s on %s", in.Key, in.Addr)

	counter, err := newCounter(cfg)
	if err != nil {
		consumer.Close()
		return err
	}
	defer counter.Close()

	writer, err := newScoreWriter(cfg)
	if err != nil {
		consumer.Close()
		return err
	}

	var recorder scoring.Recorder
	if cfg.AuditRisk.RiskState.Enabled {
		store, err := newRiskStore(cfg)
		if err != nil {
			consumer.Close()
			if writer != nil {
				writer.Close()
			}
			return err
		}
		defer store.Close()
		recorder = store
	}

	svc := scoring.NewService(handle, x, scoring.Options{
		Counter: counter,
		Rules:   loadRules(cfg, v),
	})

	pipe := pipeline.NewStreamPipeline(consumer, svc, writer, recorder, pipeline.Config{
		Workers:       cfg.AuditRisk.Pipeline.Workers,
		BatchSize:     cfg.AuditRisk.Pipeline.BatchSize,
		FlushInterval: cfg.AuditRisk.Pipeline.FlushInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warnf("Pipeline did not drain within 10s")
	}

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}
	logger.Infof("AuditRisk stream consumer stopped")
	return nil
}
