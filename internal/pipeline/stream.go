// Package pipeline scores a continuous stream of audit events: a reader
// pops payloads, workers score them, and one writer batches the anomalous
// records out to sinks.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"auditrisk/internal/features"
	"auditrisk/internal/logger"
	"auditrisk/internal/metrics"
	"auditrisk/internal/scoring"
	"auditrisk/pkg/models"
)

var log = logger.Named("pipeline")

// Evaluator scores one request. *scoring.Service implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, req models.ScoreRequest) (scoring.Result, error)
}

// Config tunes the streaming stages.
type Config struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	// RetryInterval spaces sink retries.
	RetryInterval time.Duration
}

// StreamPipeline consumes events from a Source and writes anomalies.
type StreamPipeline struct {
	source   Source
	eval     Evaluator
	writer   ScoreWriter
	recorder scoring.Recorder
	cfg      Config
}

// NewStreamPipeline wires a pipeline. writer and recorder may be nil.
func NewStreamPipeline(source Source, eval Evaluator, writer ScoreWriter, recorder scoring.Recorder, cfg Config) *StreamPipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &StreamPipeline{source: source, eval: eval, writer: writer, recorder: recorder, cfg: cfg}
}

// Run blocks until ctx is cancelled. Records already scored are flushed
// before it returns.
func (p *StreamPipeline) Run(ctx context.Context) error {
	log.Infof("stream pipeline started with %d workers", p.cfg.Workers)

	msgCh := make(chan []byte, p.cfg.Workers*4)
	recCh := make(chan models.ScoreRecord, p.cfg.Workers*4)

	go func() {
		defer close(msgCh)
		p.readLoop(ctx, msgCh)
	}()

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(ctx, msgCh, recCh)
		}()
	}
	go func() {
		workers.Wait()
		close(recCh)
	}()

	p.writeLoop(ctx, recCh)
	log.Infof("stream pipeline stopped")
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *StreamPipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			log.Errorf("failed to close score writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *StreamPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for ctx.Err() == nil {
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("failed to pop event: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *StreamPipeline) workerLoop(ctx context.Context, in <-chan []byte, out chan<- models.ScoreRecord) {
	for payload := range in {
		req, err := features.DecodeRequest(bytes.NewReader(payload))
		if err != nil {
			metrics.EventsConsumedTotal.WithLabelValues("skipped").Inc()
			log.Warnf("skipping unparseable event: %v", err)
			continue
		}
		res, err := p.eval.Evaluate(ctx, req)
		if err != nil {
			status := "failed"
			if errors.Is(err, features.ErrSchemaMismatch) {
				status = "skipped"
			}
			metrics.EventsConsumedTotal.WithLabelValues(status).Inc()
			log.Warnf("failed to score event: %v", err)
			continue
		}
		metrics.EventsConsumedTotal.WithLabelValues("scored").Inc()
		if res.Record != nil {
			out <- *res.Record
		}
	}
}

func (p *StreamPipeline) writeLoop(ctx context.Context, in <-chan models.ScoreRecord) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []models.ScoreRecord
	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		wctx := ctx
		if final {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if p.writer != nil {
			p.retry(wctx, "score writer", func() error { return p.writer.WriteScores(batch) })
		}
		if p.recorder != nil {
			p.retry(wctx, "risk state", func() error { return p.recorder.Accumulate(wctx, batch) })
		}
		batch = nil
	}

	for {
		select {
		case <-ticker.C:
			flush(ctx.Err() != nil)
		case rec, ok := <-in:
			if !ok {
				flush(true)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= p.cfg.BatchSize {
				flush(ctx.Err() != nil)
			}
		}
	}
}

// retry calls write until it succeeds or ctx ends.
func (p *StreamPipeline) retry(ctx context.Context, sink string, write func() error) {
	for {
		err := write()
		if err == nil {
			metrics.SinkWritesTotal.WithLabelValues(sink, "success").Inc()
			return
		}
		metrics.SinkWritesTotal.WithLabelValues(sink, "error").Inc()
		log.Errorf("failed to write to %s: %v", sink, err)
		select {
		case <-ctx.Done():
			log.Warnf("dropping batch for %s: %v", sink, ctx.Err())
			return
		case <-time.After(p.cfg.RetryInterval):
		}
	}
}
