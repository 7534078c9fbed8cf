package corpus

import (
	"context"
	"errors"
	"time"

	"auditrisk/internal/logger"
	"auditrisk/pkg/models"
)

// DefaultOversample is how many times each feedback row is repeated.
const DefaultOversample = 10

var log = logger.Named("corpus")

// Builder merges the synthetic corpus with optional feedback.
type Builder struct {
	Synth      Synthesizer
	Feedback   FeedbackSource
	Oversample int
}

// Stats describes one built corpus.
type Stats struct {
	Normal            int
	Anomalous         int
	Feedback          int
	FeedbackWeighted  int
	FeedbackDegraded  bool
	ScenarioBreakdown map[string]int
	Elapsed           time.Duration
}

// Total is the number of events in the corpus.
func (s Stats) Total() int {
	return s.Normal + s.Anomalous + s.FeedbackWeighted
}

// Build returns the shuffled labeled corpus. A feedback failure degrades
// the run to synthetic data and is reported in Stats, not as an error; only
// a cancelled context fails the build.
func (b Builder) Build(ctx context.Context) ([]models.AuditEvent, Stats, error) {
	start := time.Now()
	events := b.Synth.Generate()

	normal, per := b.Synth.Shares()
	st := Stats{Normal: normal, ScenarioBreakdown: make(map[string]int, scenarioCount)}
	for sc, n := range per {
		st.Anomalous += n
		st.ScenarioBreakdown[Scenario(sc).String()] = n
	}
	log.Infof("synthesized %d normal and %d anomalous events", st.Normal, st.Anomalous)

	if b.Feedback != nil {
		fb, err := b.Feedback.Fetch(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, st, ctx.Err()
		case errors.Is(err, ErrDataSourceUnavailable):
			st.FeedbackDegraded = true
			log.Warnf("feedback unavailable, training on synthetic data only: %v", err)
		case err != nil:
			st.FeedbackDegraded = true
			log.Warnf("feedback fetch failed, training on synthetic data only: %v", err)
		case len(fb) == 0:
			log.Infof("no feedback rows found, training on synthetic data only")
		default:
			times := b.Oversample
			if times <= 0 {
				times = DefaultOversample
			}
			st.Feedback = len(fb)
			st.FeedbackWeighted = len(fb) * times
			for i := 0; i < times; i++ {
				events = append(events, fb...)
			}
			log.Infof("merged %d feedback rows x%d", len(fb), times)
		}
	}

	Shuffle(events, b.Synth.Seed)
	st.Elapsed = time.Since(start)
	return events, st, nil
}
