package pipeline

import (
	"context"

	"auditrisk/pkg/models"
)

// ScoreWriter writes batches of anomalous score records.
type ScoreWriter interface {
	WriteScores(records []models.ScoreRecord) error
	Close() error
}

// Source yields raw event payloads. A nil payload with a nil error means
// nothing arrived before the source's poll timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}
