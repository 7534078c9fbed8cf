package model

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"auditrisk/internal/fileutil"
	"auditrisk/internal/model/iforest"
	"auditrisk/internal/schema"
)

const (
	artifactFormat  = "auditrisk-model"
	artifactVersion = 1

	detectorIForest = "iforest"
)

type envelope struct {
	Format        string          `json:"format"`
	FormatVersion int             `json:"format_version"`
	SchemaVersion schema.Version  `json:"schema_version"`
	Fields        []string        `json:"fields"`
	RunID         string          `json:"run_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Detector      string          `json:"detector"`
	Scaler        *Scaler         `json:"scaler"`
	Forest        *iforest.Forest `json:"forest,omitempty"`
}

// NewRunID returns an identifier for one training run.
func NewRunID() string {
	return uuid.NewString()
}

// EncodeArtifact writes the pipeline as a gzip-compressed envelope.
func EncodeArtifact(w io.Writer, p *Pipeline) error {
	if p == nil || p.Scaler == nil || p.Detector == nil {
		return fmt.Errorf("encode artifact: pipeline is not fitted")
	}
	s, err := schema.Lookup(p.Version)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	env := envelope{
		Format:        artifactFormat,
		FormatVersion: artifactVersion,
		SchemaVersion: p.Version,
		Fields:        s.Names(),
		RunID:         p.RunID,
		CreatedAt:     p.CreatedAt.UTC(),
		Scaler:        p.Scaler,
	}
	switch d := p.Detector.(type) {
	case *iforest.Forest:
		env.Detector = detectorIForest
		env.Forest = d
	default:
		return fmt.Errorf("encode artifact: detector %T is not serializable", p.Detector)
	}

	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(&env); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}
	return nil
}

// DecodeArtifact reads an envelope and checks it against the expected
// schema. An empty expected version accepts whatever the artifact declares.
func DecodeArtifact(r io.Reader, expected schema.Version) (*Pipeline, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer gz.Close()

	var env envelope
	if err := json.NewDecoder(gz).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if env.Format != artifactFormat || env.FormatVersion != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact format %q v%d", env.Format, env.FormatVersion)
	}
	if expected != "" && env.SchemaVersion != expected {
		return nil, fmt.Errorf("%w: artifact schema %s, service expects %s", schema.ErrMismatch, env.SchemaVersion, expected)
	}
	s, err := schema.Lookup(env.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrMismatch, err)
	}
	if err := s.CheckNames(env.Fields); err != nil {
		return nil, err
	}
	if env.Scaler == nil || len(env.Scaler.Mean) != s.Len() || len(env.Scaler.Scale) != s.Len() {
		return nil, fmt.Errorf("%w: scaler does not cover %d features", schema.ErrMismatch, s.Len())
	}

	p := &Pipeline{
		Version:   env.SchemaVersion,
		Scaler:    env.Scaler,
		RunID:     env.RunID,
		CreatedAt: env.CreatedAt,
	}
	switch env.Detector {
	case detectorIForest:
		if env.Forest == nil || len(env.Forest.Trees) == 0 {
			return nil, fmt.Errorf("artifact has no fitted forest")
		}
		if env.Forest.Features != s.Len() {
			return nil, fmt.Errorf("%w: forest fitted on %d features, schema has %d", schema.ErrMismatch, env.Forest.Features, s.Len())
		}
		p.Detector = env.Forest
	default:
		return nil, fmt.Errorf("unknown detector %q", env.Detector)
	}
	return p, nil
}

// SaveArtifact persists the pipeline atomically.
func SaveArtifact(path string, p *Pipeline) error {
	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		return EncodeArtifact(w, p)
	})
}

// LoadArtifact opens a persisted pipeline. Missing or unreadable files are
// reported as ErrModelUnavailable.
func LoadArtifact(path string, expected schema.Version) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer f.Close()

	p, err := DecodeArtifact(f, expected)
	if err != nil {
		if errors.Is(err, schema.ErrMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return p, nil
}
