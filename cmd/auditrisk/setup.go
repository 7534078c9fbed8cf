package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"auditrisk/config"
	"auditrisk/internal/corpus"
	"auditrisk/internal/explain"
	"auditrisk/internal/features"
	"auditrisk/internal/frequency"
	"auditrisk/internal/logger"
	"auditrisk/internal/model"
	"auditrisk/internal/output/scorehttp"
	"auditrisk/internal/output/scorejson"
	"auditrisk/internal/pipeline"
	"auditrisk/internal/riskstate"
	"auditrisk/internal/schema"
)

const configName = "auditrisk.yml"

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat(configName); err == nil {
		return configName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), configName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return configName
}

func applyDefaults(cfg *config.Config) {
	c := &cfg.AuditRisk

	if c.Schema.Version == "" {
		c.Schema.Version = string(schema.Default)
	}

	if c.Model.Artifact == "" {
		c.Model.Artifact = "models/audit_risk_model.bin"
	}
	if c.Model.Rules == "" {
		c.Model.Rules = "models/explanation_rules.json"
	}
	if c.Model.ONNX == "" {
		c.Model.ONNX = "models/audit_risk_model.onnx"
	}

	if c.Training.Samples <= 0 {
		c.Training.Samples = 100000
	}
	if c.Training.AnomalyFraction <= 0 {
		c.Training.AnomalyFraction = 0.05
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = 42
	}
	if c.Training.Trees <= 0 {
		c.Training.Trees = 300
	}
	if c.Training.MaxSamples <= 0 {
		c.Training.MaxSamples = 256
	}
	if c.Training.Contamination <= 0 {
		c.Training.Contamination = 0.05
	}
	if c.Training.ExportONNX == nil {
		on := true
		c.Training.ExportONNX = &on
	}

	if c.Feedback.Driver == "" {
		c.Feedback.Driver = "mysql"
	}
	if c.Feedback.Limit <= 0 {
		c.Feedback.Limit = corpus.DefaultFeedbackLimit
	}
	if c.Feedback.Oversample <= 0 {
		c.Feedback.Oversample = corpus.DefaultOversample
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":5000"
	}

	if c.Frequency.Mode == "" {
		c.Frequency.Mode = "memory"
	}
	if c.Frequency.Window <= 0 {
		c.Frequency.Window = frequency.DefaultWindow
	}
	if c.Frequency.Redis.Addr == "" {
		c.Frequency.Redis.Addr = "127.0.0.1:6379"
	}

	if c.Input.Redis.Addr == "" {
		c.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Input.Redis.Key == "" {
		c.Input.Redis.Key = "db_audit_events"
	}
	if c.Input.Redis.BlockTimeout == 0 {
		c.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 8
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 500
	}
	if c.Pipeline.FlushInterval <= 0 {
		c.Pipeline.FlushInterval = 2 * time.Second
	}

	if c.Output.Mode == "" {
		c.Output.Mode = "file"
	}
	if c.Output.File.Path == "" {
		c.Output.File.Path = "output/scores.jsonl"
	}

	if c.RiskState.Redis.Addr == "" {
		c.RiskState.Redis.Addr = "127.0.0.1:6379"
	}
	if c.RiskState.Threshold <= 0 {
		c.RiskState.Threshold = 200
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// setup loads the config, applies defaults and starts the logger.
func setup(configArg string) (*config.Config, error) {
	configPath := findConfigFile(configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if configArg != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		// Running without a config file means running on defaults.
		cfg = &config.Config{}
		configPath = "(defaults)"
	}
	applyDefaults(cfg)

	l := cfg.AuditRisk.Logging
	if err := logger.Init(l.Enabled, l.Level, l.File, l.Console); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infof("Config loaded from: %s", configPath)
	return cfg, nil
}

func schemaVersion(cfg *config.Config) (schema.Version, error) {
	return schema.Parse(cfg.AuditRisk.Schema.Version)
}

// loadModel initializes the shared handle from the persisted artifact.
func loadModel(cfg *config.Config, v schema.Version) (*model.Handle, error) {
	h := model.Shared()
	path := cfg.AuditRisk.Model.Artifact
	err := h.Init(func() (*model.Pipeline, error) {
		return model.LoadArtifact(path, v)
	})
	return h, err
}

// loadRules reads the explanation rules. A missing file only disables
// explanations.
func loadRules(cfg *config.Config, v schema.Version) *explain.RuleSet {
	path := cfg.AuditRisk.Model.Rules
	rs, err := explain.LoadRuleSet(path, v)
	if err != nil {
		logger.Warnf("Explanation rules unavailable (%s): %v", path, err)
		return nil
	}
	logger.Infof("Explanation rules loaded: %d rules from %s", len(rs.Rules), path)
	return rs
}

func newCounter(cfg *config.Config) (frequency.Counter, error) {
	f := cfg.AuditRisk.Frequency
	switch strings.ToLower(f.Mode) {
	case "memory":
		logger.Infof("Frequency window: memory (%s)", f.Window)
		return frequency.NewMemoryCounter(f.Window), nil
	case "redis":
		c, err := frequency.NewRedisCounter(frequency.RedisConfig{
			Addr:      f.Redis.Addr,
			Password:  f.Redis.Password,
			DB:        f.Redis.DB,
			KeyPrefix: f.Redis.KeyPrefix,
			Window:    f.Window,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis frequency counter: %w", err)
		}
		logger.Infof("Frequency window: redis (%s, %s)", f.Redis.Addr, f.Window)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown frequency mode: %s", f.Mode)
	}
}

// newScoreWriter returns nil when output is disabled.
func newScoreWriter(cfg *config.Config) (pipeline.ScoreWriter, error) {
	o := cfg.AuditRisk.Output
	switch strings.ToLower(o.Mode) {
	case "none":
		logger.Infof("Output mode: none")
		return nil, nil
	case "file":
		w, err := scorejson.NewWriter(o.File.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create score file writer: %w", err)
		}
		logger.Infof("Output mode: file (%s)", o.File.Path)
		return w, nil
	case "http":
		w, err := scorehttp.NewWriter(scorehttp.Config{
			URL:     o.HTTP.URL,
			Timeout: o.HTTP.Timeout,
			Headers: o.HTTP.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create score HTTP writer: %w", err)
		}
		logger.Infof("Output mode: http (%s)", o.HTTP.URL)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown output mode: %s", o.Mode)
	}
}

func newRiskStore(cfg *config.Config) (*riskstate.RedisStore, error) {
	rs := cfg.AuditRisk.RiskState
	store, err := riskstate.NewRedisStore(riskstate.RedisConfig{
		Addr:      rs.Redis.Addr,
		Password:  rs.Redis.Password,
		DB:        rs.Redis.DB,
		KeyPrefix: rs.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create risk-state store: %w", err)
	}
	logger.Infof("Risk state: redis (%s)", rs.Redis.Addr)
	return store, nil
}

func newExtractor(cfg *config.Config) (*features.Extractor, error) {
	x, err := features.NewExtractor(cfg.AuditRisk.Schema.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schema timezone: %w", err)
	}
	return x, nil
}
