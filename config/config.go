package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	AuditRisk AuditRiskConfig `yaml:"auditrisk"`
}

// AuditRiskConfig is the project configuration.
type AuditRiskConfig struct {
	Schema    SchemaConfig    `yaml:"schema"`
	Model     ModelConfig     `yaml:"model"`
	Training  TrainingConfig  `yaml:"training"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Server    ServerConfig    `yaml:"server"`
	Frequency FrequencyConfig `yaml:"frequency"`
	Input     InputConfig     `yaml:"input"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Output    OutputConfig    `yaml:"output"`
	RiskState RiskStateConfig `yaml:"risk_state"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SchemaConfig selects the feature layout and the zone hour_of_day is read in.
type SchemaConfig struct {
	Version  string `yaml:"version"`
	Timezone string `yaml:"timezone"`
}

// ModelConfig locates the persisted artifacts.
type ModelConfig struct {
	Artifact string `yaml:"artifact"`
	Rules    string `yaml:"rules"`
	ONNX     string `yaml:"onnx"`
}

// TrainingConfig controls corpus size and forest fitting.
type TrainingConfig struct {
	Samples         int     `yaml:"samples"`
	AnomalyFraction float64 `yaml:"anomaly_fraction"`
	Seed            int64   `yaml:"seed"`
	Trees           int     `yaml:"trees"`
	MaxSamples      int     `yaml:"max_samples"`
	Contamination   float64 `yaml:"contamination"`
	Workers         int     `yaml:"workers"`

	// ExportONNX is nil when unset; training then exports.
	ExportONNX *bool `yaml:"export_onnx"`
}

// FeedbackConfig points at the audit log holding operator-approved rows.
type FeedbackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"` // mysql|sqlite
	DSN        string `yaml:"dsn"`
	Limit      int    `yaml:"limit"`
	Oversample int    `yaml:"oversample"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// FrequencyConfig selects where freq_1min windows live.
type FrequencyConfig struct {
	Mode   string        `yaml:"mode"` // memory|redis
	Redis  RedisConfig   `yaml:"redis"`
	Window time.Duration `yaml:"window"`
}

// InputConfig controls the streaming reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig is shared by every Redis-backed component.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	KeyPrefix    string        `yaml:"key_prefix"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// OutputConfig controls where anomalous score records go.
type OutputConfig struct {
	Mode string           `yaml:"mode"` // file|http|none
	File FileOutputConfig `yaml:"file"`
	HTTP HTTPOutputConfig `yaml:"http"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// RiskStateConfig controls per-actor risk accumulation.
type RiskStateConfig struct {
	Enabled   bool        `yaml:"enabled"`
	Redis     RedisConfig `yaml:"redis"`
	Threshold float64     `yaml:"threshold"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads a YAML config file, expanding ${VAR} references first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
