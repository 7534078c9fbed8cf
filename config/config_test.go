package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
auditrisk:
  schema:
    version: v1-8field
    timezone: Asia/Shanghai
  model:
    artifact: models/model.bin
  training:
    samples: 5000
    anomaly_fraction: 0.05
    export_onnx: false
  feedback:
    enabled: true
    driver: mysql
    dsn: ${AUDITRISK_TEST_DSN}
  frequency:
    mode: redis
    window: 90s
    redis:
      addr: 10.0.0.5:6379
  pipeline:
    flush_interval: 3s
  output:
    mode: http
    http:
      url: http://collector/scores
      headers:
        X-Token: abc
  logging:
    enabled: true
    level: debug
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUDITRISK_TEST_DSN", "root:pw@tcp(db:3306)/audit?parseTime=true")
	path := filepath.Join(t.TempDir(), "auditrisk.yml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	c := cfg.AuditRisk
	if c.Schema.Version != "v1-8field" || c.Schema.Timezone != "Asia/Shanghai" {
		t.Fatalf("schema = %+v", c.Schema)
	}
	if c.Training.Samples != 5000 || c.Training.ExportONNX == nil || *c.Training.ExportONNX {
		t.Fatalf("training = %+v", c.Training)
	}
	if c.Feedback.DSN != "root:pw@tcp(db:3306)/audit?parseTime=true" {
		t.Fatalf("dsn not expanded: %q", c.Feedback.DSN)
	}
	if c.Frequency.Window != 90*time.Second || c.Frequency.Redis.Addr != "10.0.0.5:6379" {
		t.Fatalf("frequency = %+v", c.Frequency)
	}
	if c.Pipeline.FlushInterval != 3*time.Second {
		t.Fatalf("flush interval = %v", c.Pipeline.FlushInterval)
	}
	if c.Output.HTTP.Headers["X-Token"] != "abc" {
		t.Fatalf("headers = %v", c.Output.HTTP.Headers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
