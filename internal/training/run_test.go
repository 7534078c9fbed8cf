package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"auditrisk/internal/explain"
	"auditrisk/internal/features"
	"auditrisk/internal/model"
	"auditrisk/internal/schema"
	"auditrisk/pkg/models"
)

func testConfig(dir string) Config {
	return Config{
		Schema:          schema.V2,
		Extractor:       &features.Extractor{Location: time.UTC},
		Samples:         800,
		AnomalyFraction: 0.05,
		Seed:            42,
		Now:             time.Date(2024, 5, 8, 15, 0, 0, 0, time.UTC),
		Trees:           40,
		Workers:         2,
		ArtifactPath:    filepath.Join(dir, "model.bin"),
		RulesPath:       filepath.Join(dir, "rules.json"),
		ONNXPath:        filepath.Join(dir, "model.onnx"),
	}
}

func TestRunPersistsEverything(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	rep, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Rows != 800 || rep.Normal != 760 || rep.Anomalous != 40 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.PredictedAnomalies == 0 || rep.Rules != 13 {
		t.Fatalf("unexpected report %+v", rep)
	}

	p, err := model.LoadArtifact(cfg.ArtifactPath, schema.V2)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if p.RunID != rep.RunID {
		t.Fatalf("artifact run id %q, report %q", p.RunID, rep.RunID)
	}
	rules, err := explain.LoadRuleSet(cfg.RulesPath, schema.V2)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if rules.RunID != rep.RunID {
		t.Fatalf("rules run id %q, report %q", rules.RunID, rep.RunID)
	}
	if info, err := os.Stat(cfg.ONNXPath); err != nil || info.Size() == 0 {
		t.Fatalf("onnx export missing: %v", err)
	}

	ev := models.AuditEvent{
		Timestamp:     time.Date(2024, 5, 11, 3, 0, 0, 0, time.UTC),
		RowCount:      900000000,
		ExecTimeMs:    900000,
		Freq1Min:      5000,
		SQLTypeWeight: models.WeightDestructive,
		HasAlwaysTrue: true,
		ClientAppRisk: true,
		ErrorCodeRisk: true,
	}
	vec, err := cfg.Extractor.Extract(&ev, schema.V2)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	d, err := p.Decision(vec)
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	if d >= 0 {
		t.Fatalf("blatant outlier scored normal: %v", d)
	}
}

func TestRunLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Samples = 300
	cfg.ONNXPath = ""
	cfg.RulesPath = filepath.Join(blocker, "rules.json")

	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected run to fail")
	}
	if _, err := os.Stat(cfg.ArtifactPath); !os.IsNotExist(err) {
		t.Fatalf("artifact persisted by failed run: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestRunCommitsArtifactLast(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Samples = 300
	// A non-empty directory at the rules path lets staging succeed but makes
	// the rename into place fail.
	if err := os.MkdirAll(filepath.Join(cfg.RulesPath, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected run to fail committing rules")
	}
	for _, path := range []string{cfg.ArtifactPath, cfg.ONNXPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s committed before its rules: %v", filepath.Base(path), err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestRunRequiresPaths(t *testing.T) {
	if _, err := Run(context.Background(), Config{Samples: 10}); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig(t.TempDir())
	cfg.Samples = 200
	if _, err := Run(ctx, cfg); err == nil {
		t.Fatal("expected cancelled run to fail")
	}
	if _, err := os.Stat(cfg.ArtifactPath); !os.IsNotExist(err) {
		t.Fatalf("artifact persisted by cancelled run: %v", err)
	}
}
