package corpus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"auditrisk/pkg/models"
)

var fixedNow = time.Date(2024, 5, 8, 15, 30, 0, 0, time.UTC)

func TestSharesAreExact(t *testing.T) {
	cases := []struct {
		samples  int
		fraction float64
		normal   int
		per      [scenarioCount]int
	}{
		{1000, 0.05, 950, [scenarioCount]int{10, 10, 10, 10, 10}},
		{1000, 0.053, 947, [scenarioCount]int{11, 11, 11, 10, 10}},
		{7, 0.5, 3, [scenarioCount]int{1, 1, 1, 1, 0}},
		{100, 0, 100, [scenarioCount]int{}},
	}
	for _, tc := range cases {
		s := Synthesizer{Samples: tc.samples, AnomalyFraction: tc.fraction}
		normal, per := s.Shares()
		if normal != tc.normal || per != tc.per {
			t.Errorf("Shares(%d, %v) = %d %v, want %d %v", tc.samples, tc.fraction, normal, per, tc.normal, tc.per)
		}
		if got := len(s.Generate()); got != tc.samples {
			t.Errorf("Generate(%d) returned %d events", tc.samples, got)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	s := Synthesizer{Samples: 500, AnomalyFraction: 0.05, Seed: 42, Now: fixedNow, Location: time.UTC}
	if !reflect.DeepEqual(s.Generate(), s.Generate()) {
		t.Fatal("same seed produced different corpora")
	}
	other := s
	other.Seed = 43
	if reflect.DeepEqual(s.Generate(), other.Generate()) {
		t.Fatal("different seeds produced identical corpora")
	}
}

func TestGenerateScenarioSignatures(t *testing.T) {
	s := Synthesizer{Samples: 2000, AnomalyFraction: 0.05, Seed: 1, Now: fixedNow, Location: time.UTC}
	events := s.Generate()
	normal, per := s.Shares()

	for _, ev := range events[:normal] {
		if ev.Label != models.LabelNormal || ev.HasAlwaysTrue || ev.ClientAppRisk || ev.ErrorCodeRisk {
			t.Fatalf("normal row carries anomaly traits: %+v", ev)
		}
		if h := ev.Timestamp.Hour(); h < 0 || h > 23 {
			t.Fatalf("hour out of range: %d", h)
		}
		if age := fixedNow.Sub(ev.Timestamp); age > 8*24*time.Hour {
			t.Fatalf("normal row too old: %v", ev.Timestamp)
		}
		if ev.SQLTypeWeight != models.WeightRead && ev.SQLTypeWeight != models.WeightWrite {
			t.Fatalf("unexpected weight %d", ev.SQLTypeWeight)
		}
	}

	idx := normal
	for sc := Scenario(0); sc < scenarioCount; sc++ {
		for _, ev := range events[idx : idx+per[sc]] {
			if ev.Label != models.LabelAnomalous {
				t.Fatalf("%s row not labeled anomalous", sc)
			}
			switch sc {
			case BooleanInjection:
				if !ev.HasAlwaysTrue || ev.ConditionCount < 5 {
					t.Fatalf("injection row %+v", ev)
				}
			case DataExfiltration:
				if ev.Timestamp.Hour() != 3 || ev.RowCount < 50000 {
					t.Fatalf("exfiltration row %+v", ev)
				}
			case DestructiveOperation:
				if ev.SQLTypeWeight != models.WeightDestructive || ev.AffectedRows < 1000 {
					t.Fatalf("destructive row %+v", ev)
				}
			case SlowQueryDoS:
				if ev.ExecTimeMs < 30000 || ev.JoinCount < 5 || ev.NestedLevel < 2 {
					t.Fatalf("slow query row %+v", ev)
				}
			case BruteForceScan:
				if ev.Freq1Min < 100 || !ev.ClientAppRisk || !ev.ErrorCodeRisk {
					t.Fatalf("scan row %+v", ev)
				}
			}
		}
		idx += per[sc]
	}
}

type failingSource struct{}

func (failingSource) Fetch(context.Context) ([]models.AuditEvent, error) {
	return nil, fmt.Errorf("%w: connection refused", ErrDataSourceUnavailable)
}

func TestBuildDegradesWithoutFeedback(t *testing.T) {
	b := Builder{
		Synth:    Synthesizer{Samples: 300, AnomalyFraction: 0.05, Seed: 9, Now: fixedNow},
		Feedback: failingSource{},
	}
	events, st, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !st.FeedbackDegraded || st.Feedback != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(events) != 300 || st.Total() != 300 {
		t.Fatalf("expected 300 synthetic events, got %d", len(events))
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := Builder{Synth: Synthesizer{Samples: 200, AnomalyFraction: 0.1, Seed: 4, Now: fixedNow}}
	a, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c, _, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !reflect.DeepEqual(a, c) {
		t.Fatal("shuffled corpus differs across builds")
	}
}

func newFeedbackDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE sys_audit_log (
		create_time DATETIME,
		result_count INTEGER,
		affected_rows INTEGER,
		execution_time REAL,
		error_code INTEGER,
		sql_template TEXT,
		app_user_id TEXT,
		client_app TEXT,
		feedback_status INTEGER
	)`)
	rows := []struct {
		ts, sql, user, client string
		rows, errCode, status int
	}{
		{"2024-05-06 10:00:00", "select * from orders where id = 1 and state = 2", "alice", "dbeaver", 3, 0, 1},
		{"2024-05-06 10:00:30", "select * from orders o join users u on o.uid = u.id", "alice", "python-requests", 12, 1062, 1},
		{"2024-05-06 10:02:00", "update orders set state = 3 where id = 1", "alice", "dbeaver", 0, 0, 1},
		{"2024-05-06 10:02:10", "select 1 = 1", "mallory", "sqlmap", 0, 0, 0},
	}
	for _, r := range rows {
		db.MustExec(`INSERT INTO sys_audit_log VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ts, r.rows, 0, 15.5, r.errCode, r.sql, r.user, r.client, r.status)
	}
	return db
}

func TestSQLFeedbackSourceFetch(t *testing.T) {
	src := NewSQLFeedbackSourceFromDB(newFeedbackDB(t), 100)
	events, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 approved rows, got %d", len(events))
	}
	byMinute := map[int]models.AuditEvent{}
	for _, ev := range events {
		if ev.Label != models.LabelNormal || ev.Actor != "alice" {
			t.Fatalf("unexpected event %+v", ev)
		}
		byMinute[ev.Timestamp.Minute()*60+ev.Timestamp.Second()] = ev
	}

	first := byMinute[0]
	if first.ConditionCount != 2 || first.SQLTypeWeight != models.WeightRead || first.Freq1Min != 1 {
		t.Fatalf("first row %+v", first)
	}
	second := byMinute[30]
	if second.JoinCount != 1 || !second.ClientAppRisk || !second.ErrorCodeRisk || second.Freq1Min != 2 {
		t.Fatalf("second row %+v", second)
	}
	third := byMinute[120]
	if third.SQLTypeWeight != models.WeightWrite || third.Freq1Min != 1 {
		t.Fatalf("third row %+v", third)
	}
}

func TestBuildOversamplesFeedback(t *testing.T) {
	b := Builder{
		Synth:      Synthesizer{Samples: 100, AnomalyFraction: 0.05, Seed: 2, Now: fixedNow},
		Feedback:   NewSQLFeedbackSourceFromDB(newFeedbackDB(t), 100),
		Oversample: 10,
	}
	events, st, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if st.Feedback != 3 || st.FeedbackWeighted != 30 || len(events) != 130 {
		t.Fatalf("unexpected merge: %+v, %d events", st, len(events))
	}
}

func TestNewSQLFeedbackSourceRejectsDriver(t *testing.T) {
	if _, err := NewSQLFeedbackSource("oracle", "dsn", 10); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestFeedbackErrorIsDetectable(t *testing.T) {
	_, err := failingSource{}.Fetch(context.Background())
	if !errors.Is(err, ErrDataSourceUnavailable) {
		t.Fatalf("expected ErrDataSourceUnavailable, got %v", err)
	}
}
