package riskstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"auditrisk/pkg/models"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	s.now = func() time.Time { return time.Unix(1715000000, 0) }
	return s, mr
}

func TestAccumulateAndFetch(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	t0 := time.Unix(1714990000, 0)

	records := []models.ScoreRecord{
		{Actor: "alice", Timestamp: t0, RawScore: -0.4, Risk: 20, IsAnomaly: true},
		{Actor: "alice", Timestamp: t0.Add(time.Hour), RawScore: -1.2, Risk: 60, IsAnomaly: true,
			Violations: []models.Violation{{Feature: "has_always_true", IsCritical: true}}},
		{Actor: "bob", Timestamp: t0, RawScore: 0.2, Risk: 0, IsAnomaly: false},
	}
	if err := s.Accumulate(ctx, records); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if got := mr.HGet("test:risk:alice", "anomalies"); got != "2" {
		t.Fatalf("anomalies = %q", got)
	}
	if mr.Exists("test:risk:bob") {
		t.Fatal("normal record was accumulated")
	}

	states, err := s.FetchDirtySince(ctx, time.Unix(1714999999, 0), 10)
	if err != nil {
		t.Fatalf("FetchDirtySince: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected one dirty actor, got %d", len(states))
	}
	st := states[0]
	if st.Actor != "alice" || st.Score != 80 || st.Anomalies != 2 || st.Criticals != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.LastRawScore != -1.2 {
		t.Fatalf("last raw score = %v", st.LastRawScore)
	}
	if !st.FirstSeen.Equal(t0) || !st.LastSeen.Equal(t0.Add(time.Hour)) {
		t.Fatalf("first/last = %v/%v", st.FirstSeen, st.LastSeen)
	}

	later, err := s.FetchDirtySince(ctx, time.Unix(1715000001, 0), 10)
	if err != nil || len(later) != 0 {
		t.Fatalf("expected nothing dirty later, got %v (%v)", later, err)
	}
}

func TestHotlist(t *testing.T) {
	states := []ActorRisk{
		{Actor: "a", Score: 30},
		{Actor: "b", Score: 250},
		{Actor: "c", Score: 10, Criticals: 1},
		{Actor: "d", Score: 120},
	}
	got := Hotlist(states, 100)
	if len(got) != 3 || got[0].Actor != "b" || got[1].Actor != "d" || got[2].Actor != "c" {
		t.Fatalf("unexpected hotlist %+v", got)
	}
}
