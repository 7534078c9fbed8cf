// Package riskstate accumulates per-actor risk in Redis so repeat offenders
// surface across many individually moderate events.
package riskstate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"auditrisk/pkg/models"
)

// RedisConfig configures Redis access for risk-state persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ActorRisk is the accumulated state of one actor.
type ActorRisk struct {
	Actor        string    `json:"actor"`
	Score        float64   `json:"score"`
	Anomalies    int64     `json:"anomalies"`
	Criticals    int64     `json:"criticals"`
	LastRawScore float64   `json:"last_raw_score"`
	FirstSeen    time.Time `json:"first_seen,omitempty"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// RedisStore writes and reads actor risk keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed risk store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "auditrisk"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis risk-state: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), now: time.Now}, nil
}

// Accumulate adds the risk of every anomalous record to its actor.
func (s *RedisStore) Accumulate(ctx context.Context, records []models.ScoreRecord) error {
	pipe := s.client.Pipeline()
	queued := 0
	nowUnix := s.now().Unix()

	for _, rec := range records {
		if !rec.IsAnomaly {
			continue
		}
		actor := strings.TrimSpace(rec.Actor)
		if actor == "" {
			actor = "unknown"
		}
		key := s.actorKey(actor)
		ts := float64(rec.Timestamp.Unix())

		pipe.HIncrByFloat(ctx, key, "score", rec.Risk)
		pipe.HIncrBy(ctx, key, "anomalies", 1)
		if hasCritical(rec.Violations) {
			pipe.HIncrBy(ctx, key, "criticals", 1)
		}
		pipe.HSet(ctx, key,
			"actor", actor,
			"last_raw_score", strconv.FormatFloat(rec.RawScore, 'g', -1, 64),
			"updated_at", strconv.FormatInt(nowUnix, 10),
		)
		pipe.ZAddArgs(ctx, s.firstSetKey(), redis.ZAddArgs{LT: true, Members: []redis.Z{{Score: ts, Member: actor}}})
		pipe.ZAddArgs(ctx, s.lastSetKey(), redis.ZAddArgs{GT: true, Members: []redis.Z{{Score: ts, Member: actor}}})
		pipe.ZAdd(ctx, s.dirtySetKey(), redis.Z{Score: float64(nowUnix), Member: actor})
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update risk-state redis keys: %w", err)
	}
	return nil
}

// FetchDirtySince returns actors updated at or after since.
func (s *RedisStore) FetchDirtySince(ctx context.Context, since time.Time, limit int64) ([]ActorRisk, error) {
	if limit <= 0 {
		limit = 1000
	}
	members, err := s.client.ZRangeByScore(ctx, s.dirtySetKey(), &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.Unix(), 10),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read dirty risk-state members: %w", err)
	}

	out := make([]ActorRisk, 0, len(members))
	for _, actor := range members {
		hash, err := s.client.HGetAll(ctx, s.actorKey(actor)).Result()
		if err != nil {
			return nil, fmt.Errorf("read risk-state for %s: %w", actor, err)
		}
		if len(hash) == 0 {
			continue
		}
		st := ActorRisk{Actor: actor}
		st.Score, _ = strconv.ParseFloat(hash["score"], 64)
		st.Anomalies, _ = strconv.ParseInt(hash["anomalies"], 10, 64)
		st.Criticals, _ = strconv.ParseInt(hash["criticals"], 10, 64)
		st.LastRawScore, _ = strconv.ParseFloat(hash["last_raw_score"], 64)
		if u, _ := strconv.ParseInt(hash["updated_at"], 10, 64); u > 0 {
			st.UpdatedAt = time.Unix(u, 0).UTC()
		}
		if first, err := s.client.ZScore(ctx, s.firstSetKey(), actor).Result(); err == nil {
			st.FirstSeen = time.Unix(int64(first), 0).UTC()
		}
		if last, err := s.client.ZScore(ctx, s.lastSetKey(), actor).Result(); err == nil {
			st.LastSeen = time.Unix(int64(last), 0).UTC()
		}
		out = append(out, st)
	}
	return out, nil
}

// Hotlist keeps the actors whose accumulated score reaches threshold or who
// tripped a critical rule, highest score first.
func Hotlist(states []ActorRisk, threshold float64) []ActorRisk {
	out := make([]ActorRisk, 0, len(states))
	for _, st := range states {
		if st.Score >= threshold || st.Criticals > 0 {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func hasCritical(vs []models.Violation) bool {
	for _, v := range vs {
		if v.IsCritical {
			return true
		}
	}
	return false
}

func (s *RedisStore) actorKey(actor string) string {
	return s.prefix + ":risk:" + actor
}

func (s *RedisStore) firstSetKey() string {
	return s.prefix + ":risk_first"
}

func (s *RedisStore) lastSetKey() string {
	return s.prefix + ":risk_last"
}

func (s *RedisStore) dirtySetKey() string {
	return s.prefix + ":risk_dirty"
}
