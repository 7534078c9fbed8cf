package frequency

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared window store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Window    time.Duration
}

// RedisCounter keeps one sorted set per actor, scored by epoch milliseconds,
// so several serving processes share one window.
type RedisCounter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisCounter connects to Redis and verifies the connection.
func NewRedisCounter(cfg RedisConfig) (*RedisCounter, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "auditrisk:freq"
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
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
		return nil, fmt.Errorf("ping redis frequency store: %w", err)
	}

	return &RedisCounter{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), window: cfg.Window}, nil
}

// Observe implements Counter.
func (c *RedisCounter) Observe(ctx context.Context, actor string, ts time.Time) (int64, error) {
	key := c.key(normalizeActor(actor))
	now := ts.UnixMilli()
	from := ts.Add(-c.window).UnixMilli()

	var count *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + ":" + uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(from, 10))
		count = pipe.ZCount(ctx, key, "("+strconv.FormatInt(from, 10), strconv.FormatInt(now, 10))
		pipe.PExpire(ctx, key, c.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update frequency window: %w", err)
	}
	return count.Val(), nil
}

// Close closes Redis resources.
func (c *RedisCounter) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCounter) key(actor string) string {
	return c.prefix + ":" + actor
}
