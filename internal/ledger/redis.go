package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed ledger.
type RedisConfig struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all ledger keys. ENV: LEDGER_REDIS_PREFIX
	KeyPrefix string `env:"LEDGER_REDIS_PREFIX,default=xiaobei:ledger:"`
	// MaxPerSession caps each session's list. ENV: LEDGER_REDIS_MAX_PER_SESSION
	MaxPerSession int64 `env:"LEDGER_REDIS_MAX_PER_SESSION,default=1000"`
}

// RedisConfigFromEnv decodes RedisConfig; struct tag defaults apply when the
// variables are unset.
func RedisConfigFromEnv() (RedisConfig, error) {
	var cfg RedisConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return RedisConfig{}, fmt.Errorf("decode redis ledger config: %w", err)
	}
	return cfg, nil
}

// RedisStore keeps one capped JSON list per session.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	max       int64
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "xiaobei:ledger:"
	}
	if cfg.MaxPerSession <= 0 {
		cfg.MaxPerSession = 1000
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: cl, keyPrefix: cfg.KeyPrefix, max: cfg.MaxPerSession}, nil
}

func (s *RedisStore) key(sessionID string) string { return s.keyPrefix + "session:" + sessionID }

func (s *RedisStore) Record(ctx context.Context, entry Entry) error {
	entry = withDefaults(entry)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := s.key(entry.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.max, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	vals, err := s.client.LRange(ctx, s.key(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	out := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Mode() string { return "redis" }

func (s *RedisStore) Close() error { return s.client.Close() }
