package ledger

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend. "auto" uses postgres when databaseURL is set and
// memory otherwise; redis is only used when asked for explicitly.
func NewStore(ctx context.Context, backend, databaseURL string) (Store, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "auto":
		if strings.TrimSpace(databaseURL) == "" {
			return NewInMemoryStore(0), nil
		}
		return NewPostgresStore(ctx, databaseURL)
	case "memory":
		return NewInMemoryStore(0), nil
	case "postgres":
		if strings.TrimSpace(databaseURL) == "" {
			return nil, fmt.Errorf("ledger backend postgres requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, databaseURL)
	case "redis":
		cfg, err := RedisConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", backend)
	}
}
