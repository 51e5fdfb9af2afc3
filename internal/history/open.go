package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
)

// DefaultSQLitePath is used when the sqlite backend has no DSN configured.
const DefaultSQLitePath = "scanrelay-history.db"

// Open builds the Store selected by cfg.History.Backend.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (Store, error) {
	h := cfg.History
	capacity := h.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	switch strings.ToLower(strings.TrimSpace(h.Backend)) {
	case "memory", "":
		return NewMemoryStore(capacity), nil
	case DriverSQLite:
		dsn := h.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		return NewSQLStore(ctx, DriverSQLite, dsn, capacity, log)
	case DriverPostgres:
		if h.DSN == "" {
			return nil, fmt.Errorf("postgres history backend requires history.dsn")
		}
		return NewSQLStore(ctx, DriverPostgres, h.DSN, capacity, log)
	case "redis":
		return NewRedisStore(cfg.Redis, h.RedisKey, capacity, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, h.Backend)
	}
}
