package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
	"github.com/CodeMonkeyCybersecurity/scanrelay/pkg/types"
)

const defaultRedisKey = "scanrelay:history"

// redisStore keeps digests as JSON values in one list, newest at index 0.
type redisStore struct {
	client   *redis.Client
	key      string
	capacity int
	logger   *logger.Logger
}

func NewRedisStore(cfg config.RedisConfig, key string, capacity int, log *logger.Logger) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStore(client, key, capacity, log), nil
}

func newRedisStore(client *redis.Client, key string, capacity int, log *logger.Logger) *redisStore {
	if key == "" {
		key = defaultRedisKey
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.Nop()
	}
	return &redisStore{
		client:   client,
		key:      key,
		capacity: capacity,
		logger:   log.WithComponent("history.redis"),
	}
}

func (s *redisStore) Add(ctx context.Context, entry types.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context) ([]types.HistoryEntry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, int64(s.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]types.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e types.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warnw("Skipping unreadable history entry",
				"key", s.key,
				"error", err,
			)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
