package internal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const characterHashKey = "characters"

type CacheManager struct {
	client  *redis.Client
	enabled bool
}

func NewCacheManager(cfg *Config) *CacheManager {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &CacheManager{
		client:  client,
		enabled: cfg.CacheEnabled,
	}
}

func (cm *CacheManager) Enabled() bool {
	return cm != nil && cm.enabled
}

func (cm *CacheManager) Client() *redis.Client {
	return cm.client
}

func (cm *CacheManager) Ping(ctx context.Context) error {
	if !cm.Enabled() {
		return nil
	}
	return cm.client.Ping(ctx).Err()
}

func (cm *CacheManager) Key(parts ...string) string {
	key := "top8"
	for _, part := range parts {
		key = fmt.Sprintf("%s:%s", key, part)
	}
	return key
}

func (cm *CacheManager) Close() error {
	if cm == nil || cm.client == nil {
		return nil
	}
	return cm.client.Close()
}

// RedisCharacterStore keeps picks in a single hash; HSET gives the merge
// semantics directly.
type RedisCharacterStore struct {
	cache *CacheManager
	key   string
}

func NewRedisCharacterStore(cache *CacheManager) *RedisCharacterStore {
	return &RedisCharacterStore{
		cache: cache,
		key:   cache.Key(characterHashKey),
	}
}

func (s *RedisCharacterStore) Read(ctx context.Context) (map[string]string, error) {
	picks, err := s.cache.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read character cache: %w", err)
	}
	return picks, nil
}

func (s *RedisCharacterStore) Write(ctx context.Context, picks map[string]string) error {
	if len(picks) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(picks))
	for name, character := range picks {
		values[name] = character
	}
	if err := s.cache.client.HSet(ctx, s.key, values).Err(); err != nil {
		return fmt.Errorf("write character cache: %w", err)
	}
	return nil
}

func (s *RedisCharacterStore) Close() error {
	return nil
}
