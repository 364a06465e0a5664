package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medical-qa-rag/internal/config"
	"medical-qa-rag/internal/models"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrCacheMiss = errors.New("cache miss")

// AnswerCache keeps answers in Redis keyed by index name and standalone
// question. A nil client or a disabled config turns every call into a miss
// or a no-op.
type AnswerCache struct {
	redis     *goredis.Client
	ttl       time.Duration
	keyPrefix string
	enabled   bool
}

func NewAnswerCache(redis *goredis.Client, cfg config.RedisConfig) *AnswerCache {
	return &AnswerCache{
		redis:     redis,
		ttl:       cfg.TTL.Duration,
		keyPrefix: cfg.KeyPrefix,
		enabled:   cfg.Enabled && redis != nil,
	}
}

// NewClient connects to the configured Redis and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (c *AnswerCache) Enabled() bool {
	return c.enabled
}

func (c *AnswerCache) key(indexName, question string) string {
	sum := sha256.Sum256([]byte(indexName + "\n" + question))
	return c.keyPrefix + hex.EncodeToString(sum[:])
}

func (c *AnswerCache) Get(ctx context.Context, indexName, question string) (*models.Answer, error) {
	if !c.enabled {
		return nil, ErrCacheMiss
	}

	key := c.key(indexName, question)
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var answer models.Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping corrupt cache entry")
		_ = c.redis.Del(ctx, key).Err()
		return nil, ErrCacheMiss
	}
	return &answer, nil
}

func (c *AnswerCache) Set(ctx context.Context, indexName, question string, answer *models.Answer) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	key := c.key(indexName, question)
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	log.Debug().Str("key", key).Dur("ttl", c.ttl).Msg("Cached answer")
	return nil
}

// Clear deletes every cached answer under the key prefix.
func (c *AnswerCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled {
		return 0, nil
	}

	iter := c.redis.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("Failed to delete cache key")
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	log.Info().Int("deleted", deleted).Msg("Cleared answer cache")
	return deleted, nil
}
