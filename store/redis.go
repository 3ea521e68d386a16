package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "paystream:verify:"

// ConnectRedis parses url (falling back to a bare host:port) and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// RedisCache shares verified classifications between server replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = x402.DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Get treats redis failures as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*x402.Classification, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("verification cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var cls x402.Classification
	if err := json.Unmarshal(data, &cls); err != nil {
		c.logger.Warn("verification cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &cls, true
}

func (c *RedisCache) Set(ctx context.Context, key string, cls x402.Classification) {
	data, err := json.Marshal(cls)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("verification cache write failed", "key", key, "error", err)
	}
}
