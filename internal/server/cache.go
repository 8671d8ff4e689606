package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// VerdictCache deduplicates repeated submissions of identical content. The
// cache is best-effort on both sides: a miss or a redis outage just means
// the analysis runs again.
type VerdictCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewVerdictCache returns nil when no redis address is configured; callers
// treat a nil cache as a permanent miss.
func NewVerdictCache(cfg CacheConfig, log *slog.Logger) *VerdictCache {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	ttl := time.Hour
	if parsed, err := time.ParseDuration(cfg.TTL); err == nil && parsed > 0 {
		ttl = parsed
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &VerdictCache{client: client, ttl: ttl, log: log}
}

// Key derives the cache key from the modality and a content digest, so the
// raw submission never reaches redis.
func (c *VerdictCache) Key(modality, content string) string {
	return fmt.Sprintf("verdict:%s:%s", modality, sha256Hex(content)[:32])
}

func (c *VerdictCache) Get(ctx context.Context, key string) (AnalyzeResponse, bool) {
	if c == nil {
		return AnalyzeResponse{}, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("verdict cache read failed", "error", err)
		}
		return AnalyzeResponse{}, false
	}
	var response AnalyzeResponse
	if err := json.Unmarshal(data, &response); err != nil {
		c.log.Warn("verdict cache entry corrupt", "key", key, "error", err)
		return AnalyzeResponse{}, false
	}
	return response, true
}

func (c *VerdictCache) Put(ctx context.Context, key string, response AnalyzeResponse) {
	if c == nil {
		return
	}
	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("verdict cache write failed", "error", err)
	}
}

func (c *VerdictCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
