// Package kv keeps monitor state in Redis for deployments without a persistent disk.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nft-sales-monitor/internal/infra/config"
	"nft-sales-monitor/internal/infra/log"
)

const (
	PositionKeySuffix = "last_position"
	UpdateIDKeySuffix = "last_update_id"
)

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg *config.StateConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	log.LogInfo("Redis connected", zap.String("addr", cfg.RedisAddr))
	return rdb, nil
}

// Key joins the configured prefix and a suffix with ':'.
func Key(prefix, suffix string) string {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		return suffix
	}
	return prefix + ":" + suffix
}

// PositionKey persists a single counter as a decimal string under one key.
type PositionKey struct {
	client redis.Cmdable
	key    string
}

func NewPositionKey(client redis.Cmdable, key string) *PositionKey {
	return &PositionKey{client: client, key: key}
}

// Load returns 0 when the key is missing, unreadable or not a number.
func (p *PositionKey) Load(ctx context.Context) uint64 {
	val, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		log.LogWarn("Failed to read position from Redis", zap.String("key", p.key), zap.Error(err))
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
	if err != nil {
		log.LogWarn("Position key is corrupt, treating as unset", zap.String("key", p.key), zap.String("value", val))
		return 0
	}
	return v
}

func (p *PositionKey) Save(ctx context.Context, position uint64) error {
	if err := p.client.Set(ctx, p.key, strconv.FormatUint(position, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s failed: %w", p.key, err)
	}
	return nil
}
