package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/straye-as/pipeline-engine/internal/config"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"go.uber.org/zap"
)

const keyPrefix = "pipeline-engine:default-pipeline:"

// PipelineCache caches each tenant's default pipeline with its stages in Redis
type PipelineCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewClient creates a Redis client from configuration and verifies connectivity
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

func NewPipelineCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *PipelineCache {
	return &PipelineCache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(tenantID uuid.UUID) string {
	return keyPrefix + tenantID.String()
}

// GetDefault returns the cached default pipeline. ok is false on a miss.
func (c *PipelineCache) GetDefault(ctx context.Context, tenantID uuid.UUID) (*domain.Pipeline, bool, error) {
	raw, err := c.rdb.Get(ctx, key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pipeline domain.Pipeline
	if err := json.Unmarshal(raw, &pipeline); err != nil {
		// A corrupt entry is treated as a miss and dropped
		c.logger.Warn("discarding unreadable cached pipeline", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		_ = c.rdb.Del(ctx, key(tenantID)).Err()
		return nil, false, nil
	}
	return &pipeline, true, nil
}

// SetDefault stores the default pipeline of a tenant
func (c *PipelineCache) SetDefault(ctx context.Context, tenantID uuid.UUID, pipeline *domain.Pipeline) error {
	raw, err := json.Marshal(pipeline)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(tenantID), raw, c.ttl).Err()
}

// Invalidate drops the cached default pipeline of a tenant
func (c *PipelineCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	return c.rdb.Del(ctx, key(tenantID)).Err()
}

// Ping checks if Redis is reachable
func (c *PipelineCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
