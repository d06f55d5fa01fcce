package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/infrastructure/config"
)

// NewBlobStore builds the backend named by cfg.PDF.Backend
func NewBlobStore(cfg *config.Config, logger *zap.Logger) (BlobStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.PDF.Backend {
	case "file":
		return NewFileBlobStore(cfg.PDF.Directory, logger)
	case "redis":
		client, err := NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisBlobStore(client, cfg.PDF.KeyPrefix, logger), nil
	case "s3":
		client, err := NewS3Client(context.Background(), cfg.PDF.S3)
		if err != nil {
			return nil, err
		}
		return NewS3BlobStore(client, cfg.PDF.S3.Bucket, cfg.PDF.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.PDF.Backend)
	}
}

// NewRedisClient connects and pings with the dial timeout
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}
