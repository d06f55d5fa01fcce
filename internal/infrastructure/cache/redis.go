package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBlobStore keeps data and sidecar under <prefix><key> and <prefix><key>:meta
type RedisBlobStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisBlobStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisBlobStore {
	return &RedisBlobStore{client: client, prefix: prefix, logger: logger}
}

func (r *RedisBlobStore) dataKey(key string) string { return r.prefix + key }
func (r *RedisBlobStore) metaKey(key string) string { return r.prefix + key + ":meta" }

func (r *RedisBlobStore) ReadMeta(ctx context.Context, key string) ([]byte, error) {
	meta, err := r.client.Get(ctx, r.metaKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBlobNotFound{Key: key}
		}
		r.logger.Error("redis get failed", zap.String("key", r.metaKey(key)), zap.Error(err))
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return meta, nil
}

func (r *RedisBlobStore) Read(ctx context.Context, key string) (Entry, error) {
	vals, err := r.client.MGet(ctx, r.dataKey(key), r.metaKey(key)).Result()
	if err != nil {
		r.logger.Error("redis mget failed", zap.String("key", key), zap.Error(err))
		return Entry{}, fmt.Errorf("redis mget failed: %w", err)
	}

	data, ok1 := vals[0].(string)
	meta, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return Entry{}, ErrBlobNotFound{Key: key}
	}
	return Entry{Data: []byte(data), Meta: []byte(meta)}, nil
}

// Write sets both keys inside MULTI/EXEC
func (r *RedisBlobStore) Write(ctx context.Context, key string, e Entry, expiry time.Duration) error {
	if expiry < 0 {
		expiry = 0
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.dataKey(key), e.Data, expiry)
		pipe.Set(ctx, r.metaKey(key), e.Meta, expiry)
		return nil
	})
	if err != nil {
		r.logger.Error("redis write failed",
			zap.String("key", key),
			zap.Int("bytes", len(e.Data)),
			zap.Error(err))
		return fmt.Errorf("redis write failed: %w", err)
	}
	return nil
}

func (r *RedisBlobStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.dataKey(key), r.metaKey(key)).Err(); err != nil {
		r.logger.Error("redis delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisBlobStore) Close() error {
	return r.client.Close()
}
