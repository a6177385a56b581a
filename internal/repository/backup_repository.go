package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// BackupRepository 答题过程的崩溃恢复存储，实现 attempt.BackupStore。
// 只作为兜底，数据带 TTL，主存储仍是数据库。
type BackupRepository struct {
	Redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewBackupRepository(rdb *redis.Client, ttl time.Duration) *BackupRepository {
	return &BackupRepository{Redis: rdb, prefix: "exam:backup:", ttl: ttl}
}

func (r *BackupRepository) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Redis.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *BackupRepository) Set(ctx context.Context, key, value string) error {
	return r.Redis.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *BackupRepository) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	return r.Redis.Del(ctx, full...).Err()
}
