package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SnapshotCacheRepository 多实例共享的题目快照缓存。
// 读写失败按未命中处理，不影响开考流程。
type SnapshotCacheRepository struct {
	Redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSnapshotCacheRepository(rdb *redis.Client, ttl time.Duration) *SnapshotCacheRepository {
	return &SnapshotCacheRepository{Redis: rdb, prefix: "exam:snapshot:", ttl: ttl}
}

func (r *SnapshotCacheRepository) Get(ctx context.Context, examID string) (*attempt.ExamSnapshot, bool) {
	raw, err := r.Redis.Get(ctx, r.prefix+examID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Snapshot cache read failed", zap.String("examId", examID), zap.Error(err))
		}
		return nil, false
	}
	var snap attempt.ExamSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Log.Warn("Snapshot cache entry corrupt", zap.String("examId", examID), zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (r *SnapshotCacheRepository) Put(ctx context.Context, snap *attempt.ExamSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		logger.Log.Error("Failed to encode exam snapshot", zap.Error(err))
		return
	}
	if err := r.Redis.Set(ctx, r.prefix+snap.Exam.ID, raw, r.ttl).Err(); err != nil {
		logger.Log.Warn("Snapshot cache write failed", zap.String("examId", snap.Exam.ID), zap.Error(err))
	}
}

// Invalidate 题目被修改后清除缓存
func (r *SnapshotCacheRepository) Invalidate(ctx context.Context, examID string) error {
	return r.Redis.Del(ctx, r.prefix+examID).Err()
}
