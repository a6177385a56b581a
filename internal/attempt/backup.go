package attempt

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"exam_portal_backend/internal/model"
)

func answersKey(attemptID string) string { return "exam_answers_" + attemptID }
func visitedKey(attemptID string) string { return "visited_questions_" + attemptID }
func reviewKey(attemptID string) string  { return "review_questions_" + attemptID }

// BackupKeys 返回一次答题在备份存储中的全部 key
func BackupKeys(attemptID string) []string {
	return []string{answersKey(attemptID), visitedKey(attemptID), reviewKey(attemptID)}
}

// BackupSnapshot 用于刷新页面或崩溃后的恢复
type BackupSnapshot struct {
	AttemptID string             `json:"attemptId"`
	Answers   []model.UserAnswer `json:"answers"`
	Visited   []string           `json:"visited"`
	Review    []string           `json:"review"`
}

func encodeIDSet(set map[string]bool) (string, error) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b, err := json.Marshal(ids)
	return string(b), err
}

func readIDSet(ctx context.Context, store BackupStore, key string) (map[string]bool, error) {
	set := make(map[string]bool)
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return set, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return set, err
	}
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func setKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MemoryBackup 进程内实现，测试和单机模式使用
type MemoryBackup struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryBackup() *MemoryBackup {
	return &MemoryBackup{data: make(map[string]string)}
}

func (b *MemoryBackup) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackup) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *MemoryBackup) Remove(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}
