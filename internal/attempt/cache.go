package attempt

import (
	"context"
	"sync"
)

// MemoryCache 进程内快照缓存；未注入共享缓存时每个 Manager 持有一个
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*ExamSnapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*ExamSnapshot)}
}

func (c *MemoryCache) Get(_ context.Context, examID string) (*ExamSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[examID]
	return snap, ok
}

func (c *MemoryCache) Put(_ context.Context, snap *ExamSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[snap.Exam.ID] = snap
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*ExamSnapshot)
}

// Invalidate 删除某个考试的快照，题目变更后调用
func (c *MemoryCache) Invalidate(_ context.Context, examID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, examID)
	return nil
}
