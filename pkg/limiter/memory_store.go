package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore 进程内令牌桶，按 key 维护限流器，长时间未访问的 key 会被清理
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryStore 创建内存存储，ttl 为 key 的闲置保留时间
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	interval := ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Get 获取或创建 key 对应的限流器
func (s *MemoryStore) Get(key string, r rate.Limit, burst int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	lim := rate.NewLimiter(r, burst)
	s.entries[key] = &memoryEntry{limiter: lim, lastSeen: now}
	return lim
}

// Len 当前 key 数量
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evict 清理闲置超过 ttl 的 key，返回清理数量
func (s *MemoryStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for key, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RunJanitor 定期清理，直到 ctx 取消
func (s *MemoryStore) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}
