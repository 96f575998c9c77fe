package breaker

import (
	"context"
	"sync"
)

// LocalStore 进程内状态存储
// 单实例部署用；多实例部署换 RedisStore
type LocalStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewLocalStore() *LocalStore {
	return &LocalStore{snaps: make(map[string]Snapshot)}
}

func (s *LocalStore) Load(_ context.Context, resource string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[resource], nil
}

// Update 在写锁内执行 fn，同一资源的读-改-写之间不会有并发写入穿插
func (s *LocalStore) Update(_ context.Context, resource string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snaps[resource]
	next, write := fn(snap)
	if !write {
		return snap, nil
	}
	s.snaps[resource] = next
	return next, nil
}
