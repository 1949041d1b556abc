package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker is the in-process Locker used when Redis is disabled. It only guards runs
// inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	now   func() time.Time
	token uint64
	owner map[string]uint64
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]time.Time),
		owner: make(map[string]uint64),
		now:   time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[name]; ok && now.Before(exp) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}

	m.token++
	tok := m.token
	m.held[name] = now.Add(ttl)
	m.owner[name] = tok

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.owner[name] == tok {
				delete(m.held, name)
				delete(m.owner, name)
			}
		})
	}, nil
}

// MemoryZipCache keeps resolved location ZIPs for the life of the process.
type MemoryZipCache struct {
	mu   sync.RWMutex
	zips map[string][]string
}

func NewMemoryZipCache() *MemoryZipCache {
	return &MemoryZipCache{zips: make(map[string][]string)}
}

func (m *MemoryZipCache) GetZips(ctx context.Context, location string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zips[location]
	return z, ok, nil
}

func (m *MemoryZipCache) SetZips(ctx context.Context, location string, zips []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zips[location] = append([]string(nil), zips...)
	return nil
}
