package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count int
	last  time.Time
}

// MemoryLimiter 进程内实现，仅适用于单实例部署。
// 同一个 key 的读改写在锁内完成。
type MemoryLimiter struct {
	mu      sync.Mutex
	policy  Policy
	now     func() time.Time
	entries map[string]*entry
}

func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  policy,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// WithClock 替换时钟，测试用。
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Check(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.lookup(key)
	if e == nil {
		return nil
	}
	if left := l.policy.cooldownLeft(e.count, e.last, l.now()); left > 0 {
		return &LimitedError{RetryAfter: left}
	}
	return nil
}

func (l *MemoryLimiter) Fail(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.lookup(key)
	if e == nil {
		e = &entry{}
		l.entries[key] = e
	}
	e.count++
	e.last = l.now()
	if e.count >= l.policy.MaxFailures {
		return &LimitedError{RetryAfter: l.policy.Cooldown}
	}
	return nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Len 当前记录数。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// lookup 取记录，闲置超过 StateTTL 的记录顺手丢弃。调用方需持有锁。
func (l *MemoryLimiter) lookup(key string) *entry {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if l.policy.StateTTL > 0 && l.now().Sub(e.last) >= l.policy.StateTTL {
		delete(l.entries, key)
		return nil
	}
	return e
}
