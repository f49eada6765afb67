// Package locks - блокировки "только один экземпляр выполняет задачу" (sweeper).
package locks

import (
	"context"
	"sync"
	"time"
)

type Locker interface {
	// TryAcquire не ждет: если блокировка занята, acquired == false
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// LocalLocker - для одного процесса (Redis не настроен)
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]time.Time{}, now: time.Now}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// не снимаем чужую блокировку, взятую после истечения TTL
			if l.held[key].Equal(until) {
				delete(l.held, key)
			}
		})
	}
	return release, true, nil
}
