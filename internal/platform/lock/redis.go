// Package lock guards critical sections that must run on a single replica.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the lock.
var ErrBusy = errors.New("lock: held by another process")

// Locker obtains named Redis locks.
type Locker struct {
	client *redislock.Client
	prefix string
}

// New constructs a Locker. Keys are stored as "<prefix>:<name>".
func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: redislock.New(client), prefix: prefix}
}

// Key builds the full redis key for name.
func (l *Locker) Key(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

// Run executes fn while holding the named lock. The lock is refreshed at half its
// TTL so long runs keep ownership; fn's context is cancelled if a refresh fails.
func (l *Locker) Run(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	held, err := l.client.Obtain(ctx, l.Key(name), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrBusy, name)
	}
	if err != nil {
		return fmt.Errorf("lock: obtain %s: %w", name, err)
	}
	defer func() {
		_ = held.Release(context.WithoutCancel(ctx))
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := held.Refresh(runCtx, ttl, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return fn(runCtx)
}
