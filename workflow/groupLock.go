package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/kardex_backend/kardex"
	"github.com/sirupsen/logrus"
)

var ErrGroupBusy = errors.New("group is being costed by another worker")

// LocalGroupLocker serializes passes over one group within this process.
type LocalGroupLocker struct {
	mu   sync.Mutex
	held map[kardex.GroupKey]chan struct{}
}

func NewLocalGroupLocker() *LocalGroupLocker {
	return &LocalGroupLocker{held: make(map[kardex.GroupKey]chan struct{})}
}

func (l *LocalGroupLocker) Lock(ctx context.Context, key kardex.GroupKey) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RedisGroupLocker adds a cross-instance lock on top of the in-process one.
// Redis is best-effort: when it is unavailable the pass continues under the
// local lock only. A lock held by another instance is reported as ErrGroupBusy.
// The Redis lock is refreshed while held so passes longer than the TTL keep it.
type RedisGroupLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	local  *LocalGroupLocker
	logger *logrus.Logger
}

func NewRedisGroupLocker(client *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisGroupLocker {
	return &RedisGroupLocker{
		client: client,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 20),
		local:  NewLocalGroupLocker(),
		logger: logger,
	}
}

func groupLockKey(key kardex.GroupKey) string {
	return fmt.Sprintf("lock:kardex:%s", key)
}

func (l *RedisGroupLocker) Lock(ctx context.Context, key kardex.GroupKey) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{"field": "RedisGroupLocker", "group": key.String()}
	if l.client == nil {
		l.logger.WithFields(fields).Warn("redis lock not ready; proceeding with local lock only")
		return unlockLocal, nil
	}

	lock, err := l.client.Obtain(ctx, groupLockKey(key), l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		unlockLocal()
		return nil, fmt.Errorf("%w: %s", ErrGroupBusy, key)
	}
	if err != nil {
		l.logger.WithFields(fields).Warn("error obtaining redis lock; proceeding with local lock only: " + err.Error())
		return unlockLocal, nil
	}
	stopRefresh := keepAlive(lock, l.ttl, l.logger.WithFields(fields))
	return func() {
		stopRefresh()
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
		}
		unlockLocal()
	}, nil
}

type refresher interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends the lock every ttl/3 until stop is called. A failed refresh
// is logged and ends the loop; the pass keeps its local lock.
func keepAlive(lock refresher, ttl time.Duration, log *logrus.Entry) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
				err := lock.Refresh(ctx, ttl, nil)
				cancel()
				if err != nil {
					log.Warn("redis lock refresh failed; cross-instance exclusion lost: " + err.Error())
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

var (
	_ kardex.GroupLocker = (*LocalGroupLocker)(nil)
	_ kardex.GroupLocker = (*RedisGroupLocker)(nil)
)
