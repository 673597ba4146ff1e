package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/advisory"
)

var _ advisory.Locker = (*Locker)(nil)

// ErrLeaseLost is returned when a renewal finds the lease expired or taken
// by another locker.
var ErrLeaseLost = errors.New("courier/redis: lease lost")

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lease duration. Defaults to 30s.
func WithTTL(d time.Duration) Option {
	return func(l *Locker) { l.ttl = d }
}

// WithRetryInterval sets how often a blocking acquire retries. Defaults to
// 100ms.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) { l.retry = d }
}

// WithPrefix replaces the "courier:" key prefix.
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// Locker is a leased-mutex advisory.Locker. Holds are not reentrant: a
// second TryGetGlobalLock on an id this Locker already holds reports false,
// so two goroutines of one node sharing a Locker still exclude each other.
type Locker struct {
	client goredis.Cmdable
	token  string
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocker creates a Locker with a random token.
func NewLocker(client goredis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		token:  newToken(),
		prefix: keyPrefix,
		ttl:    30 * time.Second,
		retry:  100 * time.Millisecond,
		logger: slog.Default(),
		held:   make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// TTL returns the lease duration.
func (l *Locker) TTL() time.Duration { return l.ttl }

// TryGetGlobalLock acquires a lease on id without blocking.
func (l *Locker) TryGetGlobalLock(ctx context.Context, id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[id]; ok {
		return false, nil
	}

	ok, err := l.client.SetNX(ctx, lockKey(l.prefix, id), l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("courier/redis: setnx lock %d: %w", id, err)
	}
	if ok {
		l.held[id] = struct{}{}
	}
	return ok, nil
}

// GetGlobalLock polls until the lease on id is acquired or ctx is done.
func (l *Locker) GetGlobalLock(ctx context.Context, id int64) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.TryGetGlobalLock(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReleaseGlobalLock deletes the key for id when the lease is still ours.
func (l *Locker) ReleaseGlobalLock(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[id]; !ok {
		l.logger.Warn("advisory lock was not held", slog.Int64("lock_id", id))
		return nil
	}
	delete(l.held, id)
	return l.release(ctx, id)
}

func (l *Locker) release(ctx context.Context, id int64) error {
	n, err := releaseScript.Run(ctx, l.client, []string{lockKey(l.prefix, id)}, l.token).Int()
	if err != nil {
		return fmt.Errorf("courier/redis: release lock %d: %w", id, err)
	}
	if n == 0 {
		l.logger.Warn("lease expired before release", slog.Int64("lock_id", id))
	}
	return nil
}

// Renew extends every held lease by the TTL. Leases found expired or
// taken are dropped and reported through ErrLeaseLost.
func (l *Locker) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lost []int64
	for id := range l.held {
		n, err := renewScript.Run(ctx, l.client,
			[]string{lockKey(l.prefix, id)}, l.token, l.ttl.Milliseconds(),
		).Int()
		if err != nil {
			return fmt.Errorf("courier/redis: renew lock %d: %w", id, err)
		}
		if n == 0 {
			lost = append(lost, id)
		}
	}
	for _, id := range lost {
		delete(l.held, id)
	}
	if len(lost) > 0 {
		return fmt.Errorf("%w: %v", ErrLeaseLost, lost)
	}
	return nil
}

// KeepAlive renews held leases every third of the TTL until ctx is done.
func (l *Locker) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				l.logger.Warn("lease renewal failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close releases every lease still held.
func (l *Locker) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id := range l.held {
		if err := l.release(ctx, id); err != nil {
			errs = append(errs, err)
		}
		delete(l.held, id)
	}
	return errors.Join(errs...)
}
