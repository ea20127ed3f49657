package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld indicates another holder owns the lock.
	ErrLockHeld = errors.New("lock already held")
	// ErrLockLost indicates the lock expired or was taken over.
	ErrLockLost = errors.New("lock lost")
)

// StatementLockKey builds the redis key guarding a consolidation run.
func StatementLockKey(statementID uuid.UUID) string {
	return fmt.Sprintf("consol:statement:%s:lock", statementID)
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker hands out token locks backed by SET NX PX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker constructs a locker. A non-positive ttl defaults to ten minutes.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	local  func()
}

// Key returns the redis key of the lock.
func (l *Lock) Key() string {
	return l.key
}

// TTL returns the expiry set on acquire and extend. Local locks never expire
// and report zero.
func (l *Lock) TTL() time.Duration {
	if l == nil {
		return 0
	}
	return l.ttl
}

// Acquire takes the lock or returns ErrLockHeld.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (*Lock, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	return &Lock{client: r.client, key: key, token: token, ttl: r.ttl}, nil
}

// Extend resets the expiry to the full ttl. It returns ErrLockLost when the
// key expired or belongs to another holder.
func (l *Lock) Extend(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", l.key, ErrLockLost)
	}
	return nil
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if l.local != nil {
		l.local()
		l.local = nil
		return nil
	}
	if l.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// LocalLocker guards keys within one process. It backs single-binary
// deployments and tests running without redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire takes the key or returns ErrLockHeld.
func (l *LocalLocker) Acquire(_ context.Context, key string) (*Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	l.held[key] = struct{}{}
	return &Lock{key: key, local: func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}}, nil
}
