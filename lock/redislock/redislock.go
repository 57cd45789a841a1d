// Package redislock implements lock.Locker on Redis with SET NX PX and an
// owner-checked release script.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/wallet/lock"
)

const (
	defaultPrefix     = "wallet:lock:"
	defaultRetryDelay = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of redis.Cmdable the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Locker implements lock.Locker.
type Locker struct {
	client     Client
	prefix     string
	retryDelay time.Duration
	wait       time.Duration
}

var _ lock.Locker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithWait makes Obtain poll for up to d before giving up with lock.ErrNotObtained.
func WithWait(d, retryDelay time.Duration) Option {
	return func(l *Locker) {
		l.wait = d
		if retryDelay > 0 {
			l.retryDelay = retryDelay
		}
	}
}

// New returns a Locker backed by client. A *redis.Client satisfies Client.
func New(client Client, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: client is required")
	}
	l := &Locker{
		client:     client,
		prefix:     defaultPrefix,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Obtain tries to own key for ttl.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	if ttl <= 0 {
		return nil, errors.New("redislock: ttl must be positive")
	}
	full := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: setnx %s: %w", full, err)
		}
		if ok {
			return &lease{client: l.client, key: full, token: token}, nil
		}
		if l.wait <= 0 || time.Now().After(deadline) {
			return nil, lock.ErrNotObtained
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type lease struct {
	client Client
	key    string
	token  string
}

// Release frees the key if the lease still owns it. An expired lease
// releases as a no-op.
func (le *lease) Release(ctx context.Context) error {
	if err := le.client.Eval(ctx, releaseScript, []string{le.key}, le.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redislock: release %s: %w", le.key, err)
	}
	return nil
}
