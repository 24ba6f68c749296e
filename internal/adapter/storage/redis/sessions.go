// Package redis stores session records in Redis so several stepwise
// processes can share one set of continuation tokens.
package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roushou/stepwise/internal/domain/session"
	"github.com/roushou/stepwise/internal/platform/identity"
)

const (
	defaultPrefix    = "stepwise:"
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 25 * time.Millisecond

	// expiredGrace keeps a record readable for a while after it expires
	// so Load can still tell an expired token from an unknown one.
	expiredGrace = 24 * time.Hour
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Option func(*SessionBackend)

func WithKeyPrefix(prefix string) Option {
	return func(b *SessionBackend) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(b *SessionBackend) {
		if ttl > 0 {
			b.lockTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *SessionBackend) {
		if now != nil {
			b.now = now
		}
	}
}

// SessionBackend implements session.Backend. The caller owns the client.
type SessionBackend struct {
	client    goredis.Cmdable
	prefix    string
	lockTTL   time.Duration
	lockRetry time.Duration
	now       func() time.Time
}

func NewSessionBackend(client goredis.Cmdable, opts ...Option) *SessionBackend {
	b := &SessionBackend{
		client:    client,
		prefix:    defaultPrefix,
		lockTTL:   defaultLockTTL,
		lockRetry: defaultLockRetry,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SessionBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *SessionBackend) Put(ctx context.Context, s *session.Session) error {
	data, err := session.Encode(s)
	if err != nil {
		return session.NewStoreError(session.StoreErrorInvalidData, "redis.put", "encode session", err)
	}
	ttl := s.ExpiresAt.Sub(b.now()) + expiredGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.sessionKey(s.Token), data, ttl)
	pipe.SAdd(ctx, b.indexKey(), s.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return session.NewStoreError(session.StoreErrorUnavailable, "redis.put", "write session", err)
	}
	return nil
}

func (b *SessionBackend) Get(ctx context.Context, token string) (*session.Session, error) {
	data, err := b.client.Get(ctx, b.sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, session.NewStoreError(session.StoreErrorNotFound, "redis.get", "no session for token", nil)
		}
		return nil, session.NewStoreError(session.StoreErrorUnavailable, "redis.get", "read session", err)
	}
	s, err := session.Decode(data)
	if err != nil {
		return nil, session.NewStoreError(session.StoreErrorCorruptRecord, "redis.get", err.Error(), err)
	}
	return s, nil
}

func (b *SessionBackend) Remove(ctx context.Context, token string) error {
	pipe := b.client.TxPipeline()
	del := pipe.Del(ctx, b.sessionKey(token))
	pipe.SRem(ctx, b.indexKey(), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return session.NewStoreError(session.StoreErrorUnavailable, "redis.remove", "delete session", err)
	}
	if del.Val() == 0 {
		return session.NewStoreError(session.StoreErrorNotFound, "redis.remove", "no session for token", nil)
	}
	return nil
}

// Cleanup walks the token index. Tokens whose key Redis already evicted
// are dropped from the index without being counted.
func (b *SessionBackend) Cleanup(ctx context.Context, expired func(*session.Session) bool) (int, error) {
	tokens, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return 0, session.NewStoreError(session.StoreErrorUnavailable, "redis.cleanup", "list sessions", err)
	}
	removed := 0
	for _, token := range tokens {
		data, err := b.client.Get(ctx, b.sessionKey(token)).Bytes()
		if errors.Is(err, goredis.Nil) {
			if err := b.client.SRem(ctx, b.indexKey(), token).Err(); err != nil {
				return removed, session.NewStoreError(session.StoreErrorUnavailable, "redis.cleanup", "prune index", err)
			}
			continue
		}
		if err != nil {
			return removed, session.NewStoreError(session.StoreErrorUnavailable, "redis.cleanup", "read session", err)
		}
		s, decodeErr := session.Decode(data)
		if decodeErr == nil && !expired(s) {
			continue
		}
		if err := b.Remove(ctx, token); err != nil {
			if session.IsStoreErrorCode(err, session.StoreErrorNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Lock acquires {prefix}lock:{token} with SET NX PX. While held, the lock's
// TTL is renewed every third of lockTTL so a slow executor call keeps it.
// It expires on its own if the holder dies, and release only deletes a
// lock it still owns.
func (b *SessionBackend) Lock(ctx context.Context, token string) (func(), error) {
	owner := identity.NewID()
	key := b.lockKey(token)
	for {
		ok, err := b.client.SetNX(ctx, key, owner, b.lockTTL).Result()
		if err != nil {
			return nil, session.NewStoreError(session.StoreErrorUnavailable, "redis.lock", "acquire lock", err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go b.keepLock(context.WithoutCancel(ctx), key, owner, stop, done)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, b.client, []string{key}, owner).Err()
				})
			}, nil
		}

		timer := time.NewTimer(b.lockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, session.NewStoreError(session.StoreErrorUnavailable, "redis.lock", session.ErrLockHeld.Error(), ctx.Err())
		case <-timer.C:
		}
	}
}

// keepLock renews the lock until stop closes or ownership is lost.
func (b *SessionBackend) keepLock(ctx context.Context, key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := b.lockTTL / 3
	if interval <= 0 {
		interval = b.lockTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, interval)
			held, err := extendScript.Run(extendCtx, b.client, []string{key}, owner, b.lockTTL.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}
