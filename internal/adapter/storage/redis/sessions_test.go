package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/roushou/stepwise/internal/domain/session"
	"github.com/roushou/stepwise/internal/platform/identity"
)

func newTestBackend(t *testing.T, now func() time.Time) (*SessionBackend, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionBackend(client, WithKeyPrefix("test:"), WithLockTTL(time.Second), WithClock(now)), srv
}

func newRedisSession(t *testing.T, createdAt time.Time) *session.Session {
	t.Helper()
	token, err := identity.NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	return session.New(token, "wf", "q", []string{"a", "b"}, false, createdAt, time.Hour)
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	backend, srv := newTestBackend(t, func() time.Time { return now })

	s := newRedisSession(t, now)
	if err := backend.Put(ctx, s); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !srv.Exists("test:session:" + s.Token) {
		t.Fatal("expected prefixed session key")
	}
	if ttl := srv.TTL("test:session:" + s.Token); ttl <= time.Hour {
		t.Fatalf("expected ttl to include grace period, got %v", ttl)
	}

	loaded, err := backend.Get(ctx, s.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Token != s.Token || len(loaded.ItemIDs) != 2 {
		t.Fatalf("unexpected session %+v", loaded)
	}

	if err := backend.Remove(ctx, s.Token); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := backend.Get(ctx, s.Token); !session.IsStoreErrorCode(err, session.StoreErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := backend.Remove(ctx, s.Token); !session.IsStoreErrorCode(err, session.StoreErrorNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestRedisBackendCorruptRecord(t *testing.T) {
	ctx := context.Background()
	backend, srv := newTestBackend(t, nil)
	if err := srv.Set("test:session:bad", "{oops"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := backend.Get(ctx, "bad"); !session.IsStoreErrorCode(err, session.StoreErrorCorruptRecord) {
		t.Fatalf("expected corrupt record, got %v", err)
	}
}

func TestRedisBackendCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	backend, srv := newTestBackend(t, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if err := backend.Put(ctx, newRedisSession(t, now.Add(-2*time.Hour))); err != nil {
			t.Fatalf("put expired: %v", err)
		}
	}
	live := newRedisSession(t, now)
	if err := backend.Put(ctx, live); err != nil {
		t.Fatalf("put live: %v", err)
	}
	if err := srv.Set("test:session:corrupt", "nope"); err != nil {
		t.Fatalf("seed corrupt: %v", err)
	}
	if _, err := srv.SAdd("test:sessions", "corrupt", "evicted"); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	removed, err := backend.Cleanup(ctx, func(s *session.Session) bool { return s.IsExpiredAt(now) })
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	members, err := srv.Members("test:sessions")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != live.Token {
		t.Fatalf("unexpected index after cleanup %v", members)
	}
}

func TestRedisBackendLock(t *testing.T) {
	ctx := context.Background()
	backend, srv := newTestBackend(t, nil)

	unlock, err := backend.Lock(ctx, "tok")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	if _, err := backend.Lock(waitCtx, "tok"); !session.IsStoreErrorCode(err, session.StoreErrorUnavailable) {
		t.Fatalf("expected contention, got %v", err)
	}

	unlock()
	if srv.Exists("test:lock:tok") {
		t.Fatal("expected lock key to be released")
	}
	again, err := backend.Lock(ctx, "tok")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRedisBackendUnlockDoesNotStealForeignLock(t *testing.T) {
	ctx := context.Background()
	backend, srv := newTestBackend(t, nil)

	unlock, err := backend.Lock(ctx, "tok")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	srv.FastForward(2 * time.Second)
	other, err := backend.Lock(ctx, "tok")
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	unlock()
	if !srv.Exists("test:lock:tok") {
		t.Fatal("stale unlock removed the new holder's lock")
	}
	other()
}

func TestRedisBackendLockRenewsWhileHeld(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	const lockTTL = 150 * time.Millisecond
	backend := NewSessionBackend(client, WithKeyPrefix("test:"), WithLockTTL(lockTTL))

	unlock, err := backend.Lock(ctx, "tok")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Run the lock close to expiry twice; renewal must push it back each time.
	for i := 0; i < 2; i++ {
		srv.FastForward(lockTTL - 30*time.Millisecond)
		time.Sleep(2 * lockTTL / 3)
		if !srv.Exists("test:lock:tok") {
			t.Fatalf("lock expired while held (round %d)", i)
		}
		if ttl := srv.TTL("test:lock:tok"); ttl < lockTTL/2 {
			t.Fatalf("expected renewed ttl, got %v (round %d)", ttl, i)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	if _, err := backend.Lock(waitCtx, "tok"); !session.IsStoreErrorCode(err, session.StoreErrorUnavailable) {
		t.Fatalf("expected contention on renewed lock, got %v", err)
	}

	unlock()
	unlock()
	time.Sleep(lockTTL / 2)
	if srv.Exists("test:lock:tok") {
		t.Fatal("expected lock released and no longer renewed")
	}
}
