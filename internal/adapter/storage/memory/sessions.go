// Package memory keeps session records in process memory. Records are
// held as encoded JSON so callers never share a pointer with the store.
package memory

import (
	"context"
	"sync"

	"github.com/roushou/stepwise/internal/domain/session"
)

type SessionBackend struct {
	mu      sync.Mutex
	records map[string][]byte
	locks   map[string]chan struct{}
}

func NewSessionBackend() *SessionBackend {
	return &SessionBackend{
		records: make(map[string][]byte),
		locks:   make(map[string]chan struct{}),
	}
}

func (b *SessionBackend) Put(_ context.Context, s *session.Session) error {
	data, err := session.Encode(s)
	if err != nil {
		return session.NewStoreError(session.StoreErrorInvalidData, "memory.put", "encode session", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[s.Token] = data
	return nil
}

// PutRaw stores bytes as-is. Used to seed unreadable records.
func (b *SessionBackend) PutRaw(token string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[token] = append([]byte(nil), data...)
}

func (b *SessionBackend) Get(_ context.Context, token string) (*session.Session, error) {
	b.mu.Lock()
	data, ok := b.records[token]
	b.mu.Unlock()
	if !ok {
		return nil, session.NewStoreError(session.StoreErrorNotFound, "memory.get", "no session for token", nil)
	}
	s, err := session.Decode(data)
	if err != nil {
		return nil, session.NewStoreError(session.StoreErrorCorruptRecord, "memory.get", err.Error(), err)
	}
	return s, nil
}

func (b *SessionBackend) Remove(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[token]; !ok {
		return session.NewStoreError(session.StoreErrorNotFound, "memory.remove", "no session for token", nil)
	}
	delete(b.records, token)
	return nil
}

func (b *SessionBackend) Cleanup(_ context.Context, expired func(*session.Session) bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for token, data := range b.records {
		s, err := session.Decode(data)
		if err != nil || expired(s) {
			delete(b.records, token)
			removed++
		}
	}
	return removed, nil
}

func (b *SessionBackend) Lock(ctx context.Context, token string) (func(), error) {
	for {
		b.mu.Lock()
		held, busy := b.locks[token]
		if !busy {
			done := make(chan struct{})
			b.locks[token] = done
			b.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					b.mu.Lock()
					delete(b.locks, token)
					b.mu.Unlock()
					close(done)
				})
			}, nil
		}
		b.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, session.NewStoreError(session.StoreErrorUnavailable, "memory.lock", session.ErrLockHeld.Error(), ctx.Err())
		}
	}
}

// Len reports how many records are stored.
func (b *SessionBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
