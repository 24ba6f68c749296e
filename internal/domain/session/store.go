package session

import (
	"context"
	"errors"
	"time"

	"github.com/roushou/stepwise/internal/platform/identity"
)

const DefaultTTL = time.Hour

// Backend is the persistence port. Put is a full overwrite and must be
// atomic with respect to concurrent readers. Get returns a StoreError
// coded not_found when the token has no record and corrupt_record when
// the record cannot be decoded.
type Backend interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Remove(ctx context.Context, token string) error
	// Cleanup removes every record for which expired returns true, plus
	// records that cannot be decoded, and returns how many were removed.
	Cleanup(ctx context.Context, expired func(*Session) bool) (int, error)
	// Lock serializes work on one token across processes sharing the
	// backend. The returned func releases the lock.
	Lock(ctx context.Context, token string) (func(), error)
}

type StoreConfig struct {
	TTL      time.Duration
	Now      func() time.Time
	NewToken func() (string, error)
}

// Store layers token minting, expiry and lazy purge over a Backend.
type Store struct {
	backend  Backend
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

func NewStore(backend Backend, cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewToken == nil {
		cfg.NewToken = identity.NewToken
	}
	return &Store{
		backend:  backend,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		newToken: cfg.NewToken,
	}
}

// TTL is the lifetime given to every session this store creates.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) Create(ctx context.Context, workflowID, query string, itemIDs []string, skipMarksHandled bool) (*Session, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, NewStoreError(StoreErrorUnavailable, "session.create", "generate token", err)
	}
	sess := New(token, workflowID, query, itemIDs, skipMarksHandled, s.now(), s.ttl)
	if err := s.backend.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load returns the live session for token. An expired record is removed
// before the expired error is returned, so a second Load reports
// not_found.
func (s *Store) Load(ctx context.Context, token string) (*Session, error) {
	if !identity.ValidToken(token) {
		return nil, NewStoreError(StoreErrorNotFound, "session.load", "malformed token", nil)
	}
	sess, err := s.backend.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.IsExpiredAt(s.now()) {
		if removeErr := s.backend.Remove(ctx, token); removeErr != nil {
			return nil, removeErr
		}
		return nil, NewStoreError(StoreErrorExpired, "session.load", "session expired at "+sess.ExpiresAt.Format(time.RFC3339), nil)
	}
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return NewStoreError(StoreErrorInvalidData, "session.save", "session cannot be nil", nil)
	}
	if err := sess.Validate(); err != nil {
		return NewStoreError(StoreErrorInvalidData, "session.save", err.Error(), err)
	}
	return s.backend.Put(ctx, sess)
}

// Delete is a no-op for unknown or malformed tokens.
func (s *Store) Delete(ctx context.Context, token string) error {
	if !identity.ValidToken(token) {
		return nil
	}
	err := s.backend.Remove(ctx, token)
	if IsStoreErrorCode(err, StoreErrorNotFound) {
		return nil
	}
	return err
}

func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()
	return s.backend.Cleanup(ctx, func(sess *Session) bool {
		return sess.IsExpiredAt(now)
	})
}

func (s *Store) Lock(ctx context.Context, token string) (func(), error) {
	if !identity.ValidToken(token) {
		return nil, NewStoreError(StoreErrorNotFound, "session.lock", "malformed token", nil)
	}
	return s.backend.Lock(ctx, token)
}

// ErrLockHeld is returned by backends when a lock cannot be taken before
// the context ends.
var ErrLockHeld = errors.New("session is locked by another caller")
