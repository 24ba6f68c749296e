// Package file stores sessions, workflow definitions and the action
// runlog as plain files under the state directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/roushou/stepwise/internal/domain/session"
	"github.com/roushou/stepwise/internal/platform/fsutil"
)

const (
	sessionExt = ".json"
	lockExt    = ".lock"
	locksDir   = "locks"

	defaultLockRetry = 25 * time.Millisecond
)

// SessionBackend keeps one <token>.json record per session. Writes go
// through write-then-rename. Each token's advisory lock file lives under
// locks/ so the session directory itself holds only records.
type SessionBackend struct {
	dir       string
	lockRetry time.Duration
}

func NewSessionBackend(dir string) (*SessionBackend, error) {
	if dir == "" {
		return nil, errors.New("session dir cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, locksDir), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &SessionBackend{dir: dir, lockRetry: defaultLockRetry}, nil
}

func (b *SessionBackend) Dir() string {
	return b.dir
}

func (b *SessionBackend) recordPath(token string) string {
	return filepath.Join(b.dir, token+sessionExt)
}

func (b *SessionBackend) lockPath(token string) string {
	return filepath.Join(b.dir, locksDir, token+lockExt)
}

func (b *SessionBackend) Put(_ context.Context, s *session.Session) error {
	data, err := session.Encode(s)
	if err != nil {
		return session.NewStoreError(session.StoreErrorInvalidData, "file.put", "encode session", err)
	}
	if err := fsutil.WriteFileAtomic(b.recordPath(s.Token), data, 0o600); err != nil {
		return session.NewStoreError(session.StoreErrorUnavailable, "file.put", "write session", err)
	}
	return nil
}

func (b *SessionBackend) Get(_ context.Context, token string) (*session.Session, error) {
	data, err := os.ReadFile(b.recordPath(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, session.NewStoreError(session.StoreErrorNotFound, "file.get", "no session for token", nil)
		}
		return nil, session.NewStoreError(session.StoreErrorUnavailable, "file.get", "read session", err)
	}
	s, err := session.Decode(data)
	if err != nil {
		return nil, session.NewStoreError(session.StoreErrorCorruptRecord, "file.get", err.Error(), err)
	}
	if s.Token != token {
		return nil, session.NewStoreError(session.StoreErrorCorruptRecord, "file.get", "record token does not match file name", nil)
	}
	return s, nil
}

func (b *SessionBackend) Remove(_ context.Context, token string) error {
	err := os.Remove(b.recordPath(token))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return session.NewStoreError(session.StoreErrorNotFound, "file.remove", "no session for token", nil)
		}
		return session.NewStoreError(session.StoreErrorUnavailable, "file.remove", "remove session", err)
	}
	return nil
}

func (b *SessionBackend) Cleanup(ctx context.Context, expired func(*session.Session) bool) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, session.NewStoreError(session.StoreErrorUnavailable, "file.cleanup", "list session dir", err)
	}

	removed := 0
	live := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || fsutil.IsTemp(name) {
			continue
		}
		if !strings.HasSuffix(name, sessionExt) {
			continue
		}
		token := strings.TrimSuffix(name, sessionExt)
		path := filepath.Join(b.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, session.NewStoreError(session.StoreErrorUnavailable, "file.cleanup", "read session", err)
		}
		s, decodeErr := session.Decode(data)
		if decodeErr == nil && !expired(s) {
			live[token] = struct{}{}
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, session.NewStoreError(session.StoreErrorUnavailable, "file.cleanup", "remove session", err)
		}
		removed++
	}

	b.removeOrphanLocks(live)
	return removed, nil
}

// removeOrphanLocks drops lock files whose token has no live record.
func (b *SessionBackend) removeOrphanLocks(live map[string]struct{}) {
	entries, err := os.ReadDir(filepath.Join(b.dir, locksDir))
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, lockExt) {
			continue
		}
		if _, ok := live[strings.TrimSuffix(name, lockExt)]; ok {
			continue
		}
		_ = os.Remove(filepath.Join(b.dir, locksDir, name))
	}
}

// Lock takes the token's advisory file lock, retrying until ctx ends. A
// token without a record is reported as not found so no lock file is
// created for it.
func (b *SessionBackend) Lock(ctx context.Context, token string) (func(), error) {
	if _, err := os.Stat(b.recordPath(token)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, session.NewStoreError(session.StoreErrorNotFound, "file.lock", "no session for token", nil)
		}
		return nil, session.NewStoreError(session.StoreErrorUnavailable, "file.lock", "stat session", err)
	}
	lock := flock.New(b.lockPath(token))
	locked, err := lock.TryLockContext(ctx, b.lockRetry)
	if err != nil {
		return nil, session.NewStoreError(session.StoreErrorUnavailable, "file.lock", session.ErrLockHeld.Error(), err)
	}
	if !locked {
		return nil, session.NewStoreError(session.StoreErrorUnavailable, "file.lock", session.ErrLockHeld.Error(), nil)
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}
