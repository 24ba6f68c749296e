package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/roushou/stepwise/internal/domain/runlog"
	"github.com/roushou/stepwise/internal/platform/fsutil"
)

// RunlogStore appends one JSON object per line. Lines that fail to
// decode are skipped on read and dropped on prune.
type RunlogStore struct {
	path string
	mu   sync.Mutex
}

func NewRunlogStore(path string) (*RunlogStore, error) {
	if path == "" {
		return nil, errors.New("runlog path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create runlog dir: %w", err)
	}
	return &RunlogStore{path: path}, nil
}

func (s *RunlogStore) Append(ctx context.Context, record runlog.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode runlog record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open runlog: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append runlog: %w", err)
	}
	return f.Close()
}

func (s *RunlogStore) List(_ context.Context) ([]runlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	runlog.SortByStart(records)
	return records, nil
}

func (s *RunlogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	records, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	deleted := 0
	for _, record := range records {
		if record.Timestamp().Before(cutoff) {
			deleted++
			continue
		}
		line, err := json.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("encode runlog record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := fsutil.WriteFileAtomic(s.path, buf.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("rewrite runlog: %w", err)
	}
	return deleted, nil
}

func (s *RunlogStore) readLocked() ([]runlog.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open runlog: %w", err)
	}
	defer f.Close()

	var out []runlog.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record runlog.Record
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan runlog: %w", err)
	}
	return out, nil
}

func (s *RunlogStore) lock(ctx context.Context) (func(), error) {
	lock := flock.New(s.path + lockExt)
	locked, err := lock.TryLockContext(ctx, defaultLockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock runlog: %w", err)
	}
	if !locked {
		return nil, errors.New("lock runlog: already held")
	}
	return func() { _ = lock.Unlock() }, nil
}
