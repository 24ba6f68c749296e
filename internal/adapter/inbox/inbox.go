// Package inbox is a directory-backed mailbox that serves as both the item
// source and the action executor. Each message is <dir>/<id>.json.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roushou/stepwise/internal/domain/item"
	"github.com/roushou/stepwise/internal/platform/fsutil"
)

const (
	FolderInbox   = "inbox"
	FolderArchive = "archive"
)

var (
	ErrMessageNotFound = errors.New("message not found")

	idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

type Reply struct {
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Body    string    `json:"body,omitempty"`
	Date    time.Time `json:"date"`
	Folder  string    `json:"folder"`
	Read    bool      `json:"read"`
	Labels  []string  `json:"labels,omitempty"`
	Replies []Reply   `json:"replies,omitempty"`
}

type Mailbox struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) (*Mailbox, error) {
	if dir == "" {
		return nil, errors.New("inbox dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	return &Mailbox{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

var (
	_ item.Source   = (*Mailbox)(nil)
	_ item.Executor = (*Mailbox)(nil)
)

// Put stores a message, filling in defaults for folder and date.
func (m *Mailbox) Put(msg Message) error {
	if !idPattern.MatchString(msg.ID) {
		return fmt.Errorf("invalid message id %q", msg.ID)
	}
	if msg.Folder == "" {
		msg.Folder = FolderInbox
	}
	if msg.Date.IsZero() {
		msg.Date = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(msg)
}

func (m *Mailbox) Get(id string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(id)
}

// Search returns ids of messages matching query, oldest first with ties
// broken by id.
func (m *Mailbox) Search(ctx context.Context, query string) ([]string, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	var matches []Message
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || fsutil.IsTemp(name) || !strings.HasSuffix(name, ".json") {
			continue
		}
		msg, err := m.readLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if q.Match(msg) {
			matches = append(matches, msg)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Date.Equal(matches[j].Date) {
			return matches[i].Date.Before(matches[j].Date)
		}
		return matches[i].ID < matches[j].ID
	})
	ids := make([]string, len(matches))
	for i, msg := range matches {
		ids[i] = msg.ID
	}
	return ids, nil
}

func (m *Mailbox) View(_ context.Context, id string) (item.Snapshot, error) {
	msg, err := m.Get(id)
	if err != nil {
		return item.Snapshot{}, err
	}
	return snapshot(msg), nil
}

// Reply appends a reply and marks the message read. Repeating the same
// reply body is a no-op so a retried reply is not sent twice.
func (m *Mailbox) Reply(_ context.Context, id string, payload map[string]any) error {
	body, _ := payload["body"].(string)
	if strings.TrimSpace(body) == "" {
		return errors.New("reply body cannot be empty")
	}
	return m.update(id, func(msg *Message) {
		if n := len(msg.Replies); n == 0 || msg.Replies[n-1].Body != body {
			msg.Replies = append(msg.Replies, Reply{Body: body, SentAt: m.now()})
		}
		msg.Read = true
	})
}

func (m *Mailbox) Archive(_ context.Context, id string) error {
	return m.update(id, func(msg *Message) {
		msg.Folder = FolderArchive
		msg.Read = true
	})
}

func (m *Mailbox) MarkHandled(_ context.Context, id string) error {
	return m.update(id, func(msg *Message) {
		msg.Read = true
	})
}

func (m *Mailbox) update(id string, apply func(*Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, err := m.readLocked(id)
	if err != nil {
		return err
	}
	apply(&msg)
	return m.writeLocked(msg)
}

func (m *Mailbox) readLocked(id string) (Message, error) {
	if !idPattern.MatchString(id) {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	raw, err := os.ReadFile(filepath.Join(m.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return Message{}, fmt.Errorf("read message %s: %w", id, err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message %s: %w", id, err)
	}
	msg.ID = id
	if msg.Folder == "" {
		msg.Folder = FolderInbox
	}
	return msg, nil
}

func (m *Mailbox) writeLocked(msg Message) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(m.dir, msg.ID+".json"), data, 0o600)
}

func snapshot(msg Message) item.Snapshot {
	fields := map[string]any{
		"from":    msg.From,
		"subject": msg.Subject,
		"date":    msg.Date.Format(time.RFC3339),
		"folder":  msg.Folder,
		"read":    msg.Read,
	}
	if msg.To != "" {
		fields["to"] = msg.To
	}
	if msg.Body != "" {
		fields["body"] = msg.Body
	}
	if len(msg.Labels) > 0 {
		fields["labels"] = append([]string(nil), msg.Labels...)
	}
	if len(msg.Replies) > 0 {
		fields["replies"] = len(msg.Replies)
	}
	return item.Snapshot{ID: msg.ID, Fields: fields}
}
