package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/scrubber"
	"github.com/systmms/secretsweep/internal/store"
)

// memStore is an in-memory Store. Writes go straight to rows; a transaction
// buffers them until Commit.
type memStore struct {
	mu   sync.Mutex
	rows map[int64]store.Message

	updates   int
	commits   int
	rollbacks int

	failUpdate map[int64]error
	failCommit error
	onRead     func(id int64)
}

func newMemStore(msgs ...store.Message) *memStore {
	s := &memStore{rows: map[int64]store.Message{}, failUpdate: map[int64]error{}}
	for _, m := range msgs {
		s.rows[m.ID] = m
	}
	return s
}

func (s *memStore) content(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Content
}

func (s *memStore) snapshot() map[int64]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(s.rows))
	for id, m := range s.rows {
		out[id] = m.Content
	}
	return out
}

func (s *memStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

func (s *memStore) ReadAll(context.Context) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]store.Message, 0, len(s.rows))
	for _, m := range s.rows {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return &memCursor{msgs: msgs, pos: -1, onRead: s.onRead}, nil
}

func (s *memStore) Update(_ context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(id, content)
}

func (s *memStore) write(id int64, content string) error {
	if err := s.failUpdate[id]; err != nil {
		return err
	}
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("message %d not found", id)
	}
	m.Content, m.Null = content, false
	s.rows[id] = m
	s.updates++
	return nil
}

func (s *memStore) Begin(context.Context) (Tx, error) {
	return &memTx{s: s, pending: map[int64]string{}}, nil
}

type memTx struct {
	s       *memStore
	pending map[int64]string
	order   []int64
	done    bool
}

func (t *memTx) Update(_ context.Context, id int64, content string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.failUpdate[id]; err != nil {
		return err
	}
	t.pending[id] = content
	t.order = append(t.order, id)
	return nil
}

func (t *memTx) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return errors.New("tx done")
	}
	if t.s.failCommit != nil {
		return t.s.failCommit
	}
	for _, id := range t.order {
		if err := t.s.write(id, t.pending[id]); err != nil {
			return err
		}
	}
	t.done = true
	t.s.commits++
	return nil
}

func (t *memTx) Rollback() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.done {
		t.done = true
		t.s.rollbacks++
	}
	return nil
}

type memCursor struct {
	msgs   []store.Message
	pos    int
	onRead func(id int64)
}

func (c *memCursor) Next() bool {
	c.pos++
	if c.pos >= len(c.msgs) {
		return false
	}
	if c.onRead != nil {
		c.onRead(c.msgs[c.pos].ID)
	}
	return true
}

func (c *memCursor) Message() store.Message { return c.msgs[c.pos] }
func (c *memCursor) Err() error             { return nil }
func (c *memCursor) Close() error           { return nil }

// fakeScrubber replaces known literals, the way the real service does.
type fakeScrubber struct {
	mu      sync.Mutex
	secrets []string
	batches [][]string

	healthErr error
	// dropLast makes the response one text short.
	dropLast bool
	// failOn fails any batch containing this text.
	failOn string
}

func (f *fakeScrubber) URL() string { return "http://scrubber.test" }

func (f *fakeScrubber) Health(context.Context) (scrubber.Health, error) {
	if f.healthErr != nil {
		return scrubber.Health{}, f.healthErr
	}
	return scrubber.Health{Available: true, SecretsLoaded: len(f.secrets)}, nil
}

func (f *fakeScrubber) ScrubBatch(_ context.Context, texts []string) ([]string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if f.failOn != "" && t == f.failOn {
			return nil, errors.New("scrubber exploded")
		}
		for _, s := range f.secrets {
			t = strings.ReplaceAll(t, s, logging.RedactionMarker)
		}
		out = append(out, t)
	}
	if f.dropLast && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeScrubber) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}
