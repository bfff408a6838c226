package scan

import (
	"context"

	"github.com/systmms/secretsweep/internal/store"
)

// Store is the message store as seen by the engine.
type Store interface {
	Count(ctx context.Context) (int, error)
	ReadAll(ctx context.Context) (Cursor, error)
	Update(ctx context.Context, id int64, content string) error
	Begin(ctx context.Context) (Tx, error)
}

// Cursor is a single-pass, id-ordered message stream.
type Cursor interface {
	Next() bool
	Message() store.Message
	Err() error
	Close() error
}

// Tx is one commit unit of updates.
type Tx interface {
	Update(ctx context.Context, id int64, content string) error
	Commit() error
	Rollback() error
}

// FromStore adapts a *store.Store for the engine. With pageSize > 0 messages
// are read in keyset pages instead of through one long-lived cursor.
func FromStore(s *store.Store, pageSize int) Store {
	return &storeAdapter{s: s, pageSize: pageSize}
}

type storeAdapter struct {
	s        *store.Store
	pageSize int
}

func (a *storeAdapter) Count(ctx context.Context) (int, error) {
	return a.s.Count(ctx)
}

func (a *storeAdapter) ReadAll(ctx context.Context) (Cursor, error) {
	if a.pageSize > 0 {
		return &pagedCursor{ctx: ctx, s: a.s, limit: a.pageSize}, nil
	}
	cur, err := a.s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (a *storeAdapter) Update(ctx context.Context, id int64, content string) error {
	return a.s.Update(ctx, id, content)
}

func (a *storeAdapter) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// pagedCursor walks the table with ReadPage, one page in memory at a time.
type pagedCursor struct {
	ctx   context.Context
	s     *store.Store
	limit int

	page  []store.Message
	pos   int
	after int64
	done  bool
	err   error
}

func (c *pagedCursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos++
	if c.pos < len(c.page) {
		return true
	}
	if c.done {
		return false
	}

	page, err := c.s.ReadPage(c.ctx, c.after, c.limit)
	if err != nil {
		c.err = err
		return false
	}
	if len(page) < c.limit {
		c.done = true
	}
	if len(page) == 0 {
		return false
	}
	c.page, c.pos = page, 0
	c.after = page[len(page)-1].ID
	return true
}

func (c *pagedCursor) Message() store.Message {
	return c.page[c.pos]
}

func (c *pagedCursor) Err() error {
	return c.err
}

func (c *pagedCursor) Close() error {
	c.page = nil
	return nil
}
