// Package store reads and rewrites the message table that secretsweep scans.
//
// The adapter issues plain parameterized SELECT/UPDATE statements through
// database/sql. PostgreSQL (lib/pq) is the default backend; MySQL/MariaDB
// (go-sql-driver/mysql) is supported for deployments that keep messages there.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	dserrors "github.com/systmms/secretsweep/internal/errors"
)

// DefaultTable is the message table scanned when none is configured.
const DefaultTable = "conversations_message"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds the connection parameters for the message store.
type Config struct {
	Driver   string // postgres | mysql (aliases: postgresql, mariadb)
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string // postgres only
	Table    string
}

// Message is a single stored message. Null marks a SQL NULL content column.
type Message struct {
	ID      int64
	Content string
	Null    bool
}

// Empty reports whether the message has no scannable content.
func (m Message) Empty() bool {
	return m.Null || m.Content == ""
}

// Store is the message store adapter.
type Store struct {
	db      *sql.DB
	dialect dialect
	table   string
}

// Open connects to the configured store and verifies the connection.
// An empty password is attempted as-is; authentication failures surface
// as StoreError.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, d.dsn(cfg))
	if err != nil {
		return nil, dserrors.StoreError{Op: "open", Err: err}
	}

	s, err := newStore(db, d, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open handle. driver selects the SQL dialect.
func New(db *sql.DB, driver, table string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, table)
}

func newStore(db *sql.DB, d dialect, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, dserrors.ConfigError{
			Field:      "store.table",
			Value:      table,
			Message:    "invalid table name",
			Suggestion: "Use a plain identifier such as conversations_message or schema.table",
		}
	}
	return &Store{db: db, dialect: d, table: d.quoteTable(table)}, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return dserrors.StoreError{Op: "connect", Err: err}
	}
	return nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of rows in the message table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	q := "SELECT COUNT(*) FROM " + s.table
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, dserrors.StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// ReadAll opens a single-pass cursor over every message ordered by id.
// Callers must Close the cursor.
func (s *Store) ReadAll(ctx context.Context) (*Cursor, error) {
	q := "SELECT id, content FROM " + s.table + " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, dserrors.StoreError{Op: "read", Err: err}
	}
	return &Cursor{rows: rows}, nil
}

// ReadPage returns up to limit messages with id > afterID, ordered by id.
func (s *Store) ReadPage(ctx context.Context, afterID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf("SELECT id, content FROM %s WHERE id > %s ORDER BY id LIMIT %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
	rows, err := s.db.QueryContext(ctx, q, afterID, limit)
	if err != nil {
		return nil, dserrors.StoreError{Op: "read page", Err: err}
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dserrors.StoreError{Op: "read page", Err: err}
	}
	return out, nil
}

// Update rewrites the content of one message and commits immediately.
func (s *Store) Update(ctx context.Context, id int64, content string) error {
	return s.update(ctx, s.db, id, content)
}

// Begin starts a transaction used to commit a batch of updates together.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dserrors.StoreError{Op: "begin", Err: err}
	}
	return &Tx{s: s, tx: tx}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) update(ctx context.Context, ex execer, id int64, content string) error {
	q := fmt.Sprintf("UPDATE %s SET content = %s WHERE id = %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
	res, err := ex.ExecContext(ctx, q, content, id)
	if err != nil {
		return dserrors.StoreError{Op: "update", ID: id, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dserrors.StoreError{Op: "update", ID: id, Err: err}
	}
	if n == 0 {
		return dserrors.StoreError{Op: "update", ID: id, Err: sql.ErrNoRows}
	}
	return nil
}

// Tx groups updates into one commit unit.
type Tx struct {
	s  *Store
	tx *sql.Tx
}

// Update queues a content rewrite inside the transaction.
func (t *Tx) Update(ctx context.Context, id int64, content string) error {
	return t.s.update(ctx, t.tx, id, content)
}

// Commit makes the queued updates durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return dserrors.StoreError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback discards the queued updates. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return dserrors.StoreError{Op: "rollback", Err: err}
	}
	return nil
}

// Cursor streams messages from ReadAll.
type Cursor struct {
	rows *sql.Rows
	cur  Message
	err  error
}

// Next advances to the next message.
func (c *Cursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	c.cur, c.err = scanMessage(c.rows)
	return c.err == nil
}

// Message returns the current message.
func (c *Cursor) Message() Message {
	return c.cur
}

// Err returns the first error hit while iterating.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return dserrors.StoreError{Op: "read", Err: err}
	}
	return nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m       Message
		content sql.NullString
	)
	if err := rows.Scan(&m.ID, &content); err != nil {
		return Message{}, dserrors.StoreError{Op: "scan", Err: err}
	}
	m.Content = content.String
	m.Null = !content.Valid
	return m, nil
}

// dialect captures the per-driver differences in DSN, placeholders and quoting.
type dialect struct {
	driver      string
	placeholder func(n int) string
	quoteIdent  func(s string) string
	dsn         func(cfg Config) string
}

func (d dialect) quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = d.quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

var postgresDialect = dialect{
	driver:      "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	quoteIdent:  pq.QuoteIdentifier,
	dsn:         postgresDSN,
}

var mysqlDialect = dialect{
	driver:      "mysql",
	placeholder: func(int) string { return "?" },
	quoteIdent:  func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	dsn:         mysqlDSN,
}

func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql":
		return postgresDialect, nil
	case "mysql", "mariadb":
		return mysqlDialect, nil
	default:
		return dialect{}, dserrors.ConfigError{
			Field:      "store.driver",
			Value:      driver,
			Message:    "unsupported database driver",
			Suggestion: "Use one of: postgres, mysql",
		}
	}
}

func postgresDSN(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	return u.String()
}

func mysqlDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	return mc.FormatDSN()
}
