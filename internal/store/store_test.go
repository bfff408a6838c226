package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/secretsweep/internal/errors"
)

func newMock(t *testing.T, driver string) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, driver, "")
	require.NoError(t, err)
	return s, mock
}

func TestCount(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t, "postgres")
	mock.ExpectQuery(`SELECT COUNT(*) FROM "conversations_message"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount_Error(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t, "postgres")
	mock.ExpectQuery(`SELECT COUNT(*) FROM "conversations_message"`).
		WillReturnError(fmt.Errorf("password authentication failed"))

	_, err := s.Count(context.Background())
	require.Error(t, err)
	assert.True(t, dserrors.IsStoreError(err))
	assert.Contains(t, err.Error(), "password authentication failed")
}

func TestReadAll_StreamsInOrder(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t, "postgres")
	mock.ExpectQuery(`SELECT id, content FROM "conversations_message" ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}).
			AddRow(1, "hello").
			AddRow(2, nil).
			AddRow(3, ""))

	cur, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	defer cur.Close()

	var got []Message
	for cur.Next() {
		got = append(got, cur.Message())
	}
	require.NoError(t, cur.Err())

	require.Len(t, got, 3)
	assert.Equal(t, Message{ID: 1, Content: "hello"}, got[0])
	assert.True(t, got[1].Null)
	assert.True(t, got[1].Empty())
	assert.True(t, got[2].Empty())
	assert.False(t, got[0].Empty())
}

func TestReadAll_RowError(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t, "postgres")
	mock.ExpectQuery(`SELECT id, content FROM "conversations_message" ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}).
			AddRow(1, "hello").
			AddRow(2, "world").
			RowError(1, fmt.Errorf("connection reset")))

	cur, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	defer cur.Close()

	n := 0
	for cur.Next() {
		n++
	}
	assert.Equal(t, 1, n)
	err = cur.Err()
	require.Error(t, err)
	assert.True(t, dserrors.IsStoreError(err))
}

func TestReadPage(t *testing.T) {
	t.Parallel()

	s, mock := newMock(t, "postgres")
	mock.ExpectQuery(`SELECT id, content FROM "conversations_message" WHERE id > $1 ORDER BY id LIMIT $2`).
		WithArgs(int64(10), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}).AddRow(11, "a").AddRow(12, "b"))

	page, err := s.ReadPage(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Equal(t, []Message{{ID: 11, Content: "a"}, {ID: 12, Content: "b"}}, page)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		driver    string
		query     string
		result    sql.Result
		execErr   error
		wantError string
	}{
		{
			name:   "postgres success",
			driver: "postgres",
			query:  `UPDATE "conversations_message" SET content = $1 WHERE id = $2`,
			result: sqlmock.NewResult(0, 1),
		},
		{
			name:   "mysql success",
			driver: "mysql",
			query:  "UPDATE `conversations_message` SET content = ? WHERE id = ?",
			result: sqlmock.NewResult(0, 1),
		},
		{
			name:      "missing row",
			driver:    "postgres",
			query:     `UPDATE "conversations_message" SET content = $1 WHERE id = $2`,
			result:    sqlmock.NewResult(0, 0),
			wantError: "no rows",
		},
		{
			name:      "exec failure",
			driver:    "postgres",
			query:     `UPDATE "conversations_message" SET content = $1 WHERE id = $2`,
			execErr:   fmt.Errorf("deadlock detected"),
			wantError: "deadlock detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, mock := newMock(t, tt.driver)
			exp := mock.ExpectExec(tt.query).WithArgs("[REDACTED] here", int64(2))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(tt.result)
			}

			err := s.Update(context.Background(), 2, "[REDACTED] here")
			if tt.wantError != "" {
				require.Error(t, err)
				assert.True(t, dserrors.IsStoreError(err))
				assert.Contains(t, err.Error(), tt.wantError)
				assert.Contains(t, err.Error(), "message 2")
				return
			}
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTx_CommitAndRollback(t *testing.T) {
	t.Parallel()

	t.Run("commit", func(t *testing.T) {
		t.Parallel()

		s, mock := newMock(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations_message" SET content = $1 WHERE id = $2`).
			WithArgs("x", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "conversations_message" SET content = $1 WHERE id = $2`).
			WithArgs("y", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ctx := context.Background()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Update(ctx, 1, "x"))
		require.NoError(t, tx.Update(ctx, 2, "y"))
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback after failed update", func(t *testing.T) {
		t.Parallel()

		s, mock := newMock(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "conversations_message" SET content = $1 WHERE id = $2`).
			WithArgs("x", int64(1)).WillReturnError(fmt.Errorf("connection lost"))
		mock.ExpectRollback()

		ctx := context.Background()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.Error(t, tx.Update(ctx, 1, "x"))
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		t.Parallel()

		s, mock := newMock(t, "postgres")
		mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

		_, err := s.Begin(context.Background())
		require.Error(t, err)
		assert.True(t, dserrors.IsStoreError(err))
	})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "oracle", "")
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))

	_, err = New(db, "postgres", "messages; DROP TABLE users")
	require.Error(t, err)
	assert.True(t, dserrors.IsConfigError(err))

	s, err := New(db, "postgresql", "chat.messages")
	require.NoError(t, err)
	assert.Equal(t, `"chat"."messages"`, s.table)
}

func TestDSN(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Host:     "db.internal",
		Port:     "5432",
		Database: "magenta_memory",
		User:     "magent",
		Password: "p@ss word",
	}

	u, err := url.Parse(postgresDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/magenta_memory", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	cfg.SSLMode = "require"
	assert.Contains(t, postgresDSN(cfg), "sslmode=require")

	my := mysqlDSN(cfg)
	assert.True(t, strings.HasPrefix(my, "magent:p@ss word@tcp(db.internal:5432)/magenta_memory"), my)
}

func TestEmptyPasswordIsAllowed(t *testing.T) {
	t.Parallel()

	u, err := url.Parse(postgresDSN(Config{Host: "localhost", Port: "5432", Database: "db", User: "magent"}))
	require.NoError(t, err)
	pw, set := u.User.Password()
	assert.True(t, set)
	assert.Empty(t, pw)
}
