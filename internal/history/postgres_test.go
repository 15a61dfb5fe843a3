package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var got string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(got, "CREATE TABLE IF NOT EXISTS conversation_messages") {
		t.Errorf("Migrate ran %q", got)
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	if err := NewPostgresStore(db).Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "history: migrate") {
		t.Errorf("Migrate error = %v", err)
	}
}

func TestPostgresStore_Append(t *testing.T) {
	t.Parallel()

	var args []any
	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, a ...any) pgx.Row {
		if !strings.Contains(sql, "INSERT INTO conversation_messages") {
			t.Errorf("unexpected query %q", sql)
		}
		args = a
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*time.Time) = time.Now()
			return nil
		}}
	}}

	err := NewPostgresStore(db).Append(context.Background(), Entry{SessionID: "s1", Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(args) != 3 || args[0] != "s1" || args[1] != "user" || args[2] != "hi" {
		t.Errorf("args = %v", args)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &mockDB{queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
		if args[0] != "s1" {
			t.Errorf("session arg = %v", args[0])
		}
		return &mockRows{data: [][]any{
			{"s1", "user", "hi", ts},
			{"s1", "assistant", "hey", ts},
		}}, nil
	}}

	entries, err := NewPostgresStore(db).List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[1].Content != "hey" || !entries[0].CreatedAt.Equal(ts) {
		t.Errorf("entries = %+v", entries)
	}
}

func TestPostgresStore_ListErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		db   *mockDB
	}{
		{
			name: "query fails",
			db: &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
				return nil, errors.New("connection reset")
			}},
		},
		{
			name: "rows error",
			db: &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
				return &mockRows{err: errors.New("cancelled")}, nil
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewPostgresStore(tt.db).List(context.Background(), "s1"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestPostgresStore_Clear(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotArgs []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db).Clear(context.Background(), "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !strings.HasPrefix(gotSQL, "DELETE FROM conversation_messages") || gotArgs[0] != "s1" {
		t.Errorf("Clear ran %q with %v", gotSQL, gotArgs)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	db := &mockDB{queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error {
			*dest[0].(*int) = 1
			return nil
		}}
	}}
	if err := NewPostgresStore(db).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// The default mock row fails every scan.
	if err := NewPostgresStore(&mockDB{}).Ping(context.Background()); err == nil {
		t.Fatal("Ping on failing database returned nil")
	}
}
