// ABOUTME: SQLite-backed realtime database for local-first sessions.
// ABOUTME: Stores JSON records per collection and fans snapshots out after every write.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/2389-research/agora/internal/storage/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const recordsTable = "records"

// SQLiteDB implements Database on a single SQLite file.
type SQLiteDB struct {
	db    *sql.DB
	pubMu sync.Mutex // orders snapshot deliveries
	bc    *broadcaster
}

// NewSQLiteDB opens (or creates) the database at dsn and runs pending migrations.
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db, bc: newBroadcaster()}, nil
}

// Subscribe delivers the current value of path and every later change.
func (s *SQLiteDB) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if _, _, err := splitPath(path); err != nil {
		return nil, err
	}

	sub, subCtx := newSubscription(ctx)

	s.pubMu.Lock()
	data, err := s.valueAt(ctx, path)
	if err != nil {
		s.pubMu.Unlock()
		sub.finish(err)
		return nil, err
	}
	s.bc.add(path, sub)
	sub.deliver(Snapshot{Path: path, Data: data})
	s.pubMu.Unlock()

	go func() {
		<-subCtx.Done()
		s.bc.remove(path, sub)
		sub.finish(nil)
	}()
	return sub, nil
}

// Get reads the value at path.
func (s *SQLiteDB) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if _, _, err := splitPath(path); err != nil {
		return nil, err
	}
	data, err := s.valueAt(ctx, path)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, nil
}

// Update merges fields into the record at path inside a transaction.
func (s *SQLiteDB) Update(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("update requires a record path, got %q", path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := selectRecord(ctx, tx, collection, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged, err := mergeFields(current, fields)
	if err != nil {
		return err
	}
	if err := replaceRecord(ctx, tx, collection, id, merged); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	s.publish(collection)
	return nil
}

// Set replaces the value at path. A collection path replaces every record.
func (s *SQLiteDB) Set(ctx context.Context, path string, value any) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch {
	case id == "":
		records := make(map[string]json.RawMessage)
		if string(data) != "null" {
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("collection value must be an object: %w", err)
			}
		}
		if err := deleteRecords(ctx, tx, collection, ""); err != nil {
			return err
		}
		for rid, rec := range records {
			if err := replaceRecord(ctx, tx, collection, rid, rec); err != nil {
				return err
			}
		}
	case string(data) == "null":
		if err := deleteRecords(ctx, tx, collection, id); err != nil {
			return err
		}
	default:
		if err := replaceRecord(ctx, tx, collection, id, data); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set: %w", err)
	}

	s.publish(collection)
	return nil
}

// Push stores value under a new time-ordered ID.
func (s *SQLiteDB) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := newPushID()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// Close ends every subscription and closes the database connection.
func (s *SQLiteDB) Close() error {
	s.bc.closeAll()
	return s.db.Close()
}

func (s *SQLiteDB) publish(collection string) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	for _, p := range s.bc.paths() {
		if c, _, _ := splitPath(p); c != collection {
			continue
		}
		data, err := s.valueAt(context.Background(), p)
		if err != nil {
			// Subscribers catch up on the next successful write.
			continue
		}
		s.bc.publish(p, data)
	}
}

func (s *SQLiteDB) valueAt(ctx context.Context, path string) (json.RawMessage, error) {
	collection, id, _ := splitPath(path)
	if id != "" {
		data, err := selectRecord(ctx, s.db, collection, id)
		if errors.Is(err, ErrNotFound) {
			return json.RawMessage("null"), nil
		}
		return data, err
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "data").From(recordsTable).Where(sb.Equal("collection", collection)).OrderBy("id")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]json.RawMessage)
	for rows.Next() {
		var rid, data string
		if err := rows.Scan(&rid, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records[rid] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return encodeCollection(records), nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func selectRecord(ctx context.Context, q queryer, collection, id string) (json.RawMessage, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("data").From(recordsTable).Where(
		sb.Equal("collection", collection),
		sb.Equal("id", id),
	)
	query, args := sb.Build()

	var data string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select record %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(data), nil
}

func replaceRecord(ctx context.Context, q queryer, collection, id string, data json.RawMessage) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.ReplaceInto(recordsTable).
		Cols("collection", "id", "data", "updated_at").
		Values(collection, id, string(data), time.Now().UTC().Format(timeLayout))
	query, args := ib.Build()

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write record %s/%s: %w", collection, id, err)
	}
	return nil
}

// deleteRecords removes one record, or the whole collection when id is empty.
func deleteRecords(ctx context.Context, q queryer, collection, id string) error {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom(recordsTable)
	if id == "" {
		db.Where(db.Equal("collection", collection))
	} else {
		db.Where(db.Equal("collection", collection), db.Equal("id", id))
	}
	query, args := db.Build()

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}
