package partition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"offlinecache/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS partitions (
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	partition TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	status INTEGER NOT NULL,
	headers BLOB NOT NULL,
	body BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (partition, cache_key)
);`

// 削除済みのパーティションには書き込まない
const sqliteUpsert = `
INSERT INTO entries (partition, cache_key, status, headers, body, stored_at)
SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM partitions WHERE name = ?)
ON CONFLICT (partition, cache_key) DO UPDATE SET
	status = excluded.status,
	headers = excluded.headers,
	body = excluded.body,
	stored_at = excluded.stored_at`

// SQLiteStore はパーティションをSQLiteに永続化するストア
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.PartitionStore = (*SQLiteStore)(nil)

// NewSQLiteStore はデータベースを開いてスキーマを作成する
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite partition store requires a database path")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite partitions at %q: %w", path, err)
	}
	// "database is locked" を避けるため接続は1本に限定
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite partitions at %q: %w", path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create partition schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Open はパーティションを登録し、既にあればそのまま返す
func (s *SQLiteStore) Open(ctx context.Context, name string) (domain.Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO partitions (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to register partition %s: %w", name, err)
	}

	return &sqlitePartition{db: s.db, name: name}, nil
}

// Names はパーティション名の一覧を返す
func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM partitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete はパーティションとその全エントリを削除する
func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE partition = ?`, name); err != nil {
		return false, fmt.Errorf("failed to delete entries of %s: %w", name, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete partition %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

type sqlitePartition struct {
	db   *sql.DB
	name string
}

func (p *sqlitePartition) Name() string {
	return p.name
}

func (p *sqlitePartition) Match(ctx context.Context, req *domain.Request) (*domain.Response, bool, error) {
	var (
		status   int
		headers  []byte
		body     []byte
		storedAt int64
	)

	row := p.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM entries WHERE partition = ? AND cache_key = ?`,
		p.name, req.Key())
	if err := row.Scan(&status, &headers, &body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	h := http.Header{}
	if err := json.Unmarshal(headers, &h); err != nil {
		return nil, false, fmt.Errorf("corrupt headers for %s: %w", req.Key(), err)
	}

	return &domain.Response{
		StatusCode: status,
		Headers:    h,
		Body:       body,
		FromCache:  true,
		StoredAt:   time.Unix(0, storedAt),
	}, true, nil
}

func (p *sqlitePartition) Put(ctx context.Context, req *domain.Request, resp *domain.Response) error {
	if !req.IsGet() {
		return ErrUnsupportedMethod
	}

	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	_, err = p.db.ExecContext(ctx, sqliteUpsert,
		p.name, req.Key(), resp.StatusCode, headers, body, time.Now().UnixNano(), p.name)
	return err
}

func (p *sqlitePartition) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT cache_key FROM entries WHERE partition = ? ORDER BY cache_key`, p.name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
