package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	schemaVersion = 1
	busyTimeout   = 5 * time.Second
)

var errStoreClosed = errors.New("resume: store closed")

// SqliteStore keeps positions in a single sqlite file.
type SqliteStore struct {
	DB *sql.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("resume: create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("resume: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume: ping %s: %w", path, err)
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var version int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		item_id TEXT PRIMARY KEY,
		seconds REAL NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, p Position) error {
	query := `
	INSERT INTO positions (item_id, seconds, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(item_id) DO UPDATE SET
		seconds = excluded.seconds,
		updated_at = excluded.updated_at`
	_, err := s.DB.ExecContext(ctx, query, p.ItemID, p.Seconds, p.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SqliteStore) Get(ctx context.Context, itemID string) (Position, error) {
	p := Position{ItemID: itemID}
	var updated string
	err := s.DB.QueryRowContext(ctx, `SELECT seconds, updated_at FROM positions WHERE item_id = ?`, itemID).
		Scan(&p.Seconds, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, err
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return p, nil
}

func (s *SqliteStore) Delete(ctx context.Context, itemID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM positions WHERE item_id = ?`, itemID)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
