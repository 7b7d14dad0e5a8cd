// Package localstore хранит локальное автосохранение редактора в SQLite.
//
// Автосохранение живёт под фиксированным ключом и не связано с именованными
// workflows на сервере: это снимок последнего состояния канваса.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/shaiso/flowboard/internal/domain"
)

// AutosaveKey: ключ снимка автосохранения.
const AutosaveKey = "flowboard-autosave"

var (
	// ErrNoAutosave: снимок отсутствует.
	ErrNoAutosave = errors.New("no autosave")

	// ErrCorruptAutosave: снимок не удалось разобрать.
	ErrCorruptAutosave = errors.New("corrupt autosave")
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key      TEXT PRIMARY KEY,
	data     TEXT NOT NULL,
	saved_at TEXT NOT NULL
)`

// Store: SQLite файл со снимками.
type Store struct {
	db   *sql.DB
	path string
}

// Open открывает (или создаёт) файл автосохранения.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create autosave dir: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open autosave: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close закрывает файл.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path возвращает путь к файлу.
func (s *Store) Path() string {
	return s.path
}

// Save перезаписывает снимок.
func (s *Store) Save(ctx context.Context, wf *domain.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal autosave: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at
	`, AutosaveKey, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save autosave: %w", err)
	}
	return nil
}

// Load возвращает снимок и время сохранения.
func (s *Store) Load(ctx context.Context) (*domain.Workflow, time.Time, error) {
	var data, savedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, saved_at FROM snapshots WHERE key = ?`, AutosaveKey,
	).Scan(&data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNoAutosave
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load autosave: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrCorruptAutosave, err)
	}

	ts, _ := time.Parse(time.RFC3339Nano, savedAt)
	return &wf, ts, nil
}

// Clear удаляет снимок. Отсутствие снимка не ошибка.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, AutosaveKey); err != nil {
		return fmt.Errorf("clear autosave: %w", err)
	}
	return nil
}
