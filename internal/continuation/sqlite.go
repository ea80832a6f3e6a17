package continuation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clink/internal/result"
)

// SQLiteStore persists conversations so continuation ids survive a
// process restart. Appends run inside an immediate transaction: the
// database serializes writers, so indices stay gap-free under
// concurrent appends to the same id.
type SQLiteStore struct {
	db     *sql.DB
	window time.Duration
	now    func() time.Time
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path             string
	InactivityWindow time.Duration // 0 means DefaultInactivityWindow
	Now              func() time.Time
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writer serialization happens in SQLite; a single connection
	// avoids SQLITE_BUSY churn between pooled connections.
	db.SetMaxOpenConns(1)

	window := cfg.InactivityWindow
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	store := &SQLiteStore{db: db, window: window, now: now}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		idx INTEGER NOT NULL,
		agent TEXT NOT NULL,
		role TEXT,
		task TEXT NOT NULL,
		prompt TEXT,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_last_active
		ON conversations(last_active);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) CloseStore() error {
	return s.db.Close()
}

// Create mints a fresh conversation id.
func (s *SQLiteStore) Create() (string, error) {
	id := uuid.NewString()
	now := s.now().UnixNano()
	_, err := s.db.Exec(
		"INSERT INTO conversations (id, created_at, last_active) VALUES (?, ?, ?)",
		id, now, now)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Get loads a conversation and its turns, oldest first.
func (s *SQLiteStore) Get(id string) (*Conversation, error) {
	var createdAt, lastActive int64
	err := s.db.QueryRow(
		"SELECT created_at, last_active FROM conversations WHERE id = ?", id).
		Scan(&createdAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	conv := &Conversation{
		ID:         id,
		CreatedAt:  time.Unix(0, createdAt),
		LastActive: time.Unix(0, lastActive),
	}

	rows, err := s.db.Query(
		"SELECT idx, agent, role, task, prompt, result, created_at FROM turns WHERE conversation_id = ? ORDER BY idx",
		id)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn Turn
		var role, prompt sql.NullString
		var resultJSON string
		var turnCreated int64
		if err := rows.Scan(&turn.Index, &turn.Agent, &role, &turn.Task, &prompt, &resultJSON, &turnCreated); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = role.String
		turn.Prompt = prompt.String
		turn.CreatedAt = time.Unix(0, turnCreated)
		if err := json.Unmarshal([]byte(resultJSON), &turn.Result); err != nil {
			turn.Result = result.Result{
				Status:      result.StatusAgentError,
				ErrorDetail: "stored result unreadable: " + err.Error(),
			}
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, rows.Err()
}

// Append adds a turn transactionally, assigning the next index.
func (s *SQLiteStore) Append(id string, turn Turn) (*Conversation, error) {
	resultJSON, err := json.Marshal(turn.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM conversations WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}

	var next int
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(idx) + 1, 0) FROM turns WHERE conversation_id = ?", id).
		Scan(&next); err != nil {
		return nil, fmt.Errorf("next index: %w", err)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	now := s.now().UnixNano()

	if _, err := tx.Exec(
		"INSERT INTO turns (conversation_id, idx, agent, role, task, prompt, result, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, next, turn.Agent, turn.Role, turn.Task, turn.Prompt, string(resultJSON), turn.CreatedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	if _, err := tx.Exec(
		"UPDATE conversations SET last_active = ? WHERE id = ?", now, id); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return s.Get(id)
}

// Close removes a conversation explicitly.
func (s *SQLiteStore) Close(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if _, err := tx.Exec("DELETE FROM turns WHERE conversation_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Sweep evicts conversations idle past the inactivity window.
func (s *SQLiteStore) Sweep() (int, error) {
	cutoff := s.now().Add(-s.window).UnixNano()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM turns WHERE conversation_id IN (SELECT id FROM conversations WHERE last_active < ?)",
		cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec("DELETE FROM conversations WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}
