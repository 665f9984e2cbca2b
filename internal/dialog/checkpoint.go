package dialog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Checkpointer persists conversation state keyed by thread id. Save is
// called after every stage transition; Load restores a thread across
// restarts.
type Checkpointer interface {
	Load(ctx context.Context, threadID string) (*State, bool, error)
	Save(ctx context.Context, threadID string, st *State) error
}

// SQLiteCheckpointer stores one JSON document per thread.
type SQLiteCheckpointer struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteCheckpointer(dbPath string) (*SQLiteCheckpointer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	schema := `CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id  TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &SQLiteCheckpointer{db: db}, nil
}

func (c *SQLiteCheckpointer) Load(ctx context.Context, threadID string) (*State, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		"SELECT state FROM checkpoints WHERE thread_id = ?", threadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &st, true, nil
}

func (c *SQLiteCheckpointer) Save(ctx context.Context, threadID string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		threadID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (c *SQLiteCheckpointer) Close() error {
	return c.db.Close()
}

// MemoryCheckpointer keeps checkpoints in process memory. States are
// stored serialized so a caller mutating a returned state cannot
// corrupt the checkpoint.
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{states: make(map[string][]byte)}
}

func (c *MemoryCheckpointer) Load(_ context.Context, threadID string) (*State, bool, error) {
	c.mu.RLock()
	raw, ok := c.states[threadID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &st, true, nil
}

func (c *MemoryCheckpointer) Save(_ context.Context, threadID string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	c.mu.Lock()
	c.states[threadID] = raw
	c.mu.Unlock()
	return nil
}
