package prefdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"autorefill/internal/sim/commands"
)

// SQLite keeps the preference map in a `preferences` table and indexes change records
// in a `changes` table. Change records are written by a background goroutine so a slow
// disk never stalls the engine.
type SQLite struct {
	db *sql.DB

	ch   chan commands.ChangeRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChangeTotal atomic.Uint64
	changesWritten  atomic.Uint64
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	ChangesWritten  uint64 `json:"changes_written"`
	DropChangeTotal uint64 `json:"drop_change_total"`
}

func OpenSQLite(path string) (*SQLite, error) {
	return openSQLite(path, 4096)
}

func openSQLite(path string, queue int) (*SQLite, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db: db,
		ch: make(chan commands.ChangeRecord, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			actor_id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			source TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			actor_name TEXT NOT NULL,
			target_id INTEGER,
			target_name TEXT,
			enabled INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_ts ON changes(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_actor_ts ON changes(actor_id, ts);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) Load() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT actor_id, enabled FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var (
			id      string
			enabled int
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, err
		}
		out[id] = enabled != 0
	}
	return out, rows.Err()
}

// Save replaces the stored map in one transaction. updated_at only moves for rows
// whose value changed.
func (s *SQLite) Save(prefs map[string]bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	existing := map[string]bool{}
	rows, err := tx.Query(`SELECT actor_id FROM preferences`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	rows.Close()

	del, err := tx.Prepare(`DELETE FROM preferences WHERE actor_id = ?`)
	if err != nil {
		return err
	}
	defer del.Close()
	for id := range existing {
		if _, ok := prefs[id]; ok {
			continue
		}
		if _, err := del.Exec(id); err != nil {
			return err
		}
	}

	up, err := tx.Prepare(`INSERT INTO preferences(actor_id,enabled,updated_at) VALUES(?,?,?)
		ON CONFLICT(actor_id) DO UPDATE SET
			updated_at = CASE WHEN preferences.enabled <> excluded.enabled THEN excluded.updated_at ELSE preferences.updated_at END,
			enabled = excluded.enabled`)
	if err != nil {
		return err
	}
	defer up.Close()
	for id, on := range prefs {
		if _, err := up.Exec(id, boolInt(on), now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_save',?)`, now); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteChange queues rec for the changes table. Records are dropped when the writer
// falls behind; the zstd change log remains the source of truth.
func (s *SQLite) WriteChange(rec commands.ChangeRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- rec:
	default:
		s.dropChangeTotal.Add(1)
	}
	return nil
}

func (s *SQLite) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		ChangesWritten:  s.changesWritten.Load(),
		DropChangeTotal: s.dropChangeTotal.Load(),
	}
}

// RecentChanges returns up to limit change records, newest first. A non-zero actor
// restricts the result to records issued by or targeting that actor.
func (s *SQLite) RecentChanges(ctx context.Context, actor uint64, limit int) ([]commands.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT raw_json FROM changes ORDER BY ts DESC, id LIMIT ?`
	args := []any{limit}
	if actor != 0 {
		q = `SELECT raw_json FROM changes WHERE actor_id = ? OR target_id = ? ORDER BY ts DESC, id LIMIT ?`
		args = []any{int64(actor), int64(actor), limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []commands.ChangeRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec commands.ChangeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode change: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) loop() {
	ctx := context.Background()

	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO changes(id,ts,source,actor_id,actor_name,target_id,target_name,enabled,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertChange != nil {
			_ = insertChange.Close()
		}
	}()

	var (
		tx            *sql.Tx
		pending       uint64
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err == nil {
			s.changesWritten.Add(pending)
		}
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		pending = 0
		lastCommit = time.Now()
	}

	for rec := range s.ch {
		begin()
		if tx == nil || insertChange == nil {
			continue
		}
		raw, _ := json.Marshal(rec)
		var target any
		if rec.TargetID != 0 {
			target = int64(rec.TargetID)
		}
		if _, err := tx.Stmt(insertChange).Exec(
			rec.ID,
			rec.Time.UTC().Format(time.RFC3339Nano),
			string(rec.Source),
			int64(rec.ActorID),
			rec.ActorName,
			target,
			rec.TargetName,
			boolInt(rec.Enabled),
			string(raw),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		pending++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
