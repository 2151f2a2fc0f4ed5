package entitydb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clawparadise.ai/internal/sim/catalogs"
	"clawparadise.ai/internal/sim/island"
	"clawparadise.ai/internal/sim/tuning"
)

// SQLiteStore keeps islands and registered agents as JSON documents in one
// sqlite file. It implements island.Store.
type SQLiteStore struct {
	db *sql.DB
}

var _ island.Store = (*SQLiteStore)(nil)

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS islands (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			phase TEXT NOT NULL,
			day INTEGER NOT NULL,
			active INTEGER NOT NULL,
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_islands_active ON islands(active);`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name_key TEXT NOT NULL UNIQUE,
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *SQLiteStore) GetIsland(ctx context.Context, id string) (*island.Island, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM islands WHERE id=?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var isl island.Island
	if err := json.Unmarshal([]byte(doc), &isl); err != nil {
		return nil, false, fmt.Errorf("decode island %s: %w", id, err)
	}
	return &isl, true, nil
}

func (s *SQLiteStore) PutIsland(ctx context.Context, isl *island.Island) error {
	doc, err := json.Marshal(isl)
	if err != nil {
		return fmt.Errorf("encode island %s: %w", isl.ID, err)
	}
	active := 1
	if isl.Phase == island.PhaseGameOver {
		active = 0
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO islands(id,type,phase,day,active,doc,updated_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET type=excluded.type, phase=excluded.phase, day=excluded.day,
		   active=excluded.active, doc=excluded.doc, updated_at=excluded.updated_at`,
		isl.ID, isl.Type, string(isl.Phase), isl.Day, active, string(doc), now())
	return err
}

func (s *SQLiteStore) ListActiveIslandIDs(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM islands WHERE active=1`)
}

func (s *SQLiteStore) MultiGetIslands(ctx context.Context, ids []string) ([]*island.Island, error) {
	out := make([]*island.Island, 0, len(ids))
	err := s.multiGet(ctx, "islands", ids, func(doc string) error {
		var isl island.Island
		if err := json.Unmarshal([]byte(doc), &isl); err != nil {
			return err
		}
		out = append(out, &isl)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*island.RegisteredAgent, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM agents WHERE id=?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a island.RegisteredAgent
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, false, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &a, true, nil
}

// PutAgent fails if another agent already owns the case-folded name.
func (s *SQLiteStore) PutAgent(ctx context.Context, a *island.RegisteredAgent) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents(id,name_key,doc,updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name_key=excluded.name_key, doc=excluded.doc, updated_at=excluded.updated_at`,
		a.ID, island.NameKey(a.AgentName), string(doc), now())
	return err
}

func (s *SQLiteStore) ListAgentIDs(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM agents`)
}

func (s *SQLiteStore) FindAgentIDByName(ctx context.Context, name string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM agents WHERE name_key=?`, island.NameKey(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *SQLiteStore) MultiGetAgents(ctx context.Context, ids []string) ([]*island.RegisteredAgent, error) {
	out := make([]*island.RegisteredAgent, 0, len(ids))
	err := s.multiGet(ctx, "agents", ids, func(doc string) error {
		var a island.RegisteredAgent
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) ids(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// multiGet fetches docs in chunks, preserving the order of ids and skipping
// absent ones.
func (s *SQLiteStore) multiGet(ctx context.Context, table string, ids []string, fn func(doc string) error) error {
	const chunk = 256
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		q := fmt.Sprintf(`SELECT id, doc FROM %s WHERE id IN (%s)`, table, strings.TrimSuffix(strings.Repeat("?,", len(part)), ","))
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		docs := make(map[string]string, len(part))
		for rows.Next() {
			var id, doc string
			if err := rows.Scan(&id, &doc); err != nil {
				rows.Close()
				return err
			}
			docs[id] = doc
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		for _, id := range part {
			doc, ok := docs[id]
			if !ok {
				continue
			}
			if err := fn(doc); err != nil {
				return fmt.Errorf("decode %s %s: %w", table, id, err)
			}
		}
	}
	return nil
}

// UpsertCatalogs records the content and rules the server runs with, so an
// operator can tell which catalog produced a stored game.
func (s *SQLiteStore) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Personas.List); len(b) > 0 {
		rows = append(rows, kv{name: "personas", digest: cats.Personas.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Arenas.ByType); len(b) > 0 {
		rows = append(rows, kv{name: "arenas", digest: cats.Arenas.Digest, json: b})
	}
	if b, _ := json.Marshal(cats.Challenges.List); len(b) > 0 {
		rows = append(rows, kv{name: "challenges", digest: cats.Challenges.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	ts := now()
	for _, r := range rows {
		if r.digest == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.json), ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PhaseCount is one row of Stats.
type PhaseCount struct {
	Phase string
	Count int
}

type Stats struct {
	Phases []PhaseCount
	Agents int
}

// Stats counts islands per phase and registered agents.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM islands GROUP BY phase ORDER BY phase`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var pc PhaseCount
		if err := rows.Scan(&pc.Phase, &pc.Count); err != nil {
			return st, err
		}
		st.Phases = append(st.Phases, pc)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&st.Agents)
	return st, err
}
