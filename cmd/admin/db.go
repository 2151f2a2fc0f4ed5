package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clawparadise.ai/internal/sim/island"
)

// dbCmd reads the server's sqlite entity store directly. The connection is
// query-only, so it is safe to run next to a live server.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/db/island.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "phases"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "db", "island.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	for _, p := range []string{`PRAGMA query_only=ON;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.Exec(p); err != nil {
			fmt.Fprintln(os.Stderr, "pragma:", err)
			os.Exit(1)
		}
	}

	if err := runDBQuery(os.Stdout, db, q, fs.Args(), *limit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDBQuery(w io.Writer, db *sql.DB, q string, args []string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	switch q {
	case "phases":
		return queryPhases(w, db)
	case "islands":
		return queryIslands(w, db, limit)
	case "agents":
		return queryAgents(w, db, limit)
	case "agent":
		if len(args) < 2 {
			return fmt.Errorf("usage: admin db agent <name>")
		}
		return queryAgent(w, db, strings.Join(args[1:], " "))
	case "catalogs":
		return queryCatalogs(w, db)
	default:
		return fmt.Errorf("unknown query %q (phases|islands|agents|agent|catalogs)", q)
	}
}

func queryPhases(w io.Writer, db *sql.DB) error {
	rows, err := db.Query(`SELECT phase, active, COUNT(*) FROM islands GROUP BY phase, active ORDER BY phase`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Phase  string `json:"phase"`
			Active bool   `json:"active"`
			Count  int    `json:"count"`
		}
		if err := rows.Scan(&r.Phase, &r.Active, &r.Count); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printJSON(w, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var agents int
	if err := db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&agents); err != nil {
		return fmt.Errorf("count agents: %w", err)
	}
	printJSON(w, map[string]int{"agents": agents})
	return nil
}

func queryIslands(w io.Writer, db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT id, type, phase, day, active, updated_at FROM islands ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			ID        string `json:"id"`
			Type      string `json:"type"`
			Phase     string `json:"phase"`
			Day       int    `json:"day"`
			Active    bool   `json:"active"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.ID, &r.Type, &r.Phase, &r.Day, &r.Active, &r.UpdatedAt); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printJSON(w, r)
	}
	return rows.Err()
}

func queryAgents(w io.Writer, db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT doc FROM agents ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var a island.RegisteredAgent
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return fmt.Errorf("decode agent: %w", err)
		}
		printJSON(w, agentRow(&a))
	}
	return rows.Err()
}

func queryAgent(w io.Writer, db *sql.DB, name string) error {
	var doc string
	err := db.QueryRow(`SELECT doc FROM agents WHERE name_key=?`, island.NameKey(name)).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("agent %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	var a island.RegisteredAgent
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return fmt.Errorf("decode agent: %w", err)
	}
	printJSON(w, a)
	return nil
}

func queryCatalogs(w io.Writer, db *sql.DB) error {
	rows, err := db.Query(`SELECT name, digest, updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printJSON(w, r)
	}
	return rows.Err()
}

type agentSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Wins            int    `json:"wins"`
	GamesPlayed     int    `json:"games_played"`
	TotalScore      int    `json:"total_score"`
	CurrentIslandID string `json:"current_island_id,omitempty"`
	OnCooldown      bool   `json:"on_cooldown"`
}

func agentRow(a *island.RegisteredAgent) agentSummary {
	return agentSummary{
		ID:              a.ID,
		Name:            a.AgentName,
		Wins:            a.Wins,
		GamesPlayed:     a.GamesPlayed,
		TotalScore:      a.TotalScore,
		CurrentIslandID: a.CurrentIslandID,
		OnCooldown:      a.CooldownRemaining(time.Now()) > 0,
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
