package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"clawparadise.ai/internal/persistence/entitydb"
	"clawparadise.ai/internal/sim/island"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "island.sqlite")
	s, err := entitydb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, isl := range []*island.Island{
		{ID: "island-1", Type: "inferno", Phase: island.PhaseLobby, CreatedAt: now},
		{ID: "island-2", Type: "jade", Phase: island.PhaseMorning, Day: 2, CreatedAt: now},
		{ID: "island-3", Type: "jade", Phase: island.PhaseGameOver, Day: 9, CreatedAt: now},
	} {
		if err := s.PutIsland(ctx, isl); err != nil {
			t.Fatalf("PutIsland: %v", err)
		}
	}
	if err := s.PutAgent(ctx, &island.RegisteredAgent{ID: "agent-1", AgentName: "Kai", Wins: 2, JoinedAt: now}); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
	return path
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func lines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("decode %q: %v", l, err)
		}
		rows = append(rows, m)
	}
	return rows
}

func TestRunDBQuery_Phases(t *testing.T) {
	db := openDB(t, seedDB(t))
	var buf bytes.Buffer
	if err := runDBQuery(&buf, db, "phases", nil, 0); err != nil {
		t.Fatalf("phases: %v", err)
	}
	rows := lines(t, buf.String())
	if len(rows) != 4 {
		t.Fatalf("rows = %v", rows)
	}
	got := map[string]any{}
	for _, r := range rows[:3] {
		got[r["phase"].(string)] = r["active"]
	}
	if got["GAME_OVER"] != false || got["LOBBY"] != true || got["MORNING"] != true {
		t.Fatalf("phase rows = %v", got)
	}
	if rows[3]["agents"] != float64(1) {
		t.Fatalf("agent count row = %v", rows[3])
	}
}

func TestRunDBQuery_Agent(t *testing.T) {
	db := openDB(t, seedDB(t))

	var buf bytes.Buffer
	if err := runDBQuery(&buf, db, "agent", []string{"agent", " KAI "}, 0); err != nil {
		t.Fatalf("agent: %v", err)
	}
	rows := lines(t, buf.String())
	if len(rows) != 1 || rows[0]["id"] != "agent-1" || rows[0]["wins"] != float64(2) {
		t.Fatalf("agent rows = %v", rows)
	}

	buf.Reset()
	if err := runDBQuery(&buf, db, "agents", nil, 5); err != nil {
		t.Fatalf("agents: %v", err)
	}
	rows = lines(t, buf.String())
	if len(rows) != 1 || rows[0]["name"] != "Kai" || rows[0]["on_cooldown"] != false {
		t.Fatalf("agents rows = %v", rows)
	}

	if err := runDBQuery(io.Discard, db, "agent", []string{"agent", "nobody"}, 0); err == nil {
		t.Fatalf("expected not found")
	}
	if err := runDBQuery(io.Discard, db, "agent", []string{"agent"}, 0); err == nil {
		t.Fatalf("expected usage error")
	}
	if err := runDBQuery(io.Discard, db, "bogus", nil, 0); err == nil {
		t.Fatalf("expected unknown query error")
	}
}

func TestHTTPRequestFor(t *testing.T) {
	method, path, body, err := httpRequestFor("advance", []string{"island-1"}, true)
	if err != nil || method != http.MethodPost || path != "/v1/islands/island-1/advance" {
		t.Fatalf("advance = %s %s %v", method, path, err)
	}
	if b, _ := json.Marshal(body); string(b) != `{"force":true}` {
		t.Fatalf("advance body = %s", b)
	}

	_, path, body, err = httpRequestFor("create", []string{"thunder"}, false)
	if err != nil || path != "/v1/islands" {
		t.Fatalf("create = %s %v", path, err)
	}
	if b, _ := json.Marshal(body); string(b) != `{"island_type":"thunder"}` {
		t.Fatalf("create body = %s", b)
	}

	if _, _, _, err := httpRequestFor("quickfill", nil, false); err == nil {
		t.Fatalf("expected usage error without id")
	}
	if _, _, _, err := httpRequestFor("teleport", nil, false); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestAPIClient_Call(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType = string(b), r.Header.Get("Content-Type")
		if r.URL.Path != "/v1/islands/island-1/advance" {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write([]byte(`{"advanced":true}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")
	var out bytes.Buffer
	status, err := c.call(http.MethodPost, "/v1/islands/island-1/advance", map[string]bool{"force": true}, &out)
	if err != nil || status != http.StatusOK {
		t.Fatalf("call = %d %v", status, err)
	}
	if out.String() != `{"advanced":true}` || gotBody != `{"force":true}` || gotType != "application/json" {
		t.Fatalf("out=%q body=%q type=%q", out.String(), gotBody, gotType)
	}

	status, err = c.call(http.MethodGet, "/missing", nil, io.Discard)
	if err != nil || status != http.StatusNotFound {
		t.Fatalf("missing = %d %v", status, err)
	}
}
