package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clawparadise.ai/internal/sim/island"
)

func record(id string, ended time.Time) island.ArchiveRecord {
	return island.ArchiveRecord{
		ID:         id,
		Type:       "inferno",
		Name:       "Inferno Island #1",
		WinnerName: "Kai",
		Day:        5,
		Events:     []island.GameEvent{{ID: "evt-1", Day: 1, Description: "The game begins"}},
		Participants: []island.ParticipantSummary{
			{ID: "p1", Name: "Kai", Status: island.StatusAlive, ChallengeWins: 2},
			{ID: "p2", Name: "Mira", Status: island.StatusEliminated},
		},
		EndedAt: ended,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ended := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Put(record("island-a", ended)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "island-a.json.zst")); err != nil {
		t.Fatalf("expected compressed document: %v", err)
	}

	got, ok, err := s.Get("island-a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.WinnerName != "Kai" || len(got.Participants) != 2 || !got.EndedAt.Equal(ended) {
		t.Fatalf("record = %+v", got)
	}
	if len(got.Events) != 1 || got.Events[0].Description != "The game begins" {
		t.Fatalf("events = %+v", got.Events)
	}

	if _, ok, err := s.Get("missing"); ok || err != nil {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.Get("../index"); ok {
		t.Fatalf("path traversal served a document")
	}
	if err := s.Put(record("../x", ended)); err == nil {
		t.Fatalf("expected invalid id to be rejected")
	}
}

func TestStore_KeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Put(record(fmt.Sprintf("island-%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	idx, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"island-4", "island-3", "island-2"}
	if len(idx) != len(want) {
		t.Fatalf("index = %+v", idx)
	}
	for i, id := range want {
		if idx[i].ID != id {
			t.Fatalf("index[%d] = %s want %s", i, idx[i].ID, id)
		}
	}
	if idx[0].Participants != 2 {
		t.Fatalf("entry = %+v", idx[0])
	}
	for _, id := range []string{"island-0", "island-1"} {
		if _, err := os.Stat(filepath.Join(dir, id+".json.zst")); !os.IsNotExist(err) {
			t.Fatalf("%s should have been evicted: %v", id, err)
		}
	}

	top, _ := s.List(1)
	if len(top) != 1 || top[0].ID != "island-4" {
		t.Fatalf("List(1) = %+v", top)
	}

	// Re-archiving an id moves it to the front without duplicating it.
	if err := s.Put(record("island-2", base)); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	idx, _ = s.List(0)
	if len(idx) != 3 || idx[0].ID != "island-2" || idx[1].ID != "island-4" {
		t.Fatalf("index after re-put = %+v", idx)
	}
}

func TestWriter_DrainsOnClose(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	w := NewWriter(s, nil, 16)
	for i := 0; i < 4; i++ {
		if err := w.Archive(record(fmt.Sprintf("island-%d", i), time.Unix(int64(i), 0).UTC())); err != nil {
			t.Fatalf("Archive %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if written, failed := w.Stats(); written != 4 || failed != 0 {
		t.Fatalf("stats written=%d failed=%d", written, failed)
	}
	idx, _ := s.List(0)
	if len(idx) != 4 || idx[0].ID != "island-3" {
		t.Fatalf("index = %+v", idx)
	}
	if err := w.Archive(record("late", time.Now())); err == nil {
		t.Fatalf("expected archive after close to fail")
	}
	_ = w.Close()
}

type recordingReplica struct{ paths []string }

func (r *recordingReplica) Enqueue(p string) { r.paths = append(r.paths, p) }

func TestWriter_ReplicatesStoredFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rep := &recordingReplica{}
	w := NewWriter(s, nil, 4).WithReplica(rep)
	if err := w.Archive(record("island-r", time.Unix(10, 0).UTC())); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	_ = w.Close()

	want := []string{filepath.Join(dir, "island-r.json.zst"), filepath.Join(dir, "index.json")}
	if len(rep.paths) != 2 || rep.paths[0] != want[0] || rep.paths[1] != want[1] {
		t.Fatalf("replica paths = %v want %v", rep.paths, want)
	}
	for _, p := range rep.paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("replicated path missing: %v", err)
		}
	}
}
