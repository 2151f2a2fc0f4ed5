package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	persistlog "clawparadise.ai/internal/persistence/log"
	"clawparadise.ai/internal/sim/island"
)

func writeLog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	l := persistlog.NewEventLogger(dir, nil)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.PublishEvents("island-a", []island.GameEvent{
		{ID: "evt-1", Day: 1, Phase: island.PhaseMorning, Type: island.EventConversation, Description: "Kai whispers to Mira", Timestamp: ts},
		{ID: "evt-2", Day: 1, Phase: island.PhaseElimination, Type: island.EventElimination, Description: "Tane is voted out", Timestamp: ts},
	})
	l.PublishEvents("island-b", []island.GameEvent{
		{ID: "evt-3", Day: 3, Phase: island.PhaseGameOver, Type: island.EventWinner, Description: "Mira wins", Timestamp: ts},
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return dir
}

func TestReplay_FiltersByIslandAndType(t *testing.T) {
	files, err := persistlog.EventFiles(writeLog(t))
	if err != nil || len(files) == 0 {
		t.Fatalf("EventFiles = %v %v", files, err)
	}

	var got []string
	collect := func(rec persistlog.EventRecord) error {
		got = append(got, rec.Event.ID)
		return nil
	}

	n, err := replay(files, filter{}, collect)
	if err != nil || n != 3 || strings.Join(got, ",") != "evt-1,evt-2,evt-3" {
		t.Fatalf("all: n=%d got=%v err=%v", n, got, err)
	}

	got = nil
	n, _ = replay(files, filter{island: "island-a"}, collect)
	if n != 2 || strings.Join(got, ",") != "evt-1,evt-2" {
		t.Fatalf("island filter: %v", got)
	}

	got = nil
	n, _ = replay(files, filter{types: parseTypes(" elimination , winner")}, collect)
	if n != 2 || strings.Join(got, ",") != "evt-2,evt-3" {
		t.Fatalf("type filter: %v", got)
	}
}

func TestReplay_Summary(t *testing.T) {
	files, err := persistlog.EventFiles(writeLog(t))
	if err != nil {
		t.Fatalf("EventFiles: %v", err)
	}
	totals := map[string]*islandTotals{}
	if _, err := replay(files, filter{}, func(rec persistlog.EventRecord) error {
		countRecord(totals, rec)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var buf bytes.Buffer
	printTotals(&buf, totals)
	want := "island-a events=2 day=1 phase=ELIMINATION eliminated=1 finished=false\n" +
		"island-b events=1 day=3 phase=GAME_OVER eliminated=0 finished=true\n"
	if buf.String() != want {
		t.Fatalf("summary:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestFormatRecord(t *testing.T) {
	line := formatRecord(persistlog.EventRecord{
		IslandID: "island-a",
		Event: island.GameEvent{
			Day:         2,
			Phase:       island.PhaseTribalCouncil,
			Type:        island.EventVoteCast,
			Description: "Kai votes for Tane",
			Timestamp:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})
	if !strings.HasPrefix(line, "2025-03-01T12:00:00Z island-a day=2 TRIBAL_COUNCIL") || !strings.HasSuffix(line, "Kai votes for Tane") {
		t.Fatalf("line = %q", line)
	}
}
