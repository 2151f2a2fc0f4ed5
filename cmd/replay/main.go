package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	persistlog "clawparadise.ai/internal/persistence/log"
	"clawparadise.ai/internal/sim/island"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		islandID  = flag.String("island", "", "only print this island's timeline (optional)")
		types     = flag.String("types", "", "comma-separated event types to keep (optional)")
		asJSON    = flag.Bool("json", false, "print raw records as JSON lines")
		summary   = flag.Bool("summary", false, "print per-island counts instead of the timeline")
	)
	flag.Parse()

	files, err := persistlog.EventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no event files in", *eventsDir)
		os.Exit(2)
	}

	f := filter{island: strings.TrimSpace(*islandID), types: parseTypes(*types)}
	var out func(persistlog.EventRecord) error
	var totals map[string]*islandTotals
	switch {
	case *summary:
		totals = map[string]*islandTotals{}
		out = func(rec persistlog.EventRecord) error {
			countRecord(totals, rec)
			return nil
		}
	case *asJSON:
		enc := json.NewEncoder(os.Stdout)
		out = func(rec persistlog.EventRecord) error { return enc.Encode(rec) }
	default:
		out = func(rec persistlog.EventRecord) error {
			_, err := fmt.Fprintln(os.Stdout, formatRecord(rec))
			return err
		}
	}

	n, err := replay(files, f, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if totals != nil {
		printTotals(os.Stdout, totals)
	}
	fmt.Fprintf(os.Stderr, "replayed %d record(s) from %d file(s)\n", n, len(files))
}

type filter struct {
	island string
	types  map[island.EventType]bool
}

func (f filter) keep(rec persistlog.EventRecord) bool {
	if f.island != "" && rec.IslandID != f.island {
		return false
	}
	if len(f.types) > 0 && !f.types[rec.Event.Type] {
		return false
	}
	return true
}

func parseTypes(s string) map[island.EventType]bool {
	out := map[island.EventType]bool{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[island.EventType(t)] = true
		}
	}
	return out
}

// replay feeds every kept record of files, in order, to fn.
func replay(files []string, f filter, fn func(persistlog.EventRecord) error) (int, error) {
	n := 0
	for _, path := range files {
		err := persistlog.ReadEvents(path, func(rec persistlog.EventRecord) error {
			if !f.keep(rec) {
				return nil
			}
			n++
			return fn(rec)
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func formatRecord(rec persistlog.EventRecord) string {
	ev := rec.Event
	return fmt.Sprintf("%s %s day=%d %-14s %-18s %s",
		ev.Timestamp.UTC().Format(time.RFC3339), rec.IslandID, ev.Day, ev.Phase, ev.Type, ev.Description)
}

type islandTotals struct {
	Events     int
	LastDay    int
	LastPhase  island.Phase
	Eliminated int
	Finished   bool
}

func countRecord(totals map[string]*islandTotals, rec persistlog.EventRecord) {
	t := totals[rec.IslandID]
	if t == nil {
		t = &islandTotals{}
		totals[rec.IslandID] = t
	}
	t.Events++
	if rec.Event.Day >= t.LastDay {
		t.LastDay = rec.Event.Day
		t.LastPhase = rec.Event.Phase
	}
	switch rec.Event.Type {
	case island.EventElimination:
		t.Eliminated++
	case island.EventDoubleElimination:
		t.Eliminated += 2
	case island.EventWinner:
		t.Finished = true
	}
}

func printTotals(w io.Writer, totals map[string]*islandTotals) {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := totals[id]
		fmt.Fprintf(w, "%s events=%d day=%d phase=%s eliminated=%d finished=%v\n",
			id, t.Events, t.LastDay, t.LastPhase, t.Eliminated, t.Finished)
	}
}
