package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clawparadise.ai/internal/persistence/archive"
)

const usage = `usage: admin <command> [flags] [args]

server (HTTP, -url):
  state                 operator state (loopback only)
  sweep                 run the deadline sweep now (loopback only)
  islands               list active islands
  island <id>           spectator view or archived summary
  leaderboard           all-time leaderboard
  create <type>         open a new island lobby
  advance [-force] <id> advance an island's phase
  quickfill <id>        fill a lobby with house agents

local files (-data):
  db [phases|islands|agents|agent <name>|catalogs]
  archive [<id>]        list finished games, or print one
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "db":
		dbCmd(args)
	case "archive":
		archiveCmd(args)
	case "state", "sweep", "islands", "island", "leaderboard", "create", "advance", "quickfill":
		httpCmd(cmd, args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	limit := fs.Int("limit", 20, "result limit (0 = all)")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "archive")
	if _, err := os.Stat(dir); err != nil {
		fmt.Fprintln(os.Stderr, "archive:", err)
		os.Exit(1)
	}
	s, err := archive.Open(dir, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open archive:", err)
		os.Exit(1)
	}
	defer s.Close()

	if id := strings.TrimSpace(fs.Arg(0)); id != "" {
		rec, ok, err := s.Get(id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "%s is not archived\n", id)
			os.Exit(1)
		}
		printJSON(os.Stdout, rec)
		return
	}

	entries, err := s.List(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		printJSON(os.Stdout, e)
	}
}
