package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"geik.xyz/farmer/internal/persistence/journal"
)

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "add-on data directory")
	player := fs.String("player", "", "only events for this player id")
	rejected := fs.Bool("rejected", false, "only events a listener failed")
	limit := fs.Int("limit", 0, "stop after this many entries (0 = all)")
	_ = fs.Parse(args)

	files, err := journal.Files(journal.Dir(*dataDir))
	if err != nil {
		fail("journal", err)
	}
	want := strings.ToLower(strings.TrimSpace(*player))
	n := 0
	for _, path := range files {
		err := journal.ReadFile(path, func(e journal.Entry) bool {
			if want != "" && strings.ToLower(e.Event.PlayerID) != want {
				return true
			}
			if *rejected && e.Accepted {
				return true
			}
			printJSON(e)
			n++
			return *limit <= 0 || n < *limit
		})
		if err != nil {
			fail("read", err)
		}
		if *limit > 0 && n >= *limit {
			break
		}
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no matching journal entries")
	}
}
