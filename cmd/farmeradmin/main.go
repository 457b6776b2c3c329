package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const usage = `usage: farmeradmin <command> [flags]

  db count|dump        inspect the farmers table (the add-on must be stopped for sqlite)
  backup list|show     inspect shutdown backups
  backup restore       upsert every farmer of a backup into the database
  backup push          copy a backup to the configured offsite bucket
  journal              print recorded host events
  state|flush          talk to a running farmerd over its admin endpoints
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "db":
		dbCmd(os.Args[2:])
	case "backup":
		backupCmd(os.Args[2:])
	case "journal":
		journalCmd(os.Args[2:])
	case "state":
		stateCmd(os.Args[2:])
	case "flush":
		flushCmd(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
