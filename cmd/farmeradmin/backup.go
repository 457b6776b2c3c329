package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/persistence/backup"
	"geik.xyz/farmer/internal/persistence/farmerdb"
	"geik.xyz/farmer/internal/persistence/offsite"
)

func backupCmd(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "add-on data directory")
	file := fs.String("file", "", "backup file (default: latest)")
	verbose := fs.Bool("v", false, "log storage activity to stderr")
	_ = fs.Parse(args)

	q := "list"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	switch q {
	case "list":
		entries, err := backup.List(backup.Dir(*dataDir))
		if err != nil {
			fail("list", err)
		}
		for _, e := range entries {
			h, err := backup.ReadHeader(e.Path)
			if err != nil {
				fmt.Printf("%s  %s  unreadable: %v\n", filepath.Base(e.Path), humanize.Bytes(uint64(e.Size)), err)
				continue
			}
			fmt.Printf("%s  %s  %s farmers  %s  (%s)\n",
				filepath.Base(e.Path), humanize.Bytes(uint64(e.Size)), humanize.Comma(int64(h.Farmers)), h.Backend, humanize.Time(e.Created))
		}
	case "show":
		path, err := pickBackup(*dataDir, *file)
		if err != nil {
			fail("show", err)
		}
		b, err := backup.Read(path)
		if err != nil {
			fail("read", err)
		}
		printJSON(b.Header)
		for _, r := range b.Farmers {
			printJSON(r)
		}
	case "restore":
		path, err := pickBackup(*dataDir, *file)
		if err != nil {
			fail("restore", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		o, err := openOffline(ctx, *dataDir, cliLogger(*verbose))
		if err != nil {
			fail("open", err)
		}
		defer o.Close()
		n, err := restore(ctx, o.store, path)
		if err != nil {
			fail("restore", err)
		}
		fmt.Printf("restored %s farmers from %s into %s\n", humanize.Comma(int64(n)), filepath.Base(path), o.db.Backend())
	case "push":
		path, err := pickBackup(*dataDir, *file)
		if err != nil {
			fail("push", err)
		}
		cfg, err := config.Load(*dataDir)
		if err != nil {
			fail("config", err)
		}
		up, err := offsite.New(cfg.Backup.Offsite, *dataDir, cliLogger(*verbose))
		if err != nil {
			fail("offsite", err)
		}
		key, err := up.Upload(context.Background(), path)
		if err != nil {
			fail("push", err)
		}
		fmt.Printf("copied %s to %s/%s\n", filepath.Base(path), cfg.Backup.Offsite.Bucket, key)
	default:
		fmt.Fprintln(os.Stderr, "unknown backup command:", q)
		os.Exit(2)
	}
}

func pickBackup(dataDir, file string) (string, error) {
	if file = strings.TrimSpace(file); file != "" {
		return file, nil
	}
	entries, err := backup.List(backup.Dir(dataDir))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no backups found")
	}
	return entries[0].Path, nil
}

// restore upserts every record of the backup. It keeps going past bad
// records and reports them together.
func restore(ctx context.Context, store *farmerdb.Store, path string) (int, error) {
	b, err := backup.Read(path)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, rec := range b.Farmers {
		if err := store.UpsertRecord(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.PlayerID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
