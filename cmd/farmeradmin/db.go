package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"geik.xyz/farmer/internal/catalogs"
	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/farmer"
	"geik.xyz/farmer/internal/persistence/farmerdb"
	"geik.xyz/farmer/internal/persistence/storage"
)

// offline is a storage session opened outside the add-on.
type offline struct {
	db    *storage.DB
	store *farmerdb.Store
}

func openOffline(ctx context.Context, dataDir string, logger *log.Logger) (*offline, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	cat := catalogs.NewCache(dataDir)
	if err := cat.LoadAllLevels(); err != nil {
		return nil, err
	}
	db, err := storage.New(cfg.Database, dataDir, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	store := farmerdb.New(db, farmer.NewManager(cat.DefaultLevel), cat, logger)
	return &offline{db: db, store: store}, nil
}

func (o *offline) Close() error { return o.db.Close() }

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "add-on data directory")
	verbose := fs.Bool("v", false, "log storage activity to stderr")
	_ = fs.Parse(args)

	q := "count"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	o, err := openOffline(ctx, *dataDir, cliLogger(*verbose))
	if err != nil {
		fail("open", err)
	}
	defer o.Close()

	switch q {
	case "count":
		n, err := o.store.Count(ctx)
		if err != nil {
			fail("count", err)
		}
		fmt.Printf("%s farmers in %s\n", humanize.Comma(int64(n)), o.db.Backend())
	case "dump":
		recs, err := o.store.Records(ctx)
		if err != nil {
			fail("dump", err)
		}
		for _, r := range recs {
			printJSON(r)
		}
		if skipped := o.store.Quarantined(); len(skipped) > 0 {
			fmt.Fprintf(os.Stderr, "skipped %d malformed rows: %s\n", len(skipped), strings.Join(skipped, ","))
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown db query:", q)
		os.Exit(2)
	}
}

func cliLogger(verbose bool) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "[farmeradmin] ", log.LstdFlags)
}
