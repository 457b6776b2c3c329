package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"geik.xyz/farmer/internal/config"
	"geik.xyz/farmer/internal/farmer"
	"geik.xyz/farmer/internal/persistence/backup"
)

func TestRestoreLatestBackup(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.EnsureDefaults(dir); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	old := []farmer.Record{{PlayerID: "alice", Level: 1, Collecting: true}}
	cur := []farmer.Record{
		{PlayerID: "alice", Level: 3, Collecting: true, Stock: map[string]int{"WHEAT": 12}},
		{PlayerID: "bob", Level: 2},
	}
	if _, err := backup.Save(dir, time.Unix(100, 0), "sqlite", old, 0); err != nil {
		t.Fatalf("Save old: %v", err)
	}
	if _, err := backup.Save(dir, time.Unix(200, 0), "sqlite", cur, 0); err != nil {
		t.Fatalf("Save cur: %v", err)
	}

	path, err := pickBackup(dir, "")
	if err != nil {
		t.Fatalf("pickBackup: %v", err)
	}
	if filepath.Base(path) != backup.FileName(time.Unix(200, 0)) {
		t.Fatalf("latest=%s", path)
	}

	ctx := context.Background()
	o, err := openOffline(ctx, dir, nil)
	if err != nil {
		t.Fatalf("openOffline: %v", err)
	}
	defer o.Close()
	n, err := restore(ctx, o.store, path)
	if err != nil || n != 2 {
		t.Fatalf("restore n=%d err=%v", n, err)
	}
	recs, err := o.store.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].PlayerID != "alice" || recs[0].Level != 3 || recs[0].Stock["WHEAT"] != 12 {
		t.Fatalf("records=%+v", recs)
	}
}

func TestPickBackupEmpty(t *testing.T) {
	dir := t.TempDir()
	if _, err := pickBackup(dir, ""); err == nil {
		t.Fatalf("expected error without backups")
	}
	if p, err := pickBackup(dir, " x.zst "); err != nil || p != "x.zst" {
		t.Fatalf("explicit file: %q %v", p, err)
	}
}
