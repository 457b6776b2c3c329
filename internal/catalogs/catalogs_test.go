package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCache_LoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ItemsFile, "items:\n  - id: wheat\n    price: 2\n  - id: CARROT\n    price: 3\n")
	writeFile(t, dir, LevelsFile, "levels:\n  - level: 2\n    capacity: 200\n    tax: 0.1\n  - level: 1\n    capacity: 100\n    tax: 0.2\n")

	c := NewCache(dir)
	if err := c.LoadAllItems(); err != nil {
		t.Fatalf("LoadAllItems: %v", err)
	}
	if err := c.LoadAllLevels(); err != nil {
		t.Fatalf("LoadAllLevels: %v", err)
	}

	if d, ok := c.Item(" Wheat "); !ok || d.ID != "WHEAT" || d.Price != 2 {
		t.Fatalf("Item(wheat)=%+v ok=%v", d, ok)
	}
	if _, ok := c.Item("STONE"); ok {
		t.Fatalf("unexpected STONE item")
	}
	if got := c.DefaultLevel(); got != 1 {
		t.Fatalf("DefaultLevel=%d want 1", got)
	}
	if l, ok := c.Level(2); !ok || l.Capacity != 200 {
		t.Fatalf("Level(2)=%+v ok=%v", l, ok)
	}
	if next, ok := c.NextLevel(1); !ok || next.Level != 2 {
		t.Fatalf("NextLevel(1)=%+v ok=%v", next, ok)
	}
	if _, ok := c.NextLevel(2); ok {
		t.Fatalf("NextLevel(2) should not exist")
	}
	if c.Items().Digest == "" || c.Levels().Digest == "" {
		t.Fatalf("digests should be set")
	}
}

func TestCache_ReloadReplacesWholesale(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ItemsFile, "items:\n  - id: WHEAT\n    price: 2\n")
	c := NewCache(dir)
	if err := c.LoadAllItems(); err != nil {
		t.Fatalf("LoadAllItems: %v", err)
	}
	before := c.Items()

	writeFile(t, dir, ItemsFile, "items:\n  - id: CACTUS\n    price: 1\n")
	if err := c.LoadAllItems(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := c.Item("WHEAT"); ok {
		t.Fatalf("WHEAT should be gone after reload")
	}
	if _, ok := c.Item("CACTUS"); !ok {
		t.Fatalf("CACTUS missing after reload")
	}
	if _, ok := before.ByID["WHEAT"]; !ok {
		t.Fatalf("previously obtained table must not change")
	}
}

func TestCache_FailedReloadKeepsTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, LevelsFile, "levels:\n  - level: 1\n    capacity: 10\n")
	c := NewCache(dir)
	if err := c.LoadAllLevels(); err != nil {
		t.Fatalf("LoadAllLevels: %v", err)
	}
	writeFile(t, dir, LevelsFile, "levels:\n  - level: 1\n  - level: 1\n")
	if err := c.LoadAllLevels(); err == nil {
		t.Fatalf("expected duplicate level error")
	}
	if _, ok := c.Level(1); !ok {
		t.Fatalf("failed reload must keep the old table")
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name, file, body string
		items            bool
	}{
		{"missing file", "", "", true},
		{"empty item id", ItemsFile, "items:\n  - price: 1\n", true},
		{"duplicate item", ItemsFile, "items:\n  - id: A\n  - id: a\n", true},
		{"negative price", ItemsFile, "items:\n  - id: A\n    price: -1\n", true},
		{"no levels", LevelsFile, "levels: []\n", false},
		{"level zero", LevelsFile, "levels:\n  - level: 0\n", false},
		{"bad tax", LevelsFile, "levels:\n  - level: 1\n    tax: 2\n", false},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		if tc.file != "" {
			writeFile(t, dir, tc.file, tc.body)
		}
		c := NewCache(dir)
		var err error
		if tc.items {
			err = c.LoadAllItems()
		} else {
			err = c.LoadAllLevels()
		}
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestResolveLevel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, LevelsFile, "levels:\n  - level: 1\n  - level: 2\n  - level: 5\n")
	c := NewCache(dir)
	if err := c.LoadAllLevels(); err != nil {
		t.Fatalf("LoadAllLevels: %v", err)
	}
	cases := []struct {
		in, want int
		ok       bool
	}{
		{1, 1, true},
		{5, 5, true},
		{0, 1, false},
		{3, 2, false},
		{9, 5, false},
	}
	for _, tc := range cases {
		got, ok := c.ResolveLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ResolveLevel(%d)=%d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
