package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	ItemsFile  = "items.yml"
	LevelsFile = "levels.yml"
)

type ItemDef struct {
	ID    string  `yaml:"id" json:"id"`
	Price float64 `yaml:"price" json:"price"`
}

type LevelDef struct {
	Level    int     `yaml:"level" json:"level"`
	Capacity int     `yaml:"capacity" json:"capacity"`
	Cost     float64 `yaml:"cost" json:"cost"`
	Tax      float64 `yaml:"tax" json:"tax"`
}

// ItemTable is an immutable item catalog. Never mutate a table obtained from
// a Cache; load a new one instead.
type ItemTable struct {
	ByID   map[string]ItemDef
	IDs    []string
	Digest string
}

// LevelTable is an immutable level catalog, ordered by level number.
type LevelTable struct {
	ByLevel map[int]LevelDef
	Ordered []LevelDef
	Digest  string
}

// Cache holds the reference tables. Loads swap a whole table atomically so
// readers never see a partially built one.
type Cache struct {
	dir    string
	items  atomic.Pointer[ItemTable]
	levels atomic.Pointer[LevelTable]
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// LoadAllItems reads items.yml and replaces the item table wholesale.
func (c *Cache) LoadAllItems() error {
	t, err := loadItems(filepath.Join(c.dir, ItemsFile))
	if err != nil {
		return err
	}
	c.items.Store(t)
	return nil
}

// LoadAllLevels reads levels.yml and replaces the level table wholesale.
func (c *Cache) LoadAllLevels() error {
	t, err := loadLevels(filepath.Join(c.dir, LevelsFile))
	if err != nil {
		return err
	}
	c.levels.Store(t)
	return nil
}

func (c *Cache) Items() *ItemTable {
	if t := c.items.Load(); t != nil {
		return t
	}
	return &ItemTable{ByID: map[string]ItemDef{}}
}

func (c *Cache) Levels() *LevelTable {
	if t := c.levels.Load(); t != nil {
		return t
	}
	return &LevelTable{ByLevel: map[int]LevelDef{}}
}

func (c *Cache) Item(id string) (ItemDef, bool) {
	d, ok := c.Items().ByID[normalizeID(id)]
	return d, ok
}

func (c *Cache) Level(n int) (LevelDef, bool) {
	d, ok := c.Levels().ByLevel[n]
	return d, ok
}

// DefaultLevel is the level new farmers start at: the lowest defined level,
// or 1 when no levels are loaded.
func (c *Cache) DefaultLevel() int {
	t := c.Levels()
	if len(t.Ordered) == 0 {
		return 1
	}
	return t.Ordered[0].Level
}

// ResolveLevel maps a stored level number onto a defined one. Values outside
// the table clamp to its ends; gaps resolve to the closest lower level.
// ok is false when the value had to be changed.
func (c *Cache) ResolveLevel(n int) (level int, ok bool) {
	t := c.Levels()
	if _, found := t.ByLevel[n]; found {
		return n, true
	}
	if len(t.Ordered) == 0 {
		return n, n >= 1
	}
	resolved := t.Ordered[0].Level
	for _, d := range t.Ordered {
		if d.Level > n {
			break
		}
		resolved = d.Level
	}
	return resolved, false
}

// NextLevel returns the level after n, if any.
func (c *Cache) NextLevel(n int) (LevelDef, bool) {
	for _, d := range c.Levels().Ordered {
		if d.Level > n {
			return d, true
		}
	}
	return LevelDef{}, false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func loadItems(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Items []ItemDef `yaml:"items"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("items.yml: %w", err)
	}
	t := &ItemTable{
		ByID:   make(map[string]ItemDef, len(doc.Items)),
		Digest: sha256Hex(raw),
	}
	for i, d := range doc.Items {
		d.ID = normalizeID(d.ID)
		if d.ID == "" {
			return nil, fmt.Errorf("items.yml: items[%d]: empty id", i)
		}
		if _, dup := t.ByID[d.ID]; dup {
			return nil, fmt.Errorf("items.yml: duplicate item id: %s", d.ID)
		}
		if d.Price < 0 {
			return nil, fmt.Errorf("items.yml: item %s price must be >= 0", d.ID)
		}
		t.ByID[d.ID] = d
		t.IDs = append(t.IDs, d.ID)
	}
	sort.Strings(t.IDs)
	return t, nil
}

func loadLevels(path string) (*LevelTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Levels []LevelDef `yaml:"levels"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("levels.yml: %w", err)
	}
	if len(doc.Levels) == 0 {
		return nil, fmt.Errorf("levels.yml: at least one level is required")
	}
	t := &LevelTable{
		ByLevel: make(map[int]LevelDef, len(doc.Levels)),
		Digest:  sha256Hex(raw),
	}
	for i, d := range doc.Levels {
		if d.Level < 1 {
			return nil, fmt.Errorf("levels.yml: levels[%d]: level must be >= 1", i)
		}
		if _, dup := t.ByLevel[d.Level]; dup {
			return nil, fmt.Errorf("levels.yml: duplicate level: %d", d.Level)
		}
		if d.Capacity < 0 {
			return nil, fmt.Errorf("levels.yml: level %d capacity must be >= 0", d.Level)
		}
		if d.Tax < 0 || d.Tax > 1 {
			return nil, fmt.Errorf("levels.yml: level %d tax must be in [0,1]", d.Level)
		}
		t.ByLevel[d.Level] = d
		t.Ordered = append(t.Ordered, d)
	}
	sort.Slice(t.Ordered, func(i, j int) bool { return t.Ordered[i].Level < t.Ordered[j].Level })
	return t, nil
}
