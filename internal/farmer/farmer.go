package farmer

import (
	"sort"
	"strings"
	"sync"
)

// Record is the plain, copyable state of a Farmer. It is what gets persisted.
type Record struct {
	PlayerID   string          `json:"player_id"`
	Name       string          `json:"name"`
	Level      int             `json:"level"`
	Collecting bool            `json:"collecting"`
	Stock      map[string]int  `json:"stock"`
	Attributes map[string]bool `json:"attributes"`
}

// Farmer is one player's live farming state. All methods are safe for
// concurrent use.
type Farmer struct {
	playerID string

	mu         sync.Mutex
	name       string
	level      int
	collecting bool
	stock      map[string]int
	attrs      map[string]bool
}

// New returns a default-state farmer: collecting, empty stock, no attributes.
func New(playerID string, level int) *Farmer {
	return &Farmer{
		playerID:   playerID,
		level:      level,
		collecting: true,
		stock:      map[string]int{},
		attrs:      map[string]bool{},
	}
}

// FromRecord builds a farmer from persisted state. The record's maps are
// copied.
func FromRecord(r Record) *Farmer {
	f := &Farmer{
		playerID:   r.PlayerID,
		name:       r.Name,
		level:      r.Level,
		collecting: r.Collecting,
		stock:      make(map[string]int, len(r.Stock)),
		attrs:      make(map[string]bool, len(r.Attributes)),
	}
	for k, v := range r.Stock {
		f.stock[k] = v
	}
	for k, v := range r.Attributes {
		f.attrs[k] = v
	}
	return f
}

func (f *Farmer) PlayerID() string { return f.playerID }

// Record returns a deep copy of the current state.
func (f *Farmer) Record() Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := Record{
		PlayerID:   f.playerID,
		Name:       f.name,
		Level:      f.level,
		Collecting: f.collecting,
		Stock:      make(map[string]int, len(f.stock)),
		Attributes: make(map[string]bool, len(f.attrs)),
	}
	for k, v := range f.stock {
		r.Stock[k] = v
	}
	for k, v := range f.attrs {
		r.Attributes[k] = v
	}
	return r
}

func (f *Farmer) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

func (f *Farmer) SetName(name string) {
	f.mu.Lock()
	f.name = strings.TrimSpace(name)
	f.mu.Unlock()
}

func (f *Farmer) Level() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *Farmer) SetLevel(level int) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (f *Farmer) Collecting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collecting
}

func (f *Farmer) SetCollecting(on bool) {
	f.mu.Lock()
	f.collecting = on
	f.mu.Unlock()
}

func (f *Farmer) Stock(item string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[item]
}

// Collect adds up to amount of item without exceeding capacity and returns
// how much was stored. capacity < 0 means unbounded.
func (f *Farmer) Collect(item string, amount, capacity int) int {
	if amount <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.stock[item]
	if capacity >= 0 {
		if cur >= capacity {
			return 0
		}
		if room := capacity - cur; amount > room {
			amount = room
		}
	}
	f.stock[item] = cur + amount
	return amount
}

// Take removes up to amount of item and returns how much was removed.
// amount < 0 takes everything.
func (f *Farmer) Take(item string, amount int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.stock[item]
	if amount < 0 || amount > cur {
		amount = cur
	}
	if cur-amount == 0 {
		delete(f.stock, item)
	} else {
		f.stock[item] = cur - amount
	}
	return amount
}

func (f *Farmer) Attribute(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs[key]
}

func (f *Farmer) SetAttribute(key string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.attrs[key] = true
		return
	}
	delete(f.attrs, key)
}

// Items lists stocked item ids, sorted.
func (f *Farmer) Items() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.stock))
	for k := range f.stock {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
