package integrations

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInsufficientFunds = errors.New("economy: insufficient funds")
	ErrUnknownProvider   = errors.New("economy: unknown provider")
)

// Economy is an external currency provider. Amounts are in the provider's
// major unit.
type Economy interface {
	Name() string
	Balance(playerID string) float64
	Deposit(playerID string, amount float64) error
	Withdraw(playerID string, amount float64) error
}

type Factory func() (Economy, error)

// Registry maps `settings.economy` names to providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("memory", func() (Economy, error) { return NewMemory(), nil })
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(name))] = f
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the named provider. "none" and "" yield no economy and no
// error; an unknown name or a failing factory yields an error the caller is
// expected to log and continue past.
func (r *Registry) Resolve(name string) (Economy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		return nil, nil
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	eco, err := f()
	if err != nil {
		return nil, fmt.Errorf("economy %s: %w", name, err)
	}
	return eco, nil
}

// Memory is an in-process economy. Balances do not survive a restart.
type Memory struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewMemory() *Memory { return &Memory{balances: map[string]float64{}} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Balance(playerID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[playerID]
}

func (m *Memory) Deposit(playerID string, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] += amount
	return nil
}

func (m *Memory) Withdraw(playerID string, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[playerID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[playerID] -= amount
	return nil
}

func checkAmount(amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("economy: invalid amount %v", amount)
	}
	return nil
}
