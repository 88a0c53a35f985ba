package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnbound = errors.New("runtime entry not bound")

// Table binds catalogue entries to native addresses. It is filled once and
// then shared read-only between compilations.
type Table struct {
	mu    sync.RWMutex
	addrs map[string]uintptr
}

func NewTable() *Table {
	return &Table{addrs: make(map[string]uintptr)}
}

// Bind records the address of the entry called name. Names outside the
// catalogue and zero addresses are rejected.
func (t *Table) Bind(name string, addr uintptr) error {
	if _, ok := catalogue[name]; !ok {
		return fmt.Errorf("runtime: unknown entry %q", name)
	}
	if addr == 0 {
		return fmt.Errorf("runtime: entry %q bound to nil address", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[name] = addr
	return nil
}

// Lookup returns the entry called name and its bound address.
func (t *Table) Lookup(name string) (Entry, uintptr, error) {
	entry, ok := catalogue[name]
	if !ok {
		return Entry{}, 0, fmt.Errorf("runtime: unknown entry %q", name)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	addr, ok := t.addrs[name]
	if !ok {
		return entry, 0, fmt.Errorf("runtime: %s: %w", name, ErrUnbound)
	}
	return entry, addr, nil
}

// Complete reports every catalogue entry that has no address.
func (t *Table) Complete() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var missing []string
	for name := range catalogue {
		if _, ok := t.addrs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("runtime: %d entries %w: %s", len(missing), ErrUnbound, strings.Join(missing, ", "))
}

// Symbols maps every bound address back to its entry name.
func (t *Table) Symbols() map[uintptr]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[uintptr]string, len(t.addrs))
	for name, addr := range t.addrs {
		out[addr] = name
	}
	return out
}

// PlaceholderTable binds every entry to a distinct fake address starting at
// base. Code linked against it can be inspected but never run.
func PlaceholderTable(base uintptr) *Table {
	t := NewTable()
	for i, e := range Catalogue() {
		t.addrs[e.Name] = base + uintptr(i)*0x10
	}
	return t
}
