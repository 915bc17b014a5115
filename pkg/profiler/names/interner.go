// Package names interns scope names into small integer symbols.
//
// Reconstruction compares names by symbol identity; reports and exporters
// resolve symbols back to their text. Interned names live for the lifetime
// of the Interner, so a symbol recorded in any frame stays resolvable.
package names

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// Symbol identifies an interned name. The zero Symbol is the empty name.
type Symbol uint32

// None is the symbol of the empty string.
const None Symbol = 0

// Interner maps strings to stable symbols. Lookups of already interned names
// take only a read lock.
type Interner struct {
	mu      sync.RWMutex
	byHash  map[uint64][]Symbol
	strings []string
}

// NewInterner creates an interner with the empty name pre-registered.
func NewInterner() *Interner {
	return &Interner{
		byHash:  make(map[uint64][]Symbol),
		strings: []string{""},
	}
}

// Intern returns the symbol for name, registering it on first use.
func (in *Interner) Intern(name string) Symbol {
	if name == "" {
		return None
	}
	h := xxh3.HashString(name)

	in.mu.RLock()
	sym, ok := in.find(h, name)
	in.mu.RUnlock()
	if ok {
		return sym
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if sym, ok := in.find(h, name); ok {
		return sym
	}
	sym = Symbol(len(in.strings))
	in.strings = append(in.strings, name)
	in.byHash[h] = append(in.byHash[h], sym)
	return sym
}

// find must be called with mu held.
func (in *Interner) find(h uint64, name string) (Symbol, bool) {
	for _, sym := range in.byHash[h] {
		if in.strings[sym] == name {
			return sym, true
		}
	}
	return None, false
}

// Lookup returns the text of a symbol. Unknown symbols resolve to "".
func (in *Interner) Lookup(sym Symbol) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if int(sym) >= len(in.strings) {
		return ""
	}
	return in.strings[sym]
}

// Len returns the number of interned names including the empty name.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.strings)
}

// Resolver turns symbols back into names.
type Resolver interface {
	Lookup(Symbol) string
}
