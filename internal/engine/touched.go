package engine

import (
	"sync"

	"github.com/convergent-io/convergent/internal/state"
)

// touchedSet is the per-run record of which resource addresses have been
// declared. It doubles as the in-flight marker: the first caller for an
// address wins, and a second declaration of the same address during one
// run, sequential or concurrent, is a duplicate. Entries are only ever
// added, so readers need no coordination beyond the mutex.
type touchedSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newTouchedSet() *touchedSet {
	return &touchedSet{keys: make(map[string]struct{})}
}

// add marks an address as touched. It reports false if the address was
// already marked this run.
func (t *touchedSet) add(scopePath []string, id string) bool {
	key := state.Key(scopePath, id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.keys[key]; dup {
		return false
	}
	t.keys[key] = struct{}{}
	return true
}

func (t *touchedSet) has(scopePath []string, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.keys[state.Key(scopePath, id)]
	return ok
}
