// Package presence tracks which usernames currently hold a live connection.
// State is process-local and never persisted.
package presence

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Tracker counts open connections per username. A user becomes visible on
// their first connection and disappears when the last one closes.
type Tracker struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]int)}
}

// Connect records a new connection for username. joined is true when the
// visible set changed.
func (t *Tracker) Connect(username string) (joined bool, online []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[username]++
	return t.conns[username] == 1, t.snapshotLocked()
}

// Disconnect releases one connection for username. Unknown names are ignored.
func (t *Tracker) Disconnect(username string) (left bool, online []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.conns[username]
	if !ok {
		return false, t.snapshotLocked()
	}
	if n <= 1 {
		delete(t.conns, username)
		return true, t.snapshotLocked()
	}
	t.conns[username] = n - 1
	return false, t.snapshotLocked()
}

// Online returns the sorted list of connected usernames.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of distinct connected usernames.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Tracker) snapshotLocked() []string {
	out := make([]string, 0, len(t.conns))
	for name := range t.conns {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
