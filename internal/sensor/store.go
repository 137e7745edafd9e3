package sensor

import (
	"sync"
	"time"
)

// Operation names the kind of mutation that produced a Change.
type Operation string

// Store mutations.
const (
	OpReplace Operation = "replace"
	OpClear   Operation = "clear"
)

// Change describes one completed mutation.
type Change struct {
	Op      Operation
	Reading Reading
	At      time.Time
}

// ChangeFunc observes store mutations. See the package documentation for
// the rules observers must follow.
type ChangeFunc func(Change)

// Store is the single authoritative holder of the current Reading.
//
// Reads take a shared lock and never wait on observers. Writers are
// serialised end to end (state update plus observer notification), so
// observers see changes in exactly the order they were applied and the
// last writer to acquire the lock wins.
type Store struct {
	mu        sync.RWMutex // protects current and updatedAt
	current   Reading
	updatedAt time.Time

	writeMu   sync.Mutex // serialises mutation + notification
	observers []ChangeFunc
	obsMu     sync.RWMutex // protects observers

	now func() time.Time
}

// NewStore returns a Store holding the cleared reading.
func NewStore() *Store {
	return &Store{
		current: Cleared(),
		now:     time.Now,
	}
}

// Get returns a copy of the current reading. It never fails.
func (s *Store) Get() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// UpdatedAt returns the time of the last mutation, or the zero time if the
// store has never been written.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Replace overwrites the stored reading with r in full and returns the new
// current value. Absent fields in r clear previously present values.
func (s *Store) Replace(r Reading) Reading {
	return s.apply(OpReplace, r)
}

// Clear resets the stored reading to the cleared state and returns it.
func (s *Store) Clear() Reading {
	return s.apply(OpClear, Cleared())
}

// OnChange registers an observer for subsequent mutations.
func (s *Store) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) apply(op Operation, r Reading) Reading {
	next := r.Clone()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = next
	at := s.now()
	s.updatedAt = at
	s.mu.Unlock()

	s.notify(Change{Op: op, Reading: next, At: at})
	return next.Clone()
}

// notify calls every observer with its own copy of the change.
func (s *Store) notify(c Change) {
	s.obsMu.RLock()
	observers := make([]ChangeFunc, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(Change{Op: c.Op, Reading: c.Reading.Clone(), At: c.At})
	}
}
