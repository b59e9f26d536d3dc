package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the rolling accounting window for TPM and RPM.
const DefaultWindow = 60 * time.Second

var (
	// ErrNotFound is returned when no estimate entry exists for an id.
	ErrNotFound = errors.New("ledger: no estimate entry for id")

	// ErrDuplicate is returned when an id already owns an active entry.
	ErrDuplicate = errors.New("ledger: id already has an active entry")

	// ErrInvalidEntry is returned for malformed entries.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Ceiling bounds the aggregates an admission may reach.
type Ceiling struct {
	// Tokens is the tokens-per-window ceiling.
	Tokens int64

	// Requests is the requests-per-window ceiling.
	Requests int64
}

// Fits reports whether an additional reservation of required tokens is
// admissible under the ceiling given the current load.
func (c Ceiling) Fits(load Load, required int64) bool {
	return load.Tokens+required <= c.Tokens && load.Requests < c.Requests
}

// Load is a consistent view of the ledger aggregates.
type Load struct {
	// Tokens is the running token aggregate over the window.
	Tokens int64

	// Requests is the running request aggregate over the window.
	Requests int64

	// InFlight is the number of requests currently holding a permit.
	InFlight int

	// Estimates is the number of unconfirmed entries.
	Estimates int

	// Entries is the total number of entries.
	Entries int
}

// SweepResult describes one Sweep pass.
type SweepResult struct {
	// Removed is the number of expired confirmed entries dropped.
	Removed int

	// RetainedEstimates is the number of estimate entries older than the
	// window that were kept because they are still in flight.
	RetainedEstimates int

	// Tokens is the token contribution released by the pass.
	Tokens int64
}

// Ledger is an ordered record of consumption entries with O(1) aggregates.
type Ledger struct {
	mu     sync.Mutex
	window time.Duration

	entries []Entry

	// ids counts live entries per request id.
	ids map[string]int

	// held tracks ids that currently own a concurrency permit.
	held map[string]struct{}

	tokens    int64
	requests  int64
	estimates int
}

// New creates a ledger with the given window. A non-positive window selects
// DefaultWindow.
func New(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		window: window,
		ids:    make(map[string]int),
		held:   make(map[string]struct{}),
	}
}

// Window returns the accounting window.
func (l *Ledger) Window() time.Duration {
	return l.window
}

// Append records an entry unconditionally.
func (l *Ledger) Append(e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[e.ID] > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
	}
	l.appendLocked(e)
	return nil
}

// TryAppend records the entry only if its tokens fit under the ceiling. The
// check and the append happen under one lock, so two concurrent callers can
// never both claim the last unit of capacity. The returned Load is the view
// the decision was made on.
func (l *Ledger) TryAppend(e Entry, c Ceiling) (Load, bool, error) {
	if err := e.validate(); err != nil {
		return Load{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[e.ID] > 0 {
		return l.loadLocked(), false, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
	}

	load := l.loadLocked()
	if !c.Fits(load, e.Tokens()) {
		return load, false, nil
	}

	l.appendLocked(e)
	return load, true, nil
}

// Hold marks that the request owning id has acquired a concurrency permit.
func (l *Ledger) Hold(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.findLocked(id, KindEstimate) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, ok := l.held[id]; ok {
		return fmt.Errorf("%w: permit already held by %s", ErrDuplicate, id)
	}
	l.held[id] = struct{}{}
	return nil
}

// Replace swaps the estimate entry for id with a confirmed entry and applies
// the token delta to the aggregate in the same critical section. It reports
// the delta and whether a permit was held for id; the hold is cleared.
func (l *Ledger) Replace(id string, e Entry) (int64, bool, error) {
	e.ID = id
	if err := e.validate(); err != nil {
		return 0, false, err
	}
	if e.Kind != KindConfirmed {
		return 0, false, fmt.Errorf("%w: replacement for %s must be confirmed", ErrInvalidEntry, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.findLocked(id, KindEstimate)
	if i < 0 {
		return 0, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delta := e.Tokens() - l.entries[i].Tokens()
	l.entries[i] = e
	l.tokens += delta
	l.estimates--

	_, held := l.held[id]
	delete(l.held, id)

	return delta, held, nil
}

// Remove drops every entry for id, reverses their aggregate contribution and
// clears any permit hold. It reports the removed entries and whether a permit
// was held. Removing an unknown id is a no-op.
func (l *Ledger) Remove(id string) ([]Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, held := l.held[id]
	delete(l.held, id)

	if l.ids[id] == 0 {
		return nil, held
	}

	var removed []Entry
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ID == id {
			removed = append(removed, e)
			l.dropLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	l.clearTail(len(kept))
	l.entries = kept

	return removed, held
}

// Sweep removes confirmed entries older than the window relative to now.
func (l *Ledger) Sweep(now time.Time) SweepResult {
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	var res SweepResult
	kept := l.entries[:0]
	for _, e := range l.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		if e.IsEstimate() {
			res.RetainedEstimates++
			kept = append(kept, e)
			continue
		}
		res.Removed++
		res.Tokens += e.Tokens()
		l.dropLocked(e)
	}
	l.clearTail(len(kept))
	l.entries = kept

	return res
}

// Load returns the current aggregates.
func (l *Ledger) Load() Load {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

// Snapshot returns a copy of the entries in insertion order.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Holds reports whether id currently owns a permit.
func (l *Ledger) Holds(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

// appendLocked adds e and its contribution.
// Caller must hold l.mu.
func (l *Ledger) appendLocked(e Entry) {
	l.entries = append(l.entries, e)
	l.ids[e.ID]++
	l.tokens += e.Tokens()
	l.requests++
	if e.IsEstimate() {
		l.estimates++
	}
}

// dropLocked reverses the contribution of e.
// Caller must hold l.mu.
func (l *Ledger) dropLocked(e Entry) {
	l.tokens -= e.Tokens()
	l.requests--
	if e.IsEstimate() {
		l.estimates--
	}
	if n := l.ids[e.ID] - 1; n > 0 {
		l.ids[e.ID] = n
	} else {
		delete(l.ids, e.ID)
	}
}

// findLocked returns the index of the first entry for id with the given kind,
// or -1. Caller must hold l.mu.
func (l *Ledger) findLocked(id string, kind Kind) int {
	if l.ids[id] == 0 {
		return -1
	}
	for i, e := range l.entries {
		if e.ID == id && e.Kind == kind {
			return i
		}
	}
	return -1
}

// clearTail zeroes the entries past n so dropped ids are not retained by the
// backing array. Caller must hold l.mu.
func (l *Ledger) clearTail(n int) {
	for i := n; i < len(l.entries); i++ {
		l.entries[i] = Entry{}
	}
}

// loadLocked builds a Load. Caller must hold l.mu.
func (l *Ledger) loadLocked() Load {
	return Load{
		Tokens:    l.tokens,
		Requests:  l.requests,
		InFlight:  len(l.held),
		Estimates: l.estimates,
		Entries:   len(l.entries),
	}
}
