// Package history keeps the append-only, versioned log of published mapping
// changes that subscribers replay from.
package history

import (
	"errors"
	"iter"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
)

// ErrTrimmed means the requested version is older than what the log retains.
// The caller must start over from a full snapshot.
var ErrTrimmed = errors.New("history: version trimmed")

// Entry is one published change. Removed entries carry Up=false and mark the
// name as gone; every other entry states the name's current reachability.
type Entry struct {
	Version uint64                `json:"version"`
	Mapping domain.ServiceMapping `json:"mapping"`
	Up      bool                  `json:"up"`
	Removed bool                  `json:"removed,omitempty"`
	Origin  domain.Origin         `json:"origin"`
}

// State is the published view of a single name.
type State struct {
	Spec   string        `json:"spec"`
	Up     bool          `json:"up"`
	Origin domain.Origin `json:"origin"`
}

// Diff is a collapsed delta between two versions. From is 0 for a full dump.
type Diff struct {
	From    uint64         `json:"from"`
	To      uint64         `json:"to"`
	Updated []MappingState `json:"updated"`
	Removed []string       `json:"removed"`
}

// MappingState is a name with its published state, as listed in a Diff.
type MappingState struct {
	Name string `json:"name"`
	State
}

// Log is safe for one writer and any number of concurrent readers.
type Log struct {
	mu      sync.RWMutex
	entries []Entry // versions floor+1 .. floor+len(entries)
	floor   uint64
	current map[string]State
	changed chan struct{}
}

// NewLog creates an empty log at version 0.
func NewLog() *Log {
	return &Log{
		current: make(map[string]State),
		changed: make(chan struct{}),
	}
}

// Append assigns the next version to e, stores it and wakes waiting readers.
func (l *Log) Append(m domain.ServiceMapping, up, removed bool, origin domain.Origin) Entry {
	l.mu.Lock()
	e := Entry{
		Version: l.floor + uint64(len(l.entries)) + 1,
		Mapping: m,
		Up:      up && !removed,
		Removed: removed,
		Origin:  origin,
	}
	l.entries = append(l.entries, e)
	if removed {
		delete(l.current, m.Name)
	} else {
		l.current[m.Name] = State{Spec: m.Spec, Up: e.Up, Origin: origin}
	}
	ch := l.changed
	l.changed = make(chan struct{})
	l.mu.Unlock()

	close(ch)
	return e
}

// Version returns the latest assigned version.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor + uint64(len(l.entries))
}

// Floor returns the newest version that has been trimmed away.
func (l *Log) Floor() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Changed returns a channel closed by the next Append. Grab it before
// checking for new entries to avoid missing a wakeup.
func (l *Log) Changed() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.changed
}

// EntriesSince returns the entries with a version strictly greater than v, in
// append order. The sequence is bounded by the log length at the time
// iteration starts and can be ranged over again to pick up newer entries.
func (l *Log) EntriesSince(v uint64) (iter.Seq[Entry], error) {
	if v < l.Floor() {
		return nil, ErrTrimmed
	}
	return func(yield func(Entry) bool) {
		l.mu.RLock()
		entries, floor := l.entries, l.floor
		l.mu.RUnlock()

		if v < floor {
			return
		}
		for i := v - floor; i < uint64(len(entries)); i++ {
			if !yield(entries[i]) {
				return
			}
		}
	}, nil
}

// Snapshot returns the latest version together with a copy of every
// published name.
func (l *Log) Snapshot() (uint64, map[string]State) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]State, len(l.current))
	for name, st := range l.current {
		out[name] = st
	}
	return l.floor + uint64(len(l.entries)), out
}

// Diff collapses everything after v into one delta. When v is trimmed or
// ahead of the log, the result is a full dump with From=0.
func (l *Log) Diff(v uint64) Diff {
	l.mu.RLock()
	defer l.mu.RUnlock()

	latest := l.floor + uint64(len(l.entries))
	if v < l.floor || v > latest {
		return l.fullLocked(latest)
	}

	touched := make(map[string]struct{})
	for _, e := range l.entries[v-l.floor:] {
		touched[e.Mapping.Name] = struct{}{}
	}

	d := Diff{From: v, To: latest, Updated: []MappingState{}, Removed: []string{}}
	for name := range touched {
		if st, ok := l.current[name]; ok {
			d.Updated = append(d.Updated, MappingState{Name: name, State: st})
		} else {
			d.Removed = append(d.Removed, name)
		}
	}
	sortDiff(&d)
	return d
}

func (l *Log) fullLocked(latest uint64) Diff {
	d := Diff{To: latest, Updated: make([]MappingState, 0, len(l.current)), Removed: []string{}}
	for name, st := range l.current {
		d.Updated = append(d.Updated, MappingState{Name: name, State: st})
	}
	sortDiff(&d)
	return d
}

func sortDiff(d *Diff) {
	sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].Name < d.Updated[j].Name })
	sort.Strings(d.Removed)
}

// Trim drops all but the newest keep entries and returns how many were dropped.
// Live state is unaffected; only replay from old versions becomes impossible.
func (l *Log) Trim(keep int) int {
	if keep < 0 {
		keep = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	drop := len(l.entries) - keep
	if drop <= 0 {
		return 0
	}
	kept := make([]Entry, keep)
	copy(kept, l.entries[drop:])
	l.floor += uint64(drop)
	l.entries = kept
	return drop
}
