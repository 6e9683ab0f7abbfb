// Package dispatcher is the read side of the broker: it serves snapshots and
// version-anchored subscriptions from the history log the directory writes.
package dispatcher

import (
	"context"

	"github.com/MrSnakeDoc/namebroker/internal/history"
)

// Snapshot is the full published view as of Version.
type Snapshot struct {
	Version  uint64                   `json:"version"`
	Mappings map[string]history.State `json:"mappings"`
}

// Dispatcher exposes exactly what the directory last published.
type Dispatcher struct {
	log *history.Log
}

// New creates a dispatcher over log.
func New(log *history.Log) *Dispatcher {
	return &Dispatcher{log: log}
}

// Current returns the full snapshot at the latest version.
func (d *Dispatcher) Current() Snapshot {
	v, m := d.log.Snapshot()
	return Snapshot{Version: v, Mappings: m}
}

// Version returns the latest published version.
func (d *Dispatcher) Version() uint64 {
	return d.log.Version()
}

// Diff returns the collapsed changes after since.
func (d *Dispatcher) Diff(since uint64) history.Diff {
	return d.log.Diff(since)
}

// Subscribe starts a subscription that first replays the entries after since
// and then follows new appends.
func (d *Dispatcher) Subscribe(since uint64) *Subscription {
	return &Subscription{log: d.log, cursor: since}
}

// Subscription hands out history entries one by one. Versions are the cursor,
// so the switch from replay to live delivery neither repeats nor skips.
// A Subscription is not safe for concurrent use.
type Subscription struct {
	log     *history.Log
	cursor  uint64
	pending []history.Entry
}

// Cursor returns the version of the last entry handed out.
func (s *Subscription) Cursor() uint64 {
	return s.cursor
}

// Next blocks until the entry after the cursor is available or ctx is done.
// It returns history.ErrTrimmed if the subscriber fell behind the retained log.
func (s *Subscription) Next(ctx context.Context) (history.Entry, error) {
	for len(s.pending) == 0 {
		changed := s.log.Changed()
		if err := s.fill(); err != nil {
			return history.Entry{}, err
		}
		if len(s.pending) > 0 {
			break
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return history.Entry{}, ctx.Err()
		}
	}

	e := s.pending[0]
	s.pending = s.pending[1:]
	s.cursor = e.Version
	return e, nil
}

func (s *Subscription) fill() error {
	seq, err := s.log.EntriesSince(s.cursor)
	if err != nil {
		return err
	}
	for e := range seq {
		s.pending = append(s.pending, e)
	}
	// trimmed between the check and the iteration
	if len(s.pending) == 0 && s.cursor < s.log.Floor() {
		return history.ErrTrimmed
	}
	return nil
}
