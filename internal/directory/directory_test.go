package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	"github.com/MrSnakeDoc/namebroker/internal/loop"
)

var (
	svcA1 = domain.ServiceMapping{Name: "svc-a", Spec: "host1:9000"}
	svcA2 = domain.ServiceMapping{Name: "svc-a", Spec: "host2:9000"}
	svcB  = domain.ServiceMapping{Name: "svc-b", Spec: "hostX:9000"}
	svcB2 = domain.ServiceMapping{Name: "svc-b", Spec: "hostY:9000"}
)

// fakeMonitor records its start parameters and whether it was stopped.
type fakeMonitor struct {
	mapping domain.ServiceMapping
	hurry   bool
	owner   domain.MonitorOwner
	stopped bool
}

func (m *fakeMonitor) Stop() { m.stopped = true }

func (m *fakeMonitor) up()   { m.owner.Up(m.mapping) }
func (m *fakeMonitor) down() { m.owner.Down(m.mapping) }

type fakeMonitors struct {
	started []*fakeMonitor
}

func (f *fakeMonitors) Start(m domain.ServiceMapping, hurry bool, owner domain.MonitorOwner) domain.Monitor {
	mon := &fakeMonitor{mapping: m, hurry: hurry, owner: owner}
	f.started = append(f.started, mon)
	return mon
}

// last returns the most recent monitor started for m.
func (f *fakeMonitors) last(m domain.ServiceMapping) *fakeMonitor {
	for i := len(f.started) - 1; i >= 0; i-- {
		if f.started[i].mapping == m {
			return f.started[i]
		}
	}
	return nil
}

// recorder is a completion handler that counts every call.
type recorder struct {
	outcomes []domain.Outcome
}

func (r *recorder) Succeeded()  { r.outcomes = append(r.outcomes, domain.OutcomeSucceeded) }
func (r *recorder) Conflicted() { r.outcomes = append(r.outcomes, domain.OutcomeConflicted) }
func (r *recorder) Cancelled()  { r.outcomes = append(r.outcomes, domain.OutcomeCancelled) }

func (r *recorder) assertOnly(t *testing.T, want domain.Outcome) {
	t.Helper()
	require.Len(t, r.outcomes, 1, "handler must be resolved exactly once")
	assert.Equal(t, want, r.outcomes[0])
}

type fixture struct {
	loop     *loop.Loop
	monitors *fakeMonitors
	log      *history.Log
	dir      *Directory
}

func newFixture() *fixture {
	f := &fixture{
		loop:     loop.New(),
		monitors: &fakeMonitors{},
		log:      history.NewLog(),
	}
	f.dir = New(f.loop, f.monitors, f.log, logger.Nop())
	return f
}

func (f *fixture) entries(t *testing.T) []history.Entry {
	t.Helper()
	seq, err := f.log.EntriesSince(0)
	require.NoError(t, err)
	var out []history.Entry
	for e := range seq {
		out = append(out, e)
	}
	return out
}

func TestLocalRegistrationSucceedsWhenMonitorReportsUp(t *testing.T) {
	f := newFixture()
	h := &recorder{}

	f.dir.AddLocal(svcA1, h)
	assert.Empty(t, h.outcomes, "resolution must wait for the monitor")

	mon := f.monitors.last(svcA1)
	require.NotNil(t, mon)
	assert.True(t, mon.hurry, "local registrations hurry the first probe")

	info, ok := f.dir.Lookup("svc-a")
	require.True(t, ok)
	assert.True(t, info.Pending)
	assert.False(t, info.Up)

	mon.up()
	f.loop.Drain()

	h.assertOnly(t, domain.OutcomeSucceeded)

	_, snap := f.log.Snapshot()
	assert.Equal(t, history.State{Spec: "host1:9000", Up: true, Origin: domain.OriginLocal}, snap["svc-a"])

	// further ups change nothing and never resolve twice
	mon.up()
	f.loop.Drain()
	h.assertOnly(t, domain.OutcomeSucceeded)
	assert.Len(t, f.entries(t), 1)
}

func TestConflictingLocalRegistrationIsRejectedImmediately(t *testing.T) {
	f := newFixture()
	h1, h2 := &recorder{}, &recorder{}

	f.dir.AddLocal(svcA1, h1)
	f.dir.AddLocal(svcA2, h2)

	h2.assertOnly(t, domain.OutcomeConflicted)
	assert.Empty(t, h1.outcomes, "first registration unaffected")
	assert.Len(t, f.monitors.started, 1)
	assert.True(t, f.dir.WouldConflict(svcA2))
	assert.False(t, f.dir.WouldConflict(svcA1))

	f.monitors.last(svcA1).up()
	f.loop.Drain()
	h1.assertOnly(t, domain.OutcomeSucceeded)
}

func TestSameSpecRegistration(t *testing.T) {
	t.Run("while up succeeds immediately", func(t *testing.T) {
		f := newFixture()
		f.dir.AddLocal(svcA1, &recorder{})
		f.monitors.last(svcA1).up()
		f.loop.Drain()

		again := &recorder{}
		f.dir.AddLocal(svcA1, again)
		again.assertOnly(t, domain.OutcomeSucceeded)
		assert.Len(t, f.monitors.started, 1, "no second monitor")
	})

	t.Run("while another is pending is rejected", func(t *testing.T) {
		f := newFixture()
		first, second := &recorder{}, &recorder{}
		f.dir.AddLocal(svcA1, first)
		f.dir.AddLocal(svcA1, second)

		second.assertOnly(t, domain.OutcomeConflicted)
		assert.Empty(t, first.outcomes)
	})

	t.Run("while down and idle becomes the pending one", func(t *testing.T) {
		f := newFixture()
		first := &recorder{}
		f.dir.AddLocal(svcA1, first)
		mon := f.monitors.last(svcA1)
		mon.up()
		f.loop.Drain()
		mon.down()
		f.loop.Drain()

		second := &recorder{}
		f.dir.AddLocal(svcA1, second)
		assert.Empty(t, second.outcomes)

		mon.up()
		f.loop.Drain()
		second.assertOnly(t, domain.OutcomeSucceeded)
		first.assertOnly(t, domain.OutcomeSucceeded)
	})
}

func TestDownKeepsRegistrationPending(t *testing.T) {
	f := newFixture()
	h := &recorder{}
	f.dir.AddLocal(svcA1, h)
	mon := f.monitors.last(svcA1)

	mon.down()
	f.loop.Drain()
	assert.Empty(t, h.outcomes)
	assert.Zero(t, f.log.Version(), "down on an unpublished entry changes no published state")

	mon.up()
	mon.down()
	f.loop.Drain()
	h.assertOnly(t, domain.OutcomeSucceeded)

	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Up)
	assert.False(t, entries[1].Up)
	assert.False(t, entries[1].Removed)
}

func TestRemoveLocal(t *testing.T) {
	t.Run("before up cancels the registration", func(t *testing.T) {
		f := newFixture()
		h := &recorder{}
		f.dir.AddLocal(svcA1, h)

		f.dir.RemoveLocal(svcA1)

		h.assertOnly(t, domain.OutcomeCancelled)
		assert.True(t, f.monitors.last(svcA1).stopped)
		assert.Zero(t, f.dir.Len())
		assert.Zero(t, f.log.Version(), "never published, nothing to retract")
	})

	t.Run("after up publishes a removal", func(t *testing.T) {
		f := newFixture()
		f.dir.AddLocal(svcA1, &recorder{})
		f.monitors.last(svcA1).up()
		f.loop.Drain()

		f.dir.RemoveLocal(svcA1)

		entries := f.entries(t)
		require.Len(t, entries, 2)
		assert.True(t, entries[1].Removed)
		assert.False(t, entries[1].Up)
		_, snap := f.log.Snapshot()
		assert.NotContains(t, snap, "svc-a")
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture()
		f.dir.RemoveLocal(svcA1)

		f.dir.AddLocal(svcA1, &recorder{})
		f.monitors.last(svcA1).up()
		f.loop.Drain()

		f.dir.RemoveLocal(svcA2) // different spec
		assert.Equal(t, 1, f.dir.Len())

		f.dir.RemoveLocal(svcA1)
		v := f.log.Version()
		f.dir.RemoveLocal(svcA1)
		assert.Equal(t, v, f.log.Version())
		assert.Zero(t, f.dir.Len())
	})

	t.Run("ignores learned entries", func(t *testing.T) {
		f := newFixture()
		f.dir.Add(svcB)
		f.loop.Drain()

		f.dir.RemoveLocal(svcB)
		assert.Equal(t, 1, f.dir.Len())
	})
}

func TestStaleMonitorCallbacksAreIgnored(t *testing.T) {
	f := newFixture()
	f.dir.AddLocal(svcA1, &recorder{})
	old := f.monitors.last(svcA1)

	f.dir.RemoveLocal(svcA1)
	old.up()
	old.down()
	f.loop.Drain()

	_, ok := f.dir.Lookup("svc-a")
	assert.False(t, ok, "stale up must not resurrect the entry")
	assert.Zero(t, f.log.Version())

	// a new registration of the same mapping is not driven by the old monitor
	h := &recorder{}
	f.dir.AddLocal(svcA1, h)
	old.up()
	f.loop.Drain()
	assert.Empty(t, h.outcomes)

	f.monitors.last(svcA1).up()
	f.loop.Drain()
	h.assertOnly(t, domain.OutcomeSucceeded)
}

func TestCoalescedAddThenRemovePublishesNothing(t *testing.T) {
	f := newFixture()

	f.dir.Add(svcB)
	f.dir.Remove(svcB)
	assert.Zero(t, f.dir.Len(), "learned events are not applied before the next pass")

	f.loop.Drain()

	assert.Zero(t, f.log.Version())
	assert.Zero(t, f.dir.Len())
	require.Len(t, f.monitors.started, 1)
	assert.True(t, f.monitors.started[0].stopped)
}

func TestLearnedMappings(t *testing.T) {
	t.Run("add starts an unhurried monitor", func(t *testing.T) {
		f := newFixture()
		f.dir.Add(svcB)
		f.loop.Drain()

		info, ok := f.dir.Lookup("svc-b")
		require.True(t, ok)
		assert.Equal(t, domain.OriginLearned, info.Origin)
		assert.False(t, f.monitors.last(svcB).hurry)
	})

	t.Run("duplicate add is a no-op", func(t *testing.T) {
		f := newFixture()
		f.dir.Add(svcB)
		f.dir.Add(svcB)
		f.loop.Drain()
		assert.Len(t, f.monitors.started, 1)
	})

	t.Run("conflicting add replaces learned entry", func(t *testing.T) {
		f := newFixture()
		f.dir.Add(svcB)
		f.loop.Drain()
		old := f.monitors.last(svcB)
		old.up()
		f.loop.Drain()

		f.dir.Add(svcB2)
		f.loop.Drain()

		assert.True(t, old.stopped)
		info, ok := f.dir.Lookup("svc-b")
		require.True(t, ok)
		assert.Equal(t, svcB2, info.Mapping)
		assert.False(t, info.Up)

		entries := f.entries(t)
		require.Len(t, entries, 2)
		assert.Equal(t, svcB, entries[1].Mapping)
		assert.True(t, entries[1].Removed)

		// the replaced monitor can no longer touch the name
		old.up()
		f.loop.Drain()
		info, _ = f.dir.Lookup("svc-b")
		assert.False(t, info.Up)

		f.monitors.last(svcB2).up()
		f.loop.Drain()
		_, snap := f.log.Snapshot()
		assert.Equal(t, "hostY:9000", snap["svc-b"].Spec)
		assert.True(t, snap["svc-b"].Up)
	})

	t.Run("never overrides a local entry", func(t *testing.T) {
		f := newFixture()
		f.dir.AddLocal(svcA1, &recorder{})
		f.monitors.last(svcA1).up()
		f.loop.Drain()
		v := f.log.Version()

		f.dir.Add(svcA2)
		f.dir.Remove(svcA1)
		f.loop.Drain()

		info, ok := f.dir.Lookup("svc-a")
		require.True(t, ok)
		assert.Equal(t, svcA1, info.Mapping)
		assert.Equal(t, domain.OriginLocal, info.Origin)
		assert.True(t, f.dir.WouldConflict(svcA2))
		assert.Equal(t, v, f.log.Version())
		assert.Len(t, f.monitors.started, 1)
	})

	t.Run("remove of unknown or mismatched mapping is a no-op", func(t *testing.T) {
		f := newFixture()
		f.dir.Remove(svcB)
		f.dir.Add(svcB)
		f.loop.Drain()
		f.dir.Remove(svcB2)
		f.loop.Drain()
		assert.Equal(t, 1, f.dir.Len())
	})

	t.Run("remove after up publishes a removal", func(t *testing.T) {
		f := newFixture()
		f.dir.Add(svcB)
		f.loop.Drain()
		f.monitors.last(svcB).up()
		f.loop.Drain()

		f.dir.Remove(svcB)
		f.loop.Drain()

		entries := f.entries(t)
		require.Len(t, entries, 2)
		assert.True(t, entries[1].Removed)
		assert.Zero(t, f.dir.Len())
	})
}

func TestLocalRegistrationClaimsLearnedMapping(t *testing.T) {
	f := newFixture()
	f.dir.Add(svcB)
	f.loop.Drain()
	f.monitors.last(svcB).up()
	f.loop.Drain()

	h := &recorder{}
	f.dir.AddLocal(svcB, h)

	h.assertOnly(t, domain.OutcomeSucceeded)
	info, _ := f.dir.Lookup("svc-b")
	assert.Equal(t, domain.OriginLocal, info.Origin)

	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OriginLocal, entries[1].Origin)

	// peers can no longer remove it
	f.dir.Remove(svcB)
	f.loop.Drain()
	assert.Equal(t, 1, f.dir.Len())
}

func TestHistoryReplayMatchesSnapshotAfterMixedTraffic(t *testing.T) {
	f := newFixture()
	f.dir.AddLocal(svcA1, &recorder{})
	f.dir.Add(svcB)
	f.loop.Drain()
	f.monitors.last(svcA1).up()
	f.monitors.last(svcB).up()
	f.loop.Drain()
	f.dir.Add(svcB2)
	f.loop.Drain()
	f.monitors.last(svcB2).up()
	f.monitors.last(svcA1).down()
	f.loop.Drain()

	replayed := make(map[string]history.State)
	var last uint64
	for _, e := range f.entries(t) {
		require.Equal(t, last+1, e.Version)
		last = e.Version
		if e.Removed {
			delete(replayed, e.Mapping.Name)
			continue
		}
		replayed[e.Mapping.Name] = history.State{Spec: e.Mapping.Spec, Up: e.Up, Origin: e.Origin}
	}

	_, snap := f.log.Snapshot()
	assert.Equal(t, snap, replayed)
}

func TestStats(t *testing.T) {
	f := newFixture()
	f.dir.AddLocal(svcA1, &recorder{})
	f.dir.Add(svcB)
	assert.Equal(t, Stats{Local: 1, Pending: 1, Queued: 1}, f.dir.Stats())

	f.loop.Drain()
	f.monitors.last(svcB).up()
	f.loop.Drain()
	assert.Equal(t, Stats{Local: 1, Learned: 1, Up: 1, Pending: 1}, f.dir.Stats())
}

func TestCloseCancelsPendingAndStopsMonitors(t *testing.T) {
	f := newFixture()
	h := &recorder{}
	f.dir.AddLocal(svcA1, h)
	f.dir.Add(svcB)
	f.loop.Drain()
	v := f.log.Version()

	f.dir.Close()

	h.assertOnly(t, domain.OutcomeCancelled)
	for _, mon := range f.monitors.started {
		assert.True(t, mon.stopped)
	}
	assert.Zero(t, f.dir.Len())
	assert.Equal(t, v, f.log.Version(), "closing does not retract published mappings")
}
