// Package directory holds the authoritative local map of service names.
//
// A Directory reconciles three inputs: local registrations from this node's
// clients, up/down signals from mapping monitors, and add/remove events
// learned from peers. It is the only writer of the history log.
//
// A Directory is confined to one loop: every method must be called from a
// task running on the scheduler it was created with. Monitor callbacks are
// posted back onto that loop, so the entry map never needs a lock.
package directory

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrSnakeDoc/namebroker/internal/coalescer"
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	"github.com/MrSnakeDoc/namebroker/internal/loop"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
)

type entry struct {
	spec      string
	up        bool
	origin    domain.Origin
	inflight  domain.CompletionHandler
	monitor   domain.Monitor
	epoch     uint64
	published bool // has appeared in the history log
}

// takeInflight hands over the pending handler, if any, and clears it.
func (e *entry) takeInflight() domain.CompletionHandler {
	h := e.inflight
	e.inflight = nil
	return h
}

// Info is a read-only view of one entry.
type Info struct {
	Mapping domain.ServiceMapping `json:"mapping"`
	Up      bool                  `json:"up"`
	Origin  domain.Origin         `json:"origin"`
	Pending bool                  `json:"pending"`
}

// Stats summarizes the directory contents.
type Stats struct {
	Local   int `json:"local"`
	Learned int `json:"learned"`
	Up      int `json:"up"`
	Pending int `json:"pending"`
	Queued  int `json:"queued"`
}

// Directory is the per-name state machine. See the package doc for the
// threading rules.
type Directory struct {
	sched    loop.Scheduler
	monitors domain.MonitorFactory
	log      *history.Log
	events   *coalescer.Coalescer
	logger   logger.Logger
	entries  map[string]*entry
	epoch    uint64
}

// New creates a directory publishing into log. Learned events are coalesced
// through sched.
func New(sched loop.Scheduler, monitors domain.MonitorFactory, log *history.Log, lg logger.Logger) *Directory {
	d := &Directory{
		sched:    sched,
		monitors: monitors,
		log:      log,
		logger:   lg,
		entries:  make(map[string]*entry),
	}
	d.events = coalescer.New(sched, d.flush)
	return d
}

// WouldConflict reports whether registering m would be rejected because the
// name is bound to another spec. It changes nothing.
func (d *Directory) WouldConflict(m domain.ServiceMapping) bool {
	e, ok := d.entries[m.Name]
	return ok && e.spec != m.Spec
}

// AddLocal registers a mapping owned by this node. The outcome is reported
// through h, immediately for conflicts and already-up mappings, otherwise
// once the monitor first reports the mapping up.
func (d *Directory) AddLocal(m domain.ServiceMapping, h domain.CompletionHandler) {
	e, ok := d.entries[m.Name]
	if !ok {
		d.insert(m, domain.OriginLocal, h, true)
		return
	}

	if e.spec != m.Spec {
		d.logger.Warn("local registration conflicts with existing mapping",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec),
			logger.String("existing_spec", e.spec))
		d.resolve(m, h, domain.OutcomeConflicted)
		return
	}

	if e.origin == domain.OriginLearned {
		d.track(e, func() { e.origin = domain.OriginLocal })
		d.logger.Debug("learned mapping claimed by local registration",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec))
		if e.published {
			d.publish(m, e, false)
		}
	}

	switch {
	case e.up:
		d.resolve(m, h, domain.OutcomeSucceeded)
	case e.inflight == nil:
		e.inflight = h
	default:
		d.logger.Warn("local registration already in progress",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec))
		d.resolve(m, h, domain.OutcomeConflicted)
	}
}

// RemoveLocal unregisters a mapping owned by this node. It is a no-op unless
// a local entry with the same spec exists.
func (d *Directory) RemoveLocal(m domain.ServiceMapping) {
	e, ok := d.entries[m.Name]
	if !ok || e.origin != domain.OriginLocal || e.spec != m.Spec {
		d.logger.Debug("ignoring removal of unknown local mapping",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec))
		return
	}
	d.drop(m, e)
}

// Add queues a learned mapping for the next coalesced flush.
func (d *Directory) Add(m domain.ServiceMapping) {
	d.events.HandleLater(coalescer.AddEvent(m))
}

// Remove queues the removal of a learned mapping for the next coalesced flush.
func (d *Directory) Remove(m domain.ServiceMapping) {
	d.events.HandleLater(coalescer.RemoveEvent(m))
}

// Up marks the current entry for m reachable.
func (d *Directory) Up(m domain.ServiceMapping) {
	if e := d.current(m); e != nil {
		d.markUp(m, e)
	}
}

// Down marks the current entry for m unreachable.
func (d *Directory) Down(m domain.ServiceMapping) {
	if e := d.current(m); e != nil {
		d.markDown(m, e)
	}
}

// Lookup returns the entry for name.
func (d *Directory) Lookup(name string) (Info, bool) {
	e, ok := d.entries[name]
	if !ok {
		return Info{}, false
	}
	return Info{
		Mapping: domain.ServiceMapping{Name: name, Spec: e.spec},
		Up:      e.up,
		Origin:  e.origin,
		Pending: e.inflight != nil,
	}, true
}

// Len returns the number of known names.
func (d *Directory) Len() int {
	return len(d.entries)
}

// Stats counts entries by origin and state.
func (d *Directory) Stats() Stats {
	s := Stats{Queued: d.events.Queued()}
	for _, e := range d.entries {
		if e.origin == domain.OriginLocal {
			s.Local++
		} else {
			s.Learned++
		}
		if e.up {
			s.Up++
		}
		if e.inflight != nil {
			s.Pending++
		}
	}
	return s
}

// Close stops every monitor and cancels pending registrations. Nothing is
// published: the node is going away, not the mappings.
func (d *Directory) Close() {
	for name, e := range d.entries {
		if e.monitor != nil {
			e.monitor.Stop()
		}
		if h := e.takeInflight(); h != nil {
			d.resolve(domain.ServiceMapping{Name: name, Spec: e.spec}, h, domain.OutcomeCancelled)
		}
		d.gauge(e).Dec()
		delete(d.entries, name)
	}
}

// flush applies one coalesced batch in arrival order.
func (d *Directory) flush(batch []coalescer.Event) {
	telemetry.BatchSize.Observe(float64(len(batch)))
	for _, ev := range batch {
		telemetry.LearnedEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		switch ev.Kind {
		case coalescer.Add:
			d.applyAdd(ev.Mapping)
		case coalescer.Remove:
			d.applyRemove(ev.Mapping)
		}
	}
}

func (d *Directory) applyAdd(m domain.ServiceMapping) {
	e, ok := d.entries[m.Name]
	if !ok {
		d.insert(m, domain.OriginLearned, nil, false)
		return
	}
	if e.spec == m.Spec {
		return
	}
	if e.origin == domain.OriginLocal {
		d.logger.Warn("dropping learned mapping that conflicts with local registration",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec),
			logger.String("local_spec", e.spec))
		return
	}

	d.logger.Info("learned mapping replaced",
		logger.String("name", m.Name),
		logger.String("old_spec", e.spec),
		logger.String("spec", m.Spec))
	d.drop(domain.ServiceMapping{Name: m.Name, Spec: e.spec}, e)
	d.insert(m, domain.OriginLearned, nil, false)
}

func (d *Directory) applyRemove(m domain.ServiceMapping) {
	e, ok := d.entries[m.Name]
	if !ok || e.origin != domain.OriginLearned || e.spec != m.Spec {
		return
	}
	d.drop(m, e)
}

func (d *Directory) insert(m domain.ServiceMapping, origin domain.Origin, h domain.CompletionHandler, hurry bool) {
	d.epoch++
	e := &entry{
		spec:     m.Spec,
		origin:   origin,
		inflight: h,
		epoch:    d.epoch,
	}
	d.entries[m.Name] = e
	d.gauge(e).Inc()

	d.logger.Debug("mapping added",
		logger.String("name", m.Name),
		logger.String("spec", m.Spec),
		logger.String("origin", origin.String()))

	e.monitor = d.monitors.Start(m, hurry, &monitorOwner{d: d, epoch: e.epoch})
}

// drop deletes the entry, stopping its monitor before anything else so no
// callback can observe a half-removed entry.
func (d *Directory) drop(m domain.ServiceMapping, e *entry) {
	if e.monitor != nil {
		e.monitor.Stop()
		e.monitor = nil
	}
	delete(d.entries, m.Name)
	d.gauge(e).Dec()

	if e.published {
		d.publish(m, e, true)
	}
	if h := e.takeInflight(); h != nil {
		d.resolve(m, h, domain.OutcomeCancelled)
	}

	d.logger.Debug("mapping removed",
		logger.String("name", m.Name),
		logger.String("spec", m.Spec),
		logger.String("origin", e.origin.String()))
}

func (d *Directory) markUp(m domain.ServiceMapping, e *entry) {
	if !e.up {
		d.track(e, func() { e.up = true })
		d.publish(m, e, false)
		d.logger.Info("mapping up",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec))
	}
	if h := e.takeInflight(); h != nil {
		d.resolve(m, h, domain.OutcomeSucceeded)
	}
}

func (d *Directory) markDown(m domain.ServiceMapping, e *entry) {
	if !e.up {
		return
	}
	d.track(e, func() { e.up = false })
	d.publish(m, e, false)
	d.logger.Info("mapping down",
		logger.String("name", m.Name),
		logger.String("spec", m.Spec))
}

func (d *Directory) publish(m domain.ServiceMapping, e *entry, removed bool) {
	e.published = true
	v := d.log.Append(m, e.up, removed, e.origin).Version
	telemetry.HistoryVersion.Set(float64(v))
}

// current returns the entry for m if it still holds the same spec.
func (d *Directory) current(m domain.ServiceMapping) *entry {
	e, ok := d.entries[m.Name]
	if !ok || e.spec != m.Spec {
		return nil
	}
	return e
}

// signal applies a monitor callback unless the monitor that sent it has been
// stopped or replaced since.
func (d *Directory) signal(m domain.ServiceMapping, epoch uint64, up bool) {
	e := d.current(m)
	if e == nil || e.epoch != epoch {
		d.logger.Debug("discarding stale monitor signal",
			logger.String("name", m.Name),
			logger.String("spec", m.Spec),
			logger.Bool("up", up))
		return
	}
	if up {
		d.markUp(m, e)
	} else {
		d.markDown(m, e)
	}
}

func (d *Directory) resolve(m domain.ServiceMapping, h domain.CompletionHandler, outcome domain.Outcome) {
	if h == nil {
		return
	}
	telemetry.RegistrationsTotal.WithLabelValues(outcome.String()).Inc()
	d.logger.Debug("registration resolved",
		logger.String("name", m.Name),
		logger.String("spec", m.Spec),
		logger.String("outcome", outcome.String()))
	domain.Resolve(h, outcome)
}

// track moves e between gauge series around a state change.
func (d *Directory) track(e *entry, change func()) {
	d.gauge(e).Dec()
	change()
	d.gauge(e).Inc()
}

func (d *Directory) gauge(e *entry) prometheus.Gauge {
	state := "down"
	if e.up {
		state = "up"
	}
	return telemetry.DirectoryEntries.WithLabelValues(e.origin.String(), state)
}

// monitorOwner routes callbacks from one monitor onto the directory loop,
// tagged with the epoch of the entry the monitor was started for.
type monitorOwner struct {
	d     *Directory
	epoch uint64
}

func (o *monitorOwner) Up(m domain.ServiceMapping) {
	o.d.sched.Post(func() { o.d.signal(m, o.epoch, true) })
}

func (o *monitorOwner) Down(m domain.ServiceMapping) {
	o.d.sched.Post(func() { o.d.signal(m, o.epoch, false) })
}
