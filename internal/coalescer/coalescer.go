// Package coalescer batches learned add/remove events so that a burst is
// applied as one unit on the next scheduling pass.
package coalescer

import (
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/loop"
)

// Kind distinguishes add from remove events.
type Kind int

const (
	Add Kind = iota
	Remove
)

func (k Kind) String() string {
	if k == Remove {
		return "remove"
	}
	return "add"
}

// Event is a learned mapping change waiting to be applied.
type Event struct {
	Kind    Kind
	Mapping domain.ServiceMapping
}

// AddEvent builds an Add event for m.
func AddEvent(m domain.ServiceMapping) Event { return Event{Kind: Add, Mapping: m} }

// RemoveEvent builds a Remove event for m.
func RemoveEvent(m domain.ServiceMapping) Event { return Event{Kind: Remove, Mapping: m} }

// FlushFunc receives one batch, in arrival order.
type FlushFunc func(batch []Event)

// Coalescer is a queue plus a pending-flush flag. It must only be used from
// the loop that sched posts to.
type Coalescer struct {
	sched     loop.Scheduler
	flush     FlushFunc
	queue     []Event
	scheduled bool
}

// New creates a coalescer that flushes into flush through sched.
func New(sched loop.Scheduler, flush FlushFunc) *Coalescer {
	return &Coalescer{
		sched: sched,
		flush: flush,
	}
}

// HandleLater queues e and makes sure a flush is scheduled for the next pass.
func (c *Coalescer) HandleLater(e Event) {
	c.queue = append(c.queue, e)
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.sched.Post(c.perform)
}

// Queued returns how many events wait for the next flush.
func (c *Coalescer) Queued() int {
	return len(c.queue)
}

// perform detaches the batch before flushing, so events queued by the flush
// itself go to the next batch.
func (c *Coalescer) perform() {
	batch := c.queue
	c.queue = nil
	c.scheduled = false
	if len(batch) == 0 {
		return
	}
	c.flush(batch)
}
