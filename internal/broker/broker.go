// Package broker wires the directory, its loop and the read side together and
// gives the rest of the process a goroutine-safe API.
//
// Every call is posted onto the directory loop; nothing here touches
// directory state directly.
package broker

import (
	"context"

	"github.com/MrSnakeDoc/namebroker/internal/directory"
	"github.com/MrSnakeDoc/namebroker/internal/dispatcher"
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	"github.com/MrSnakeDoc/namebroker/internal/loop"
)

// ErrStopped is returned once the broker loop has exited.
var ErrStopped = loop.ErrStopped

// Broker owns one directory and the loop it runs on.
type Broker struct {
	loop       *loop.Loop
	dir        *directory.Directory
	log        *history.Log
	dispatcher *dispatcher.Dispatcher
	logger     logger.Logger
}

// New creates a broker whose mappings are probed by monitors.
func New(monitors domain.MonitorFactory, lg logger.Logger) *Broker {
	l := loop.New()
	h := history.NewLog()
	return &Broker{
		loop:       l,
		dir:        directory.New(l, monitors, h, lg.With(logger.String("component", "directory"))),
		log:        h,
		dispatcher: dispatcher.New(h),
		logger:     lg,
	}
}

// Run drives the directory loop until ctx is canceled, then stops all
// monitors and cancels registrations still in flight.
func (b *Broker) Run(ctx context.Context) {
	b.logger.Info("broker loop started")
	b.loop.Run(ctx)
	b.dir.Close()
	b.logger.Info("broker loop stopped",
		logger.Uint64("version", b.log.Version()))
}

// Dispatcher returns the read side.
func (b *Broker) Dispatcher() *dispatcher.Dispatcher {
	return b.dispatcher
}

// History returns the log the directory publishes into.
func (b *Broker) History() *history.Log {
	return b.log
}

// AddLocal registers m on behalf of a local client. h is resolved exactly
// once; if the broker has stopped it is cancelled right away.
func (b *Broker) AddLocal(m domain.ServiceMapping, h domain.CompletionHandler) {
	if !b.loop.TryPost(func() { b.dir.AddLocal(m, h) }) {
		h.Cancelled()
	}
}

// Register is AddLocal for callers that want to wait. If ctx ends first the
// registration keeps going and OutcomePending is returned with ctx.Err().
func (b *Broker) Register(ctx context.Context, m domain.ServiceMapping) (domain.Outcome, error) {
	done := make(chan domain.Outcome, 1)
	b.AddLocal(m, domain.HandlerFunc(func(o domain.Outcome) { done <- o }))

	select {
	case o := <-done:
		return o, nil
	case <-ctx.Done():
		return domain.OutcomePending, ctx.Err()
	}
}

// RemoveLocal unregisters a local mapping.
func (b *Broker) RemoveLocal(m domain.ServiceMapping) {
	b.loop.Post(func() { b.dir.RemoveLocal(m) })
}

// Unregister is RemoveLocal that waits until the removal has been applied.
func (b *Broker) Unregister(ctx context.Context, m domain.ServiceMapping) error {
	return b.loop.Call(ctx, func() { b.dir.RemoveLocal(m) })
}

// WouldConflict checks m against the directory without changing it.
func (b *Broker) WouldConflict(ctx context.Context, m domain.ServiceMapping) (bool, error) {
	return loop.Query(ctx, b.loop, func() bool { return b.dir.WouldConflict(m) })
}

type lookupResult struct {
	info directory.Info
	ok   bool
}

// Lookup returns the directory entry for name.
func (b *Broker) Lookup(ctx context.Context, name string) (directory.Info, bool, error) {
	r, err := loop.Query(ctx, b.loop, func() lookupResult {
		info, ok := b.dir.Lookup(name)
		return lookupResult{info: info, ok: ok}
	})
	return r.info, r.ok, err
}

// Stats returns directory counters.
func (b *Broker) Stats(ctx context.Context) (directory.Stats, error) {
	return loop.Query(ctx, b.loop, b.dir.Stats)
}

// Add implements domain.MapListener for peer synchronization.
func (b *Broker) Add(m domain.ServiceMapping) {
	b.loop.Post(func() { b.dir.Add(m) })
}

// Remove implements domain.MapListener for peer synchronization.
func (b *Broker) Remove(m domain.ServiceMapping) {
	b.loop.Post(func() { b.dir.Remove(m) })
}
