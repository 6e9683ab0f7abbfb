package peersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

// Watcher feeds mappings published by peers into a MapListener.
type Watcher struct {
	client   *clientv3.Client
	prefix   string
	listener domain.MapListener
	logger   logger.Logger
	retry    time.Duration
	known    map[string]string // name -> spec last announced to the listener
}

// NewWatcher creates a watcher over prefix.
func NewWatcher(client *clientv3.Client, prefix string, listener domain.MapListener, log logger.Logger) *Watcher {
	return &Watcher{
		client:   client,
		prefix:   NormalizePrefix(prefix),
		listener: listener,
		logger:   log,
		retry:    2 * time.Second,
		known:    make(map[string]string),
	}
}

// Run lists the prefix, then follows changes until ctx is canceled. A broken
// watch is retried with a fresh listing.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.syncOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("etcd watch interrupted, resyncing",
			logger.String("prefix", w.prefix),
			logger.Duration("retry_in", w.retry),
			logger.Error(err))

		timer := time.NewTimer(w.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *Watcher) syncOnce(ctx context.Context) error {
	resp, err := w.client.Get(ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list peer mappings: %w", err)
	}
	w.resync(resp.Kvs)

	w.logger.Info("peer mappings listed",
		logger.String("prefix", w.prefix),
		logger.Int("count", len(w.known)))

	wch := w.client.Watch(ctx, w.prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1),
		clientv3.WithPrevKV())
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			return fmt.Errorf("peer watch failed: %w", err)
		}
		w.apply(wresp.Events)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("peer watch channel closed")
}

// resync announces a full listing, removing names that disappeared while
// the watch was down.
func (w *Watcher) resync(kvs []*mvccpb.KeyValue) {
	seen := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m, ok := decode(w.prefix, kv)
		if !ok {
			continue
		}
		seen[m.Name] = m.Spec
		w.listener.Add(m)
	}
	for name, spec := range w.known {
		if _, ok := seen[name]; !ok {
			w.listener.Remove(domain.ServiceMapping{Name: name, Spec: spec})
		}
	}
	w.known = seen
}

func (w *Watcher) apply(events []*clientv3.Event) {
	for _, ev := range events {
		switch ev.Type {
		case mvccpb.PUT:
			m, ok := decode(w.prefix, ev.Kv)
			if !ok {
				continue
			}
			w.known[m.Name] = m.Spec
			w.listener.Add(m)
		case mvccpb.DELETE:
			// without the previous value we cannot tell which spec went away
			m, ok := decode(w.prefix, ev.PrevKv)
			if !ok {
				continue
			}
			delete(w.known, m.Name)
			w.listener.Remove(m)
		}
	}
}
