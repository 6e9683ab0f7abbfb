package peersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/namebroker/internal/dispatcher"
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/history"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

// action is one etcd write derived from a history entry.
type action struct {
	put  bool
	key  string
	spec string
}

// plan maps a history entry to the etcd write that mirrors it. Only local
// mappings are published; learned ones belong to the peer that owns them.
func plan(prefix string, e history.Entry) (action, bool) {
	if e.Origin != domain.OriginLocal {
		return action{}, false
	}
	return action{
		put:  e.Up && !e.Removed,
		key:  mappingKey(prefix, e.Mapping.Name),
		spec: e.Mapping.Spec,
	}, true
}

// leaseStore is the slice of etcd the publisher writes through.
type leaseStore interface {
	Grant(ctx context.Context, ttl int64) (clientv3.LeaseID, error)
	KeepAlive(ctx context.Context, lease clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, lease clientv3.LeaseID) error
	Put(ctx context.Context, key, value string, lease clientv3.LeaseID) error
	// DeleteIfValue deletes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) error
	// Owned lists the keys under prefix attached to lease.
	Owned(ctx context.Context, prefix string, lease clientv3.LeaseID) (map[string]string, error)
}

type etcdStore struct {
	client *clientv3.Client
}

func (s etcdStore) Grant(ctx context.Context, ttl int64) (clientv3.LeaseID, error) {
	resp, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (s etcdStore) KeepAlive(ctx context.Context, lease clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	return s.client.KeepAlive(ctx, lease)
}

func (s etcdStore) Revoke(ctx context.Context, lease clientv3.LeaseID) error {
	_, err := s.client.Revoke(ctx, lease)
	return err
}

func (s etcdStore) Put(ctx context.Context, key, value string, lease clientv3.LeaseID) error {
	_, err := s.client.Put(ctx, key, value, clientv3.WithLease(lease))
	return err
}

func (s etcdStore) DeleteIfValue(ctx context.Context, key, value string) error {
	_, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", value)).
		Then(clientv3.OpDelete(key)).
		Commit()
	return err
}

func (s etcdStore) Owned(ctx context.Context, prefix string, lease clientv3.LeaseID) (map[string]string, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, kv := range resp.Kvs {
		if clientv3.LeaseID(kv.Lease) == lease {
			out[string(kv.Key)] = string(kv.Value)
		}
	}
	return out, nil
}

var errLeaseLost = errors.New("etcd lease lost")

// Publisher mirrors this node's up local mappings into etcd.
type Publisher struct {
	store      leaseStore
	prefix     string
	ttl        int64
	dispatcher *dispatcher.Dispatcher
	logger     logger.Logger
	retry      time.Duration
}

// NewPublisher creates a publisher whose keys live under a lease of ttl seconds.
func NewPublisher(client *clientv3.Client, prefix string, ttl int64, d *dispatcher.Dispatcher, log logger.Logger) *Publisher {
	return newPublisher(etcdStore{client: client}, prefix, ttl, d, log)
}

func newPublisher(store leaseStore, prefix string, ttl int64, d *dispatcher.Dispatcher, log logger.Logger) *Publisher {
	if ttl <= 0 {
		ttl = 10
	}
	return &Publisher{
		store:      store,
		prefix:     NormalizePrefix(prefix),
		ttl:        ttl,
		dispatcher: d,
		logger:     log,
		retry:      2 * time.Second,
	}
}

// Run mirrors local changes into etcd until ctx is canceled. Each session
// holds one lease; when the lease cannot be granted or is lost, a new
// session starts after a pause and republishes the current view.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn("etcd publisher interrupted, retrying",
			logger.String("prefix", p.prefix),
			logger.Duration("retry_in", p.retry),
			logger.Error(err))

		timer := time.NewTimer(p.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session publishes under a fresh lease until ctx ends or the lease is lost.
// The lease is revoked on the way out so peers drop this node's mappings at once.
func (p *Publisher) session(ctx context.Context) error {
	lease, err := p.store.Grant(ctx, p.ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	defer p.revoke(lease)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := p.store.KeepAlive(sctx, lease)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}
	// the channel closes once keepalives stop for good
	go func() {
		for range ch {
		}
		cancel()
	}()

	p.logger.Info("publishing local mappings to etcd",
		logger.String("prefix", p.prefix),
		logger.Int("lease_ttl", int(p.ttl)))

	sub := p.republish(sctx, lease)
	for {
		e, err := sub.Next(sctx)
		switch {
		case errors.Is(err, history.ErrTrimmed):
			sub = p.republish(sctx, lease)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if sctx.Err() != nil {
				return errLeaseLost
			}
			return err
		}

		a, ok := plan(p.prefix, e)
		if !ok {
			continue
		}
		if err := p.exec(sctx, lease, a); err != nil {
			p.logger.Warn("failed to publish mapping",
				logger.String("key", a.key),
				logger.Bool("put", a.put),
				logger.Error(err))
		}
	}
}

// republish writes the full local view, deletes keys this lease still holds
// for names no longer up, and resumes from the snapshot version.
func (p *Publisher) republish(ctx context.Context, lease clientv3.LeaseID) *dispatcher.Subscription {
	snap := p.dispatcher.Current()
	p.logger.Info("republishing local mappings",
		logger.Uint64("version", snap.Version))

	up := make(map[string]string)
	for name, st := range snap.Mappings {
		if st.Origin != domain.OriginLocal || !st.Up {
			continue
		}
		key := mappingKey(p.prefix, name)
		up[key] = st.Spec
		if err := p.exec(ctx, lease, action{put: true, key: key, spec: st.Spec}); err != nil {
			p.logger.Warn("failed to republish mapping",
				logger.String("key", key),
				logger.Error(err))
		}
	}

	owned, err := p.store.Owned(ctx, p.prefix, lease)
	if err != nil {
		p.logger.Warn("failed to list published mappings", logger.Error(err))
	}
	for key, spec := range owned {
		if up[key] == spec {
			continue
		}
		if err := p.store.DeleteIfValue(ctx, key, spec); err != nil {
			p.logger.Warn("failed to delete stale mapping",
				logger.String("key", key),
				logger.Error(err))
		}
	}

	return p.dispatcher.Subscribe(snap.Version)
}

func (p *Publisher) exec(ctx context.Context, lease clientv3.LeaseID, a action) error {
	if a.put {
		return p.store.Put(ctx, a.key, a.spec, lease)
	}
	// only delete what we wrote; a peer may own the key by now
	return p.store.DeleteIfValue(ctx, a.key, a.spec)
}

func (p *Publisher) revoke(lease clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.Revoke(ctx, lease); err != nil {
		p.logger.Warn("failed to revoke etcd lease", logger.Error(err))
	}
}
