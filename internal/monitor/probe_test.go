package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

var svc = domain.ServiceMapping{Name: "svc-a", Spec: "host1:9000"}

// signals records owner callbacks in order.
type signals struct {
	mu     sync.Mutex
	events []bool // true = up
}

func (s *signals) Up(domain.ServiceMapping)   { s.add(true) }
func (s *signals) Down(domain.ServiceMapping) { s.add(false) }

func (s *signals) add(up bool) {
	s.mu.Lock()
	s.events = append(s.events, up)
	s.mu.Unlock()
}

func (s *signals) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.events...)
}

func fastProber(check CheckFunc) *Prober {
	p := NewProber(Options{
		Interval:     10 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
		InitialDelay: time.Hour,
		MaxFailures:  2,
	}, logger.Nop())
	p.SetCheckFunction(check)
	return p
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber(Options{}, logger.Nop())
	assert.Equal(t, 5*time.Second, p.opts.Interval)
	assert.Equal(t, 2*time.Second, p.opts.Timeout)
	assert.Equal(t, 3, p.opts.MaxFailures)
	assert.NotNil(t, p.check)
}

func TestProbeReportsUpOnceWhileHealthy(t *testing.T) {
	var calls atomic.Int32
	p := fastProber(func(ctx context.Context, spec string) error {
		calls.Add(1)
		assert.Equal(t, "host1:9000", spec)
		return nil
	})

	owner := &signals{}
	mon := p.Start(svc, true, owner)
	defer mon.Stop()

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true}, owner.snapshot(), "repeated successes report up once")
}

func TestProbeDownAfterMaxFailuresAndRecovery(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	p := fastProber(func(ctx context.Context, spec string) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	owner := &signals{}
	mon := p.Start(svc, true, owner)
	defer mon.Stop()

	require.Eventually(t, func() bool { return len(owner.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool { return len(owner.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, owner.snapshot())

	healthy.Store(true)
	require.Eventually(t, func() bool { return len(owner.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false, true}, owner.snapshot())
}

func TestUnreachableFromStartReportsDown(t *testing.T) {
	p := fastProber(func(ctx context.Context, spec string) error {
		return errors.New("no route to host")
	})

	owner := &signals{}
	mon := p.Start(svc, true, owner)
	defer mon.Stop()

	require.Eventually(t, func() bool { return len(owner.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false}, owner.snapshot())
}

func TestWithoutHurryFirstProbeWaitsForInitialDelay(t *testing.T) {
	var calls atomic.Int32
	p := fastProber(func(ctx context.Context, spec string) error {
		calls.Add(1)
		return nil
	})

	mon := p.Start(svc, false, &signals{})
	time.Sleep(30 * time.Millisecond)
	mon.Stop()

	assert.Zero(t, calls.Load(), "initial delay of an hour must hold back the first probe")
}

func TestNoCallbacksAfterStop(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	p := fastProber(func(ctx context.Context, spec string) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	owner := &signals{}
	mon := p.Start(svc, true, owner)
	<-entered

	// stop while a check is in flight; its result must be swallowed
	mon.Stop()
	close(release)
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, owner.snapshot())
}

func TestDefaultCheckTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := NewProber(Options{}, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, p.defaultCheck(ctx, ln.Addr().String()))
	assert.NoError(t, p.defaultCheck(ctx, "tcp/"+ln.Addr().String()))

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	assert.Error(t, p.defaultCheck(ctx, addr))
}

func TestDefaultCheckHTTP(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewProber(Options{}, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, p.defaultCheck(ctx, srv.URL))
	assert.NoError(t, p.defaultCheck(ctx, srv.URL+"/health"))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, p.defaultCheck(ctx, srv.URL))
}
