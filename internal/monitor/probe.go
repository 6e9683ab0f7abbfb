// Package monitor provides the liveness prober behind every directory entry.
// Each started mapping gets its own goroutine that checks the connection spec on an
// interval and reports transitions to its owner.
package monitor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

// CheckFunc probes one connection spec and returns nil when it is reachable.
type CheckFunc func(ctx context.Context, spec string) error

// Options configures a Prober.
type Options struct {
	Interval     time.Duration // time between probes
	Timeout      time.Duration // per-probe timeout
	InitialDelay time.Duration // wait before the first probe unless hurried
	MaxFailures  int           // consecutive failures before reporting down
}

// Prober starts one probe loop per mapping. It implements domain.MonitorFactory.
type Prober struct {
	opts   Options
	check  CheckFunc
	logger logger.Logger
}

// NewProber creates a prober with the default TCP/HTTP check.
func NewProber(opts Options, log logger.Logger) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxFailures < 1 {
		opts.MaxFailures = 3
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}

	p := &Prober{opts: opts, logger: log}
	p.check = p.defaultCheck
	return p
}

// SetCheckFunction overrides how specs are probed. Mostly for tests.
func (p *Prober) SetCheckFunction(check CheckFunc) {
	p.check = check
}

// Start launches a probe loop for m that reports to owner until stopped.
func (p *Prober) Start(m domain.ServiceMapping, hurry bool, owner domain.MonitorOwner) domain.Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	pr := &probe{
		mapping: m,
		owner:   owner,
		opts:    p.opts,
		check:   p.check,
		logger:  p.logger,
		cancel:  cancel,
	}

	delay := p.opts.InitialDelay
	if hurry {
		delay = 0
	}

	pr.wg.Add(1)
	go pr.run(ctx, delay)
	return pr
}

type probeState int

const (
	stateUnknown probeState = iota
	stateUp
	stateDown
)

// probe is the monitor for a single mapping.
type probe struct {
	mapping domain.ServiceMapping
	owner   domain.MonitorOwner
	opts    Options
	check   CheckFunc
	logger  logger.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	state probeState
	fails int
}

// Stop cancels the loop and waits for it, so no callback runs after Stop returns.
func (pr *probe) Stop() {
	pr.cancel()
	pr.wg.Wait()
}

func (pr *probe) run(ctx context.Context, delay time.Duration) {
	defer pr.wg.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(pr.opts.Interval)
	defer ticker.Stop()

	for {
		pr.probeOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probeOnce checks the connection spec and reports up on the first success after any
// other state, and down once failures reach the threshold.
func (pr *probe) probeOnce(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, pr.opts.Timeout)
	err := pr.check(checkCtx, pr.mapping.Spec)
	cancel()

	// stopped mid-check: stay silent
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		pr.fails = 0
		if pr.state != stateUp {
			pr.state = stateUp
			pr.owner.Up(pr.mapping)
		}
		return
	}

	pr.fails++
	pr.logger.Debug("probe failed",
		logger.String("name", pr.mapping.Name),
		logger.String("spec", pr.mapping.Spec),
		logger.Int("attempt", pr.fails),
		logger.Int("max_failures", pr.opts.MaxFailures),
		logger.Error(err))

	if pr.fails >= pr.opts.MaxFailures && pr.state != stateDown {
		pr.state = stateDown
		pr.owner.Down(pr.mapping)
	}
}

// defaultCheck understands "http://" and "https://" specs, probed on their
// /health endpoint, and plain or "tcp/"-prefixed host:port specs, probed
// with a TCP connect.
func (p *Prober) defaultCheck(ctx context.Context, spec string) error {
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return checkHTTP(ctx, spec)
	}
	return checkTCP(ctx, strings.TrimPrefix(spec, "tcp/"))
}

func checkTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp probe failed: %w", err)
	}
	_ = conn.Close()
	return nil
}

func checkHTTP(ctx context.Context, spec string) error {
	url := spec
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
