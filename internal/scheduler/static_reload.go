package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	"github.com/MrSnakeDoc/namebroker/internal/sources/static"
)

// StaticReloader keeps the mappings listed in the mappings file registered
type StaticReloader struct {
	loader        *static.Loader
	registrar     Registrar
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}

	mu     sync.Mutex
	active map[string]domain.ServiceMapping // name -> mapping registered from the file
}

// NewStaticReloader creates a new static mappings reloader
func NewStaticReloader(
	mappingsFile string,
	registrar Registrar,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *StaticReloader {
	return &StaticReloader{
		loader:        static.NewLoader(mappingsFile),
		registrar:     registrar,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
		active:        make(map[string]domain.ServiceMapping),
	}
}

// Start loads the file once, then reloads it periodically and on demand
func (sr *StaticReloader) Start(ctx context.Context) error {
	if err := sr.Reload(ctx); err != nil {
		return fmt.Errorf("initial mappings reload failed: %w", err)
	}

	ticker := time.NewTicker(sr.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sr.Reload(ctx); err != nil {
					sr.logger.Error("failed to reload mappings",
						logger.Error(err))
				}
			case <-sr.manualTrigger:
				sr.logger.Info("manual mappings reload triggered")
				if err := sr.Reload(ctx); err != nil {
					sr.logger.Error("failed to reload mappings",
						logger.Error(err))
				}
			case <-sr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (sr *StaticReloader) Stop() {
	sr.stopOnce.Do(func() { close(sr.stopCh) })
}

// Reload registers new mappings from the file and unregisters the ones that
// were dropped or changed since the previous load
func (sr *StaticReloader) Reload(ctx context.Context) error {
	sr.logger.Info("reloading static mappings",
		logger.String("file", sr.loader.Path()))

	mappings, err := sr.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load mappings: %w", err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	next := make(map[string]domain.ServiceMapping, len(mappings))
	for _, m := range mappings {
		next[m.Name] = m
	}

	removed := 0
	for name, old := range sr.active {
		if m, ok := next[name]; ok && m.Spec == old.Spec {
			continue
		}
		sr.registrar.RemoveLocal(old)
		delete(sr.active, name)
		removed++
	}

	added := 0
	for name, m := range next {
		if _, ok := sr.active[name]; ok {
			continue
		}
		sr.registrar.AddLocal(m, logOutcome(sr.logger, m, "static"))
		sr.active[name] = m
		added++
	}

	sr.logger.Info("static mappings reloaded",
		logger.Int("count", len(next)),
		logger.Int("added", added),
		logger.Int("removed", removed))

	return nil
}

// Active returns the mappings currently registered from the file
func (sr *StaticReloader) Active() []domain.ServiceMapping {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	out := make([]domain.ServiceMapping, 0, len(sr.active))
	for _, m := range sr.active {
		out = append(out, m)
	}
	return out
}
