package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

const (
	// DefaultHistoryRetain is how many history entries survive a compaction
	DefaultHistoryRetain = 10000
)

// Trimmer is implemented by the history log
type Trimmer interface {
	Trim(keep int) int
	Version() uint64
}

// HistoryCompactor periodically drops old history entries. Subscribers that
// fall behind the retained window resynchronize from a snapshot.
type HistoryCompactor struct {
	history  Trimmer
	logger   logger.Logger
	interval time.Duration
	retain   int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHistoryCompactor creates a new history compactor
func NewHistoryCompactor(
	history Trimmer,
	log logger.Logger,
	interval time.Duration,
	retain int,
) *HistoryCompactor {
	if retain <= 0 {
		retain = DefaultHistoryRetain
	}

	return &HistoryCompactor{
		history:  history,
		logger:   log,
		interval: interval,
		retain:   retain,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic compaction process
func (hc *HistoryCompactor) Start(ctx context.Context) error {
	ticker := time.NewTicker(hc.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hc.Compact()
			case <-hc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the compactor
func (hc *HistoryCompactor) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
}

// Compact trims the log down to the retained window and returns how many
// entries were dropped
func (hc *HistoryCompactor) Compact() int {
	dropped := hc.history.Trim(hc.retain)
	if dropped > 0 {
		hc.logger.Info("history compacted",
			logger.Int("dropped", dropped),
			logger.Int("retained", hc.retain),
			logger.Uint64("version", hc.history.Version()))
	} else {
		hc.logger.Debug("no history to compact")
	}
	return dropped
}
