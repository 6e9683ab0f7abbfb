package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/namebroker/internal/logger"
	redisstore "github.com/MrSnakeDoc/namebroker/internal/store/redis"
)

// RegistrationSource lists persisted registrations
type RegistrationSource interface {
	GetAllRegistrations(ctx context.Context) ([]*redisstore.Registration, error)
}

// RegistrationRestorer re-registers persisted local registrations on startup
type RegistrationRestorer struct {
	source    RegistrationSource
	registrar Registrar
	logger    logger.Logger
}

// NewRegistrationRestorer creates a new restorer
func NewRegistrationRestorer(
	source RegistrationSource,
	registrar Registrar,
	log logger.Logger,
) *RegistrationRestorer {
	return &RegistrationRestorer{
		source:    source,
		registrar: registrar,
		logger:    log,
	}
}

// Restore loads registrations from Redis and submits them to the broker.
// Outcomes arrive asynchronously and are only logged.
func (rr *RegistrationRestorer) Restore(ctx context.Context) (int, error) {
	rr.logger.Info("restoring local registrations from redis")

	regs, err := rr.source.GetAllRegistrations(ctx)
	if err != nil {
		return 0, err
	}

	if len(regs) == 0 {
		rr.logger.Info("no registrations found in redis")
		return 0, nil
	}

	for _, reg := range regs {
		if err := reg.Mapping.Validate(); err != nil {
			rr.logger.Warn("skipping invalid persisted registration",
				logger.Error(err))
			continue
		}
		rr.registrar.AddLocal(reg.Mapping, logOutcome(rr.logger, reg.Mapping, "redis"))
	}

	rr.logger.Info("restored registrations from redis",
		logger.Int("count", len(regs)))

	return len(regs), nil
}
