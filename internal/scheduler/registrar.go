package scheduler

import (
	"github.com/MrSnakeDoc/namebroker/internal/domain"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
)

// Registrar is the part of the broker background jobs register through.
type Registrar interface {
	AddLocal(m domain.ServiceMapping, h domain.CompletionHandler)
	RemoveLocal(m domain.ServiceMapping)
}

// logOutcome returns a completion handler that only logs, for registrations
// nobody is waiting on.
func logOutcome(log logger.Logger, m domain.ServiceMapping, source string) domain.CompletionHandler {
	return domain.HandlerFunc(func(o domain.Outcome) {
		fields := []logger.Field{
			logger.String("name", m.Name),
			logger.String("spec", m.Spec),
			logger.String("source", source),
			logger.String("outcome", o.String()),
		}
		if o == domain.OutcomeConflicted {
			log.Warn("registration rejected", fields...)
			return
		}
		log.Info("registration resolved", fields...)
	})
}
