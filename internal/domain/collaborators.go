package domain

// Outcome is the final result of one local registration attempt.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeConflicted
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeConflicted:
		return "conflicted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// CompletionHandler is told how a local registration ended.
// Exactly one of its methods is invoked, exactly once, per registration attempt.
type CompletionHandler interface {
	Succeeded()
	Conflicted()
	Cancelled()
}

// HandlerFunc adapts a plain function to CompletionHandler.
type HandlerFunc func(Outcome)

func (f HandlerFunc) Succeeded()  { f(OutcomeSucceeded) }
func (f HandlerFunc) Conflicted() { f(OutcomeConflicted) }
func (f HandlerFunc) Cancelled()  { f(OutcomeCancelled) }

// Resolve invokes the method of h matching outcome.
func Resolve(h CompletionHandler, outcome Outcome) {
	switch outcome {
	case OutcomeSucceeded:
		h.Succeeded()
	case OutcomeConflicted:
		h.Conflicted()
	case OutcomeCancelled:
		h.Cancelled()
	}
}

// MonitorOwner receives reachability signals for a monitored mapping.
type MonitorOwner interface {
	Up(m ServiceMapping)
	Down(m ServiceMapping)
}

// Monitor is a running liveness probe for one mapping.
//
// Stop is synchronous: once it returns, the monitor never calls its owner again.
type Monitor interface {
	Stop()
}

// MonitorFactory starts monitors. hurry asks for the first probe to happen
// as soon as possible, which local registrations use so their clients get an
// answer quickly.
type MonitorFactory interface {
	Start(m ServiceMapping, hurry bool, owner MonitorOwner) Monitor
}

// MonitorFactoryFunc adapts a function to MonitorFactory.
type MonitorFactoryFunc func(m ServiceMapping, hurry bool, owner MonitorOwner) Monitor

func (f MonitorFactoryFunc) Start(m ServiceMapping, hurry bool, owner MonitorOwner) Monitor {
	return f(m, hurry, owner)
}

// MapListener is driven by peer synchronization with mappings learned elsewhere.
type MapListener interface {
	Add(m ServiceMapping)
	Remove(m ServiceMapping)
}
