package acl

import "log/slog"

// TraceEvent describes one policy evaluation for debugging.
type TraceEvent struct {
	Policy        string
	Action        Action
	Targets       []Target
	Owner         bool
	MatchingRules []string
	Allow         bool
}

// TraceSink receives evaluation events when rule tracing is enabled.
type TraceSink interface {
	Trace(ev TraceEvent)
}

// SlogTraceSink logs evaluation events at debug level.
type SlogTraceSink struct {
	log *slog.Logger
}

// NewSlogTraceSink creates a sink writing to the given logger.
func NewSlogTraceSink(log *slog.Logger) *SlogTraceSink {
	return &SlogTraceSink{log: log.With("component", "acl")}
}

func (s *SlogTraceSink) Trace(ev TraceEvent) {
	targets := make([]string, 0, len(ev.Targets))
	for _, t := range ev.Targets {
		targets = append(targets, string(t))
	}

	s.log.Debug("acl evaluation",
		slog.String("policy", ev.Policy),
		slog.String("action", string(ev.Action)),
		slog.Any("targets", targets),
		slog.Bool("owner", ev.Owner),
		slog.Any("matching_rules", ev.MatchingRules),
		slog.Bool("allow", ev.Allow),
	)
}
