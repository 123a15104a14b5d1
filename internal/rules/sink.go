package rules

import (
	"github.com/qfzcxdl/tranlater/internal/domain"
	"github.com/qfzcxdl/tranlater/internal/ports"
)

// Sink decorates an event sink with caption corrections. Only finalized text
// is corrected; interim captions are transient and replaced within moments
// anyway, so rewriting them buys nothing.
type Sink struct {
	next   ports.EventSink
	engine *Engine
}

// WrapSink returns next unchanged when the engine has no rules.
func WrapSink(next ports.EventSink, engine *Engine) ports.EventSink {
	if engine == nil || engine.Empty() {
		return next
	}
	return &Sink{next: next, engine: engine}
}

func (s *Sink) Result(result domain.SynchronizedResult) {
	if result.IsFinal {
		result.Original = s.engine.Apply(result.Original)
		if result.Translated != "" {
			result.Translated = s.engine.Apply(result.Translated)
		}
	}
	s.next.Result(result)
}

func (s *Sink) StateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.next.StateChanged(state, reason)
}

func (s *Sink) EngineError(err domain.EngineError) {
	s.next.EngineError(err)
}
