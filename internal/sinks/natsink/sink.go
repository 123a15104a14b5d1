// Package natsink publishes engine events to NATS subjects so downstream
// consumers (UI, persistence) can subscribe without linking the engine.
package natsink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/qfzcxdl/tranlater/internal/config"
	"github.com/qfzcxdl/tranlater/internal/domain"
)

// Sink implements ports.EventSink over a NATS connection. Results are
// published per kind under <prefix>.caption.<kind>, state transitions under
// <prefix>.state and errors under <prefix>.error.
type Sink struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

type statePayload struct {
	State  domain.SessionState       `json:"state"`
	Reason domain.SessionStateReason `json:"reason"`
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Sink, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("no NATS servers configured")
	}
	name := cfg.Name
	if name == "" {
		name = "tranlater"
	}

	conn, err := nats.Connect(
		strings.Join(cfg.Servers, ","),
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "tranlater"
	}

	log.Info("connected to NATS", slog.String("servers", strings.Join(cfg.Servers, ",")))
	return &Sink{conn: conn, prefix: prefix, log: log}, nil
}

func (s *Sink) Result(result domain.SynchronizedResult) {
	s.publish(s.prefix+".caption."+string(result.Kind), result)
}

func (s *Sink) StateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.publish(s.prefix+".state", statePayload{State: state, Reason: reason})
}

func (s *Sink) EngineError(err domain.EngineError) {
	s.publish(s.prefix+".error", err)
}

func (s *Sink) Close() {
	if s == nil || s.conn == nil {
		return
	}
	_ = s.conn.Drain()
	s.conn.Close()
}

func (s *Sink) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to encode event", slog.String("subject", subject), slog.Any("error", err))
		return
	}
	if err := s.conn.Publish(subject, data); err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slog.Any("error", err))
	}
}
