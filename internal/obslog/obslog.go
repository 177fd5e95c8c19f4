// Package obslog implements the Observability Hooks (C7): a small
// structured action log the transaction manager writes to on every
// mutating operation, replacing the teacher's
// hand-rolled internal/logging package with the zerolog the rest of
// the teacher's business-logic code (internal/orders/position_tracker.go)
// already uses directly.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one action-log entry: who did what, with what outcome, and
// — for failures — why.
type Event struct {
	RequestID string
	Username  string
	Operation string
	Outcome   Outcome
	Detail    string
	Critical  bool
}

// ActionLogger records Events. Callers log once per operation at its
// boundary, not at every internal step.
type ActionLogger interface {
	Log(e Event)
}

// zerologSink is the production ActionLogger, backed by zerolog.
type zerologSink struct {
	logger zerolog.Logger
}

// New builds an ActionLogger writing structured JSON to w (os.Stdout
// in production).
func New(w io.Writer) ActionLogger {
	if w == nil {
		w = os.Stdout
	}
	return &zerologSink{logger: zerolog.New(w).With().Timestamp().Logger()}
}

func (s *zerologSink) Log(e Event) {
	evt := s.logger.Info()
	if e.Outcome == OutcomeFailure {
		if e.Critical {
			evt = s.logger.Error()
		} else {
			evt = s.logger.Warn()
		}
	}
	evt.
		Str("request_id", e.RequestID).
		Str("username", e.Username).
		Str("operation", e.Operation).
		Str("outcome", string(e.Outcome)).
		Bool("critical", e.Critical).
		Msg(e.Detail)
}

// Noop discards every event; useful as a default in tests that don't
// care about logging output.
func Noop() ActionLogger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Log(Event) {}
