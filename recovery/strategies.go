package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/FrostLynn/frostlynnPDF/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy keeps parsing past recoverable damage. Every problem is
// recorded and logged at warn level.
type LenientStrategy struct {
	Logger observability.Logger

	mu     sync.Mutex
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

// NewLoggingStrategy returns a lenient strategy that reports through l.
func NewLoggingStrategy(l observability.Logger) *LenientStrategy {
	return &LenientStrategy{Logger: l}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	wrapped := fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err)
	s.mu.Lock()
	s.Errors = append(s.Errors, wrapped)
	s.mu.Unlock()
	observability.OrNop(s.Logger).Warn("recovered from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Int("object", location.ObjectNum),
		observability.Error("error", err),
	)
	return ActionWarn
}

// Recorded returns a snapshot of the collected errors.
func (s *LenientStrategy) Recorded() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.Errors...)
}
