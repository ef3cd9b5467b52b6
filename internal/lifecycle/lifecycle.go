// Package lifecycle ties the process lifetime to OS termination signals.
package lifecycle

import (
	"context"
	"os/signal"
	"time"
)

const ShutdownGrace = 5 * time.Second

func WithTermination(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, TerminationSignals()...)
}

// ShutdownContext is detached from the (already cancelled) run context so
// in-flight relays get ShutdownGrace to finish.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownGrace)
}
