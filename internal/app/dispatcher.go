package app

import (
	"context"

	"github.com/modelrelay/admission/internal/circuit"
)

// Dispatcher routes upstream invocations through the per-provider breakers.
// The provider call itself is injected; this layer knows nothing about wire
// formats.
type Dispatcher struct {
	registry *circuit.Registry
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(registry *circuit.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch invokes fn through the provider's breaker. A *circuit.OpenError
// means the call was fast-failed without reaching the provider; any other
// error is the provider's own.
func (d *Dispatcher) Dispatch(ctx context.Context, provider string, fn func(context.Context) error) error {
	if d == nil || d.registry == nil {
		return fn(ctx)
	}
	return d.registry.Get(provider).Call(ctx, fn)
}
