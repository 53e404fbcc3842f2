package lifecycle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Component is a long-lived piece of the process with an explicit lifespan:
// the flushers, the action dispatcher, anything owning a background
// goroutine. Stop must drain within the deadline carried by its context.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime brings components up in registration order and tears them down in
// reverse. A failed Start rolls back the components already running, so the
// process never observes a half-started state.
type Runtime struct {
	mu         sync.Mutex
	registered []Component
	running    []Component
}

func NewRuntime(components ...Component) *Runtime {
	r := &Runtime{}
	for _, component := range components {
		r.Register(component)
	}
	return r
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.mu.Lock()
	r.registered = append(r.registered, component)
	r.mu.Unlock()
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, component := range r.registered {
		if err := component.Start(ctx); err != nil {
			_ = r.teardown(ctx)
			return errors.WithMessage(err, "cant start component")
		}
		r.running = append(r.running, component)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown(ctx)
}

// teardown stops every running component in reverse order. It keeps going
// past failures so a stuck component cannot strand the ones behind it.
func (r *Runtime) teardown(ctx context.Context) error {
	var failure error
	for i := len(r.running) - 1; i >= 0; i-- {
		if err := r.running[i].Stop(ctx); err != nil {
			failure = errors.WithMessage(err, "cant stop component")
		}
	}
	r.running = nil
	return failure
}
