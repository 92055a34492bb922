package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/fastygo/taskledger/domain"
)

// Handler serves one named command.
type Handler[In, Out any] func(ctx context.Context, in In) (Out, error)

// Dispatcher routes commands to handlers registered under a key.
type Dispatcher[K comparable, In, Out any] struct {
	handlers map[K]Handler[In, Out]
	order    []K
	mu       sync.RWMutex
}

func NewDispatcher[K comparable, In, Out any]() *Dispatcher[K, In, Out] {
	return &Dispatcher[K, In, Out]{
		handlers: make(map[K]Handler[In, Out]),
	}
}

func (d *Dispatcher[K, In, Out]) Register(name K, handler Handler[In, Out]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; !exists {
		d.order = append(d.order, name)
	}
	d.handlers[name] = handler
}

// Execute fails with domain.ErrUnknownOperation when nothing is registered under name.
func (d *Dispatcher[K, In, Out]) Execute(ctx context.Context, name K, in In) (Out, error) {
	d.mu.RLock()
	handler, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		var zero Out
		return zero, domain.ErrUnknownOperation.WithMessage("handler %v not registered", name)
	}
	return handler(ctx, in)
}

// Names lists registered keys in registration order.
func (d *Dispatcher[K, In, Out]) Names() []K {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]K(nil), d.order...)
}

func (d *Dispatcher[K, In, Out]) String() string {
	return fmt.Sprintf("dispatcher(%d handlers)", len(d.Names()))
}
