package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownFunc describes a graceful shutdown callback.
type ShutdownFunc func(ctx context.Context) error

// RunFunc is a long-running component; it returns when ctx is cancelled.
type RunFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Manager owns the process context. It cancels it on an OS signal or when a
// component started with Go fails, then runs shutdown hooks in reverse order.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	hooks   []hook
	wg      sync.WaitGroup
	failure error
}

// New creates a lifecycle manager with the desired shutdown timeout.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled once shutdown begins.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a shutdown hook. Hooks are executed in reverse order.
func (m *Manager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Go runs a component in the background. An error other than context
// cancellation stops the whole process.
func (m *Manager) Go(name string, run RunFunc) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := run(m.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Error("component failed", zap.String("component", name), zap.Error(err))
		m.mu.Lock()
		if m.failure == nil {
			m.failure = err
		}
		m.mu.Unlock()
		m.cancel()
	}()
}

// Wait blocks until shutdown begins and returns the first component failure, if any.
func (m *Manager) Wait() error {
	<-m.ctx.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Stop begins shutdown without a signal.
func (m *Manager) Stop() { m.cancel() }

// Shutdown executes all registered hooks, respecting the configured timeout,
// then waits for components started with Go.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	if ctx == nil {
		ctx = context.Background()
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.mu.Lock()
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	var result error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed", zap.String("component", h.name), zap.Error(err))
			result = errors.Join(result, err)
			continue
		}
		m.logger.Info("component stopped", zap.String("component", h.name))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = errors.Join(result, ctx.Err())
	}
	return result
}

// Listen cancels the manager context when an OS termination signal is received.
func (m *Manager) Listen() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
			m.cancel()
		case <-m.ctx.Done():
		}
	}()
}
