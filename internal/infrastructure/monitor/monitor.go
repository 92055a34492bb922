package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/internal/ledger"
)

// Check probes one dependency; a nil error means healthy.
type Check func(ctx context.Context) error

type probe struct {
	name    string
	check   Check
	timeout time.Duration
}

type Monitor struct {
	probes []probe

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Register adds a named dependency. Call before Start.
func (m *Monitor) Register(name string, check Check, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	m.probes = append(m.probes, probe{name: name, check: check, timeout: timeout})
}

func (m *Monitor) Start() {
	m.Refresh()
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Healthy()
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	services := make(map[string]ServiceStatus, len(m.status.Services))
	for k, v := range m.status.Services {
		services[k] = v
	}
	return Status{Services: services, LastCheck: m.status.LastCheck}
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopCh:
			return
		}
	}
}

// Refresh runs every probe once, concurrently.
func (m *Monitor) Refresh() {
	results := make([]ServiceStatus, len(m.probes))
	var wg sync.WaitGroup
	for i, p := range m.probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			started := time.Now()
			err := p.check(ctx)
			results[i] = ServiceStatus{Online: err == nil, Latency: time.Since(started)}
			if err != nil {
				results[i].Error = err.Error()
				m.logger.Warn("dependency check failed", zap.String("service", p.name), zap.Error(err))
			}
		}(i, p)
	}
	wg.Wait()

	status := Status{Services: make(map[string]ServiceStatus, len(m.probes)), LastCheck: time.Now()}
	for i, p := range m.probes {
		status.Services[p.name] = results[i]
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// Names lists the registered services, sorted.
func (m *Monitor) Names() []string {
	names := make([]string, 0, len(m.probes))
	for _, p := range m.probes {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

func PostgresCheck(pg *pgxpool.Pool) Check {
	return func(ctx context.Context) error {
		return pg.Ping(ctx)
	}
}

func RedisCheck(client *redislib.Client) Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func LedgerCheck(client ledger.Client) Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx)
	}
}
