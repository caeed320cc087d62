package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/logging"
)

// Prober checks whether the server of record is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Prober and pushes connectivity observations into an event
// channel. Every observation is forwarded; the consumer decides which ones
// are transitions.
type Monitor struct {
	prober   Prober
	interval time.Duration
	events   chan<- Event

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor pushing into events. An interval of zero or
// less defaults to 30 seconds.
func NewMonitor(prober Prober, interval time.Duration, events chan<- Event) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		events:   events,
	}
}

// Start begins polling. The first probe runs immediately so consumers learn
// the initial state without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.poll(ctx)
}

// Stop halts polling and waits for the poll goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
}

func (m *Monitor) poll(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	online := err == nil
	if err != nil {
		logging.Debug("Connectivity probe failed",
			map[string]interface{}{"error": err.Error()})
	}

	select {
	case m.events <- Event{Online: online, At: time.Now()}:
	case <-ctx.Done():
	case <-m.stopCh:
	}
}
