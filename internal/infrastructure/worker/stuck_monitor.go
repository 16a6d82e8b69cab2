package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/bill-workflow/internal/application/dispatcher"
	"github.com/garyjia/bill-workflow/internal/application/service"
	"github.com/garyjia/bill-workflow/internal/domain/event"
)

// StuckMonitorConfig configures the stuck bill monitor
type StuckMonitorConfig struct {
	Interval   time.Duration // how often to scan (default: 15 minutes)
	StuckAfter time.Duration // idle time before a bill counts as stuck (default: 72 hours)
	BatchSize  int           // max bills per scan (default: 100)
}

// StuckMonitor periodically scans for bills idle in a non-terminal state
// and raises one bill.stuck event per bill per idle period.
type StuckMonitor struct {
	stats  service.StatsService
	events dispatcher.Dispatcher
	logger *zap.Logger
	cfg    StuckMonitorConfig
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// billID -> lastUpdated at the time it was reported
	reported map[string]time.Time
}

// NewStuckMonitor creates a new stuck bill monitor
func NewStuckMonitor(stats service.StatsService, events dispatcher.Dispatcher, cfg StuckMonitorConfig, logger *zap.Logger) *StuckMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 72 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = service.DefaultStuckLimit
	}
	return &StuckMonitor{
		stats:    stats,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		reported: make(map[string]time.Time),
	}
}

// Name returns the worker name for identification
func (m *StuckMonitor) Name() string {
	return "StuckMonitor"
}

// Start launches the scan loop
func (m *StuckMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("stuck monitor is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.logger.Info("StuckMonitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("stuck_after", m.cfg.StuckAfter),
		zap.Int("batch_size", m.cfg.BatchSize))

	go m.loop(runCtx, m.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight scan to finish
func (m *StuckMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("StuckMonitor stopped")
	return nil
}

func (m *StuckMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one pass and returns the number of events raised
func (m *StuckMonitor) Scan(ctx context.Context) int {
	bills, err := m.stats.StuckBills(ctx, m.cfg.StuckAfter, m.now(), m.cfg.BatchSize)
	if err != nil {
		m.logger.Error("Failed to list stuck bills", zap.Error(err))
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(bills))
	raised := 0
	for _, b := range bills {
		seen[b.BillID] = true
		if last, ok := m.reported[b.BillID]; ok && last.Equal(b.LastUpdated) {
			continue
		}
		m.reported[b.BillID] = b.LastUpdated

		evt := event.NewEvent(event.TypeBillStuck, b.BillID, map[string]interface{}{
			event.KeySerialNo:  b.SerialNo,
			event.KeyFromState: b.CurrentState,
			event.KeyFromCount: b.CurrentCount,
			event.KeyIdleHours: b.IdleHours,
		})
		m.events.DispatchAsync(ctx, evt)
		raised++
	}

	// Bills that moved on may get stuck again later.
	for id := range m.reported {
		if !seen[id] {
			delete(m.reported, id)
		}
	}

	if raised > 0 {
		m.logger.Info("Stuck bills reported",
			zap.Int("found", len(bills)),
			zap.Int("raised", raised))
	}
	return raised
}
