package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// SweepReport summarizes one pass of the health sweeper.
type SweepReport struct {
	At        time.Time `json:"at"`
	Checked   int       `json:"checked"`
	Unhealthy []string  `json:"unhealthy"`
	Restarted []string  `json:"restarted"`
}

// SweepOption configures the health sweeper.
type SweepOption func(*sweeper)

// WithAutoRestart makes the sweeper restart unhealthy instances that carry a
// factory.
func WithAutoRestart() SweepOption {
	return func(s *sweeper) {
		s.autoRestart = true
	}
}

// WithSweepTimeout bounds each restart attempt during a sweep.
func WithSweepTimeout(d time.Duration) SweepOption {
	return func(s *sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSweepHandler registers a callback invoked with every sweep report.
func WithSweepHandler(fn func(SweepReport)) SweepOption {
	return func(s *sweeper) {
		s.onSweep = fn
	}
}

type sweeper struct {
	cron        *rcron.Cron
	hub         *Hub
	autoRestart bool
	timeout     time.Duration
	onSweep     func(SweepReport)

	mu   sync.Mutex
	last SweepReport
}

// StartSweeper schedules a recurring health sweep by cron expression. Each
// pass logs unhealthy instances and, when auto restart is enabled, restarts
// those registered with a factory.
func (h *Hub) StartSweeper(expression string, opts ...SweepOption) error {
	if expression == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sweeper != nil {
		return fmt.Errorf("sweeper already running")
	}

	s := &sweeper{
		hub:     h,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.cron = rcron.New()
	if _, err := s.cron.AddJob(expression, rcron.FuncJob(s.sweep)); err != nil {
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}
	s.cron.Start()
	h.sweeper = s
	h.logger.Info("health sweeper started expression=%q auto_restart=%t", expression, s.autoRestart)
	return nil
}

// StopSweeper cancels the recurring sweep. Safe to call when none is running.
func (h *Hub) StopSweeper() {
	h.mu.Lock()
	s := h.sweeper
	h.sweeper = nil
	h.mu.Unlock()
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// LastSweep returns the most recent sweep report.
func (h *Hub) LastSweep() (SweepReport, bool) {
	h.mu.RLock()
	s := h.sweeper
	h.mu.RUnlock()
	if s == nil {
		return SweepReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.At.IsZero()
}

// Sweep runs one health pass immediately, outside any schedule.
func (h *Hub) Sweep(ctx context.Context, autoRestart bool) SweepReport {
	report := SweepReport{At: time.Now()}

	h.mu.RLock()
	handles := make([]*RegisteredInstance, 0, len(h.instances))
	for _, ri := range h.instances {
		handles = append(handles, ri)
	}
	h.mu.RUnlock()

	for _, ri := range handles {
		report.Checked++
		if ri.Handle.IsHealthy() {
			continue
		}
		report.Unhealthy = append(report.Unhealthy, ri.ID)
		h.logger.Warn("unhealthy instance %s category=%s state=%s",
			ri.ID, ri.Category, ri.Handle.CurrentState())

		if !autoRestart || ri.Factory == nil {
			continue
		}
		if err := h.Restart(ctx, ri.ID); err != nil {
			h.logger.Error("auto restart of %s failed: %v", ri.ID, err)
			continue
		}
		report.Restarted = append(report.Restarted, ri.ID)
	}
	return report
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := s.hub.Sweep(ctx, s.autoRestart)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.onSweep != nil {
		s.onSweep(report)
	}
}
