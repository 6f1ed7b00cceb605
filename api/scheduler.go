/*
scheduler.go - Automated period close

PURPOSE:
  Periodically locks the previous billing period once a grace period after
  its month end has passed, so late edits need an explicit unlock.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only the month before the current one is considered
  - Periods without charges are left alone (nothing was billed yet)
  - Locks are recorded in the activity log under the actor "scheduler"

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - GraceDays: Days after month end before locking (0 disables)

USAGE:
  closer := NewPeriodCloser(handler, 10)
  closer.Start()
  // ... later
  closer.Stop()

SEE ALSO:
  - billing_handlers.go: LockPeriod endpoint (manual lock)
  - billing/workflow.go: Controller.LockPeriod
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/estate-billing/billing"
)

const schedulerActor = "scheduler"

// PeriodCloser locks finished periods after a grace period.
type PeriodCloser struct {
	Handler       *Handler
	CheckInterval time.Duration
	GraceDays     int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodCloser creates a closer. graceDays <= 0 disables it.
func NewPeriodCloser(h *Handler, graceDays int) *PeriodCloser {
	return &PeriodCloser{
		Handler:       h,
		CheckInterval: time.Hour,
		GraceDays:     graceDays,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (pc *PeriodCloser) Start() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	log := pc.Handler.log.Named("scheduler")
	if pc.GraceDays <= 0 {
		log.Info("period auto-lock disabled")
		return
	}

	pc.ticker = time.NewTicker(pc.CheckInterval)
	pc.wg.Add(1)
	go pc.run()

	log.Info("period auto-lock started",
		zap.Duration("interval", pc.CheckInterval),
		zap.Int("grace_days", pc.GraceDays),
	)
}

// Stop stops the scheduler.
func (pc *PeriodCloser) Stop() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.ticker != nil {
		pc.ticker.Stop()
		close(pc.stop)
		pc.wg.Wait()
		pc.ticker = nil
		pc.Handler.log.Named("scheduler").Info("period auto-lock stopped")
	}
}

func (pc *PeriodCloser) run() {
	defer pc.wg.Done()

	// Run immediately on start
	pc.RunNow(context.Background())

	for {
		select {
		case <-pc.ticker.C:
			pc.RunNow(context.Background())
		case <-pc.stop:
			return
		}
	}
}

// RunNow checks the previous period once and locks it when due. It
// returns the locked period, or the zero Period when nothing was done.
func (pc *PeriodCloser) RunNow(ctx context.Context) (billing.Period, error) {
	h := pc.Handler
	log := h.log.Named("scheduler")
	if pc.GraceDays <= 0 {
		return billing.Period{}, nil
	}

	previous := h.currentPeriod().Previous()
	due := previous.Next().StartIn(h.loc).AddDate(0, 0, pc.GraceDays)
	if h.clock.Now().Before(due) {
		return billing.Period{}, nil
	}

	state, err := h.Controller.PeriodState(ctx, previous)
	if err != nil {
		log.Error("failed to read period state", zap.String("period", previous.String()), zap.Error(err))
		return billing.Period{}, err
	}
	if state.Locked {
		return billing.Period{}, nil
	}
	charges, err := h.Controller.Charges(ctx, previous)
	if err != nil {
		log.Error("failed to list charges", zap.String("period", previous.String()), zap.Error(err))
		return billing.Period{}, err
	}
	if len(charges) == 0 {
		return billing.Period{}, nil
	}

	if _, err := h.Controller.LockPeriod(ctx, previous, schedulerActor); err != nil {
		log.Error("auto-lock failed", zap.String("period", previous.String()), zap.Error(err))
		return billing.Period{}, err
	}
	h.record(WithIdentity(ctx, RoleAdmin, schedulerActor), billing.ActivityEntry{
		Action:  billing.ActivityPeriodLocked,
		Period:  previous,
		Reason:  "automatic lock after grace period",
		Payload: map[string]any{"grace_days": pc.GraceDays, "charges": len(charges)},
	})
	log.Info("period auto-locked", zap.String("period", previous.String()), zap.Int("charges", len(charges)))
	return previous, nil
}

// NextRunTime returns when the next scheduled check will occur.
func (pc *PeriodCloser) NextRunTime() time.Time {
	return time.Now().Add(pc.CheckInterval)
}
