/*
workflow.go - Billing workflow controller

PURPOSE:
  Owns every mutation of charges: period calculation, lock/unlock, payment
  recording, statement reconciliation, undo and bulk delete. Each operation
  runs as one transaction against the injected TxStore.

STATE MACHINE (per charge):
  pending     --RecordPayment-->          paid_tm | paid_ck
  pending     --ReconcileFromStatement--> reconciling
  reconciling --RecordPayment-->          paid_tm | paid_ck
  paid_*      --UndoPayment-->            pending
  reconciling --UndoPayment-->            pending
  any         --DeleteCharges-->          removed

GUARDS:
  Every mutation checks, inside its transaction:
  - the period is not after the current month (Clock)
  - the period is not locked
  Violations are returned as *RejectionError and nothing is written.

UNLOCKING:
  UnlockPeriod requires UnlockRequest.Confirm. A bare call is rejected.

SEE ALSO:
  - engine.go: ComputeCharge
  - store.go: TxStore
*/
package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operation names, used in rejections, logs and metrics.
const (
	OpCalculate = "calculate_period"
	OpLock      = "lock_period"
	OpUnlock    = "unlock_period"
	OpPayment   = "record_payment"
	OpReconcile = "reconcile_statement"
	OpUndo      = "undo_payment"
	OpDelete    = "delete_charges"
)

// Metrics receives one observation per workflow operation.
type Metrics interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, error, time.Duration) {}

// Controller runs the billing workflow against a TxStore.
type Controller struct {
	store   TxStore
	clock   Clock
	log     *zap.Logger
	metrics Metrics
	newID   func() ChargeID
	loc     *time.Location
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(c Clock) Option {
	return func(ctrl *Controller) {
		if c != nil {
			ctrl.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(ctrl *Controller) {
		if l != nil {
			ctrl.log = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(ctrl *Controller) {
		if m != nil {
			ctrl.metrics = m
		}
	}
}

// WithLocation sets the building's time zone. The current period, and so
// the future-period guard, follows its calendar. UTC by default.
func WithLocation(loc *time.Location) Option {
	return func(ctrl *Controller) {
		if loc != nil {
			ctrl.loc = loc
		}
	}
}

// WithIDGenerator overrides charge ID generation (uuid by default).
func WithIDGenerator(fn func() ChargeID) Option {
	return func(ctrl *Controller) {
		if fn != nil {
			ctrl.newID = fn
		}
	}
}

// NewController constructs the controller.
func NewController(store TxStore, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("billing controller: nil store")
	}
	c := &Controller{
		store:   store,
		clock:   SystemClock{},
		log:     zap.NewNop(),
		metrics: noopMetrics{},
		newID:   func() ChargeID { return ChargeID(uuid.NewString()) },
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =============================================================================
// PLANNING - Pure period computation
// =============================================================================

// UnitFailure is a unit the engine refused to bill.
type UnitFailure struct {
	UnitID UnitID
	Err    error
}

// PeriodPlan is the outcome of running the engine over a period.
type PeriodPlan struct {
	Period    Period
	Drafts    []ChargeDraft
	Preserved []Charge
	Failures  []UnitFailure
}

// PlanPeriod runs ComputeCharge for every input except units whose existing
// charge is paid or reconciling; those are returned untouched in Preserved.
func PlanPeriod(period Period, inputs []ChargeInput, tariffs TariffSet, existing []Charge) PeriodPlan {
	plan := PeriodPlan{Period: period}
	byUnit := make(map[UnitID]Charge, len(existing))
	for _, c := range existing {
		if c.Period == period {
			byUnit[c.UnitID] = c
		}
	}
	for _, in := range inputs {
		if c, ok := byUnit[in.Unit.ID]; ok && c.Status.Preserved() {
			plan.Preserved = append(plan.Preserved, c)
			continue
		}
		in.Period = period
		draft, err := ComputeCharge(in, tariffs)
		if err != nil {
			plan.Failures = append(plan.Failures, UnitFailure{UnitID: in.Unit.ID, Err: err})
			continue
		}
		plan.Drafts = append(plan.Drafts, draft)
	}
	return plan
}

// =============================================================================
// CALCULATE
// =============================================================================

// CalculationResult is what CalculatePeriod wrote and skipped.
type CalculationResult struct {
	PeriodPlan
	Charges []Charge
}

// CalculatePeriod computes and stores charges for the period.
func (c *Controller) CalculatePeriod(ctx context.Context, period Period, inputs []ChargeInput, tariffs TariffSet) (result CalculationResult, err error) {
	defer c.observe(OpCalculate, period, time.Now(), &err)

	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		if err := c.guard(ctx, s, OpCalculate, period, ""); err != nil {
			return err
		}
		existing, err := s.ChargesByPeriod(ctx, period)
		if err != nil {
			return err
		}
		plan := PlanPeriod(period, inputs, tariffs, existing)

		byUnit := make(map[UnitID]Charge, len(existing))
		for _, ch := range existing {
			byUnit[ch.UnitID] = ch
		}
		now := c.clock.Now().UTC()
		charges := make([]Charge, 0, len(plan.Drafts))
		for _, d := range plan.Drafts {
			ch, ok := byUnit[d.UnitID]
			if !ok {
				ch = Charge{ID: c.newID(), UnitID: d.UnitID, Period: period, CreatedAt: now, TotalPaid: decimal.Zero}
			}
			ch.Service, ch.Parking, ch.Water = d.Service, d.Parking, d.Water
			ch.Adjustments = d.Adjustments
			ch.TotalDue = d.TotalDue
			ch.Consumption = d.Consumption
			ch.Warnings = d.Warnings
			ch.Status = StatusPending
			ch.UpdatedAt = now
			charges = append(charges, ch)
		}
		if err := s.SaveCharges(ctx, charges); err != nil {
			return err
		}
		result = CalculationResult{PeriodPlan: plan, Charges: charges}
		return nil
	})
	if err != nil {
		return CalculationResult{}, err
	}
	for _, f := range result.Failures {
		c.log.Warn("unit not billed", zap.String("period", period.String()), zap.String("unit", string(f.UnitID)), zap.Error(f.Err))
	}
	c.log.Info("period calculated",
		zap.String("period", period.String()),
		zap.Int("charges", len(result.Charges)),
		zap.Int("preserved", len(result.Preserved)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// =============================================================================
// LOCK / UNLOCK
// =============================================================================

// LockPeriod locks the period. Locking a locked period is a no-op.
func (c *Controller) LockPeriod(ctx context.Context, period Period, actor string) (state PeriodState, err error) {
	defer c.observe(OpLock, period, time.Now(), &err)

	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		if c.isFuture(period) {
			return reject(OpLock, period, "", ErrFuturePeriod)
		}
		current, err := s.PeriodState(ctx, period)
		if err != nil {
			return err
		}
		if current.Locked {
			state = current
			return nil
		}
		now := c.clock.Now().UTC()
		state = PeriodState{Period: period, Locked: true, LockedAt: &now, LockedBy: actor}
		if err := s.SavePeriodState(ctx, state); err != nil {
			return err
		}
		return c.markLocked(ctx, s, period, true)
	})
	return state, err
}

// UnlockRequest carries the explicit confirmation UnlockPeriod requires.
type UnlockRequest struct {
	Confirm bool
	Actor   string
	Reason  string
}

// UnlockPeriod unlocks the period when req.Confirm is set.
func (c *Controller) UnlockPeriod(ctx context.Context, period Period, req UnlockRequest) (state PeriodState, err error) {
	defer c.observe(OpUnlock, period, time.Now(), &err)

	if !req.Confirm {
		return PeriodState{}, reject(OpUnlock, period, "", ErrUnlockNotConfirmed)
	}
	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		current, err := s.PeriodState(ctx, period)
		if err != nil {
			return err
		}
		state = PeriodState{Period: period}
		if !current.Locked {
			return nil
		}
		if err := s.SavePeriodState(ctx, state); err != nil {
			return err
		}
		return c.markLocked(ctx, s, period, false)
	})
	if err == nil {
		c.log.Info("period unlocked", zap.String("period", period.String()), zap.String("actor", req.Actor), zap.String("reason", req.Reason))
	}
	return state, err
}

func (c *Controller) markLocked(ctx context.Context, s ChargeStore, period Period, locked bool) error {
	charges, err := s.ChargesByPeriod(ctx, period)
	if err != nil {
		return err
	}
	for i := range charges {
		charges[i].Locked = locked
	}
	return s.SaveCharges(ctx, charges)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment confirms a payment: pending|reconciling -> paid_tm|paid_ck.
func (c *Controller) RecordPayment(ctx context.Context, id ChargeID, amount decimal.Decimal, method PaymentMethod) (charge Charge, err error) {
	start := time.Now()
	defer func() { c.observe(OpPayment, charge.Period, start, &err) }()
	if !method.IsPaid() {
		return Charge{}, ErrInvalidPaymentMethod
	}
	if amount.IsNegative() {
		return Charge{}, ErrNegativeAmount
	}
	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		ch, err := s.GetCharge(ctx, id)
		if err != nil {
			return err
		}
		if err := c.guard(ctx, s, OpPayment, ch.Period, id); err != nil {
			return err
		}
		if ch.Status != StatusPending && ch.Status != StatusReconciling {
			return reject(OpPayment, ch.Period, id, ErrInvalidTransition)
		}
		now := c.clock.Now().UTC()
		ch.TotalPaid = amount
		ch.Status = method
		ch.PaidAt = &now
		ch.UpdatedAt = now
		if err := s.SaveCharges(ctx, []Charge{ch}); err != nil {
			return err
		}
		charge = ch
		return nil
	})
	return charge, err
}

// UndoPayment returns a paid or reconciling charge to pending.
func (c *Controller) UndoPayment(ctx context.Context, id ChargeID) (charge Charge, err error) {
	start := time.Now()
	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		ch, err := s.GetCharge(ctx, id)
		if err != nil {
			return err
		}
		if err := c.guard(ctx, s, OpUndo, ch.Period, id); err != nil {
			return err
		}
		if ch.Status == StatusPending {
			return reject(OpUndo, ch.Period, id, ErrInvalidTransition)
		}
		ch.Status = StatusPending
		ch.TotalPaid = decimal.Zero
		ch.PaidAt = nil
		ch.UpdatedAt = c.clock.Now().UTC()
		if err := s.SaveCharges(ctx, []Charge{ch}); err != nil {
			return err
		}
		charge = ch
		return nil
	})
	c.observe(OpUndo, charge.Period, start, &err)
	return charge, err
}

// =============================================================================
// STATEMENT RECONCILIATION
// =============================================================================

// SkippedMatch is a statement match that was not applied.
type SkippedMatch struct {
	UnitID UnitID
	Amount decimal.Decimal
	Reason string
}

// ReconcileResult reports what a statement import changed.
type ReconcileResult struct {
	Period     Period
	Reconciled []Charge
	Unmatched  []UnitID
	Skipped    []SkippedMatch
}

// ReconcileFromStatement applies automated bank-statement matches. Matched
// pending charges move to reconciling with TotalPaid set to the amount; they
// need RecordPayment to become paid. Confirmed payments are never downgraded.
func (c *Controller) ReconcileFromStatement(ctx context.Context, period Period, matches map[UnitID]decimal.Decimal) (result ReconcileResult, err error) {
	defer c.observe(OpReconcile, period, time.Now(), &err)

	units := make([]UnitID, 0, len(matches))
	for id := range matches {
		units = append(units, id)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		if err := c.guard(ctx, s, OpReconcile, period, ""); err != nil {
			return err
		}
		existing, err := s.ChargesByPeriod(ctx, period)
		if err != nil {
			return err
		}
		byUnit := make(map[UnitID]Charge, len(existing))
		for _, ch := range existing {
			byUnit[ch.UnitID] = ch
		}

		result = ReconcileResult{Period: period}
		now := c.clock.Now().UTC()
		for _, unitID := range units {
			amount := matches[unitID]
			ch, ok := byUnit[unitID]
			switch {
			case !ok:
				result.Unmatched = append(result.Unmatched, unitID)
			case amount.IsNegative():
				result.Skipped = append(result.Skipped, SkippedMatch{UnitID: unitID, Amount: amount, Reason: "negative amount"})
			case ch.Status.IsPaid():
				result.Skipped = append(result.Skipped, SkippedMatch{UnitID: unitID, Amount: amount, Reason: "already paid (" + string(ch.Status) + ")"})
			default:
				ch.Status = StatusReconciling
				ch.TotalPaid = amount
				ch.UpdatedAt = now
				result.Reconciled = append(result.Reconciled, ch)
			}
		}
		return s.SaveCharges(ctx, result.Reconciled)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	c.log.Info("statement reconciled",
		zap.String("period", period.String()),
		zap.Int("reconciled", len(result.Reconciled)),
		zap.Int("unmatched", len(result.Unmatched)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteCharges removes the period's charges for unitIDs.
func (c *Controller) DeleteCharges(ctx context.Context, period Period, unitIDs []UnitID) (removed int, err error) {
	defer c.observe(OpDelete, period, time.Now(), &err)

	err = c.store.WithTx(ctx, func(s ChargeStore) error {
		if err := c.guard(ctx, s, OpDelete, period, ""); err != nil {
			return err
		}
		removed, err = s.DeleteCharges(ctx, period, unitIDs)
		return err
	})
	return removed, err
}

// =============================================================================
// READS
// =============================================================================

func (c *Controller) Charges(ctx context.Context, period Period) ([]Charge, error) {
	return c.store.ChargesByPeriod(ctx, period)
}

func (c *Controller) Charge(ctx context.Context, id ChargeID) (Charge, error) {
	return c.store.GetCharge(ctx, id)
}

func (c *Controller) PeriodState(ctx context.Context, period Period) (PeriodState, error) {
	return c.store.PeriodState(ctx, period)
}

// =============================================================================
// GUARDS
// =============================================================================

// CurrentPeriod is the building's current month.
func (c *Controller) CurrentPeriod() Period {
	return PeriodIn(c.clock.Now(), c.loc)
}

func (c *Controller) isFuture(p Period) bool {
	return p.After(c.CurrentPeriod())
}

func (c *Controller) guard(ctx context.Context, s ChargeStore, op string, p Period, id ChargeID) error {
	if c.isFuture(p) {
		return reject(op, p, id, ErrFuturePeriod)
	}
	state, err := s.PeriodState(ctx, p)
	if err != nil {
		return err
	}
	if state.Locked {
		return reject(op, p, id, ErrPeriodLocked)
	}
	return nil
}

func (c *Controller) observe(op string, p Period, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	c.metrics.ObserveOperation(op, err, time.Since(start))
	switch {
	case err == nil:
	case IsRejection(err):
		c.log.Warn("operation rejected", zap.String("op", op), zap.String("period", p.String()), zap.Error(err))
	case IsClientError(err):
		c.log.Info("operation refused: invalid input", zap.String("op", op), zap.String("period", p.String()), zap.Error(err))
	}
}
