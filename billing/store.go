/*
store.go - Persistence interface for charges and period state

PURPOSE:
  Defines the interface between the workflow controller and the database.
  The controller never knows which backend it talks to; it is handed a
  TxStore at construction time.

KEY INTERFACES:
  ChargeStore: Charge rows keyed by (unit, period) and period lock state
  TxStore:     ChargeStore plus atomic multi-write transactions

ATOMIC BATCHES:
  SaveCharges() and every WithTx() body are all-or-nothing. A statement
  reconciliation touching 200 units either updates all 200 rows or none.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - workflow.go: The only writer of charges
*/
package billing

import (
	"context"
	"time"
)

// ChargeStore persists charges and period lock state.
type ChargeStore interface {
	// GetCharge returns ErrChargeNotFound for unknown IDs.
	GetCharge(ctx context.Context, id ChargeID) (Charge, error)

	// ChargesByPeriod returns every charge of the period ordered by unit.
	ChargesByPeriod(ctx context.Context, period Period) ([]Charge, error)

	// SaveCharges upserts charges atomically, keyed by ID.
	SaveCharges(ctx context.Context, charges []Charge) error

	// DeleteCharges removes the period's charges for the given units and
	// returns how many rows were removed.
	DeleteCharges(ctx context.Context, period Period, unitIDs []UnitID) (int, error)

	// PeriodState returns the lock state; unknown periods are unlocked.
	PeriodState(ctx context.Context, period Period) (PeriodState, error)

	// SavePeriodState upserts the lock state.
	SavePeriodState(ctx context.Context, state PeriodState) error
}

// TxStore wraps ChargeStore with transaction support.
type TxStore interface {
	ChargeStore

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed store is rolled back.
	WithTx(ctx context.Context, fn func(ChargeStore) error) error
}

// =============================================================================
// ACTIVITY LOG - Who did what when, written by the API layer
// =============================================================================

type ActivityAction string

const (
	ActivityPeriodCalculated ActivityAction = "period_calculated"
	ActivityPeriodLocked     ActivityAction = "period_locked"
	ActivityPeriodUnlocked   ActivityAction = "period_unlocked"
	ActivityPaymentRecorded  ActivityAction = "payment_recorded"
	ActivityPaymentUndone    ActivityAction = "payment_undone"
	ActivityStatementImport  ActivityAction = "statement_imported"
	ActivityChargesDeleted   ActivityAction = "charges_deleted"
	ActivityTariffPublished  ActivityAction = "tariff_published"
	ActivityUnitChanged      ActivityAction = "unit_changed"
	ActivityVehicleChanged   ActivityAction = "vehicle_changed"
	ActivityAdjustmentAdded  ActivityAction = "adjustment_added"
	ActivityReadingRecorded  ActivityAction = "reading_recorded"
	ActivityRosterImported   ActivityAction = "roster_imported"
)

// ActivityEntry records a mutation with its actor and free-text reason.
type ActivityEntry struct {
	ID      string
	At      time.Time
	Actor   string
	Action  ActivityAction
	Period  Period
	UnitID  UnitID
	Reason  string
	Payload map[string]any
}
