/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements billing.TxStore (charges and period lock state) plus the
  building records the API edits: units, owners, vehicles, tariffs, meter
  readings, adjustments and the activity log. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.ChargeStore: Charge rows and period state
  billing.TxStore:     Atomic multi-write transactions

KEY TABLES:
  units, owners, vehicles: Building roster
  tariffs:                 Versioned price entries (expires_at NULL = current)
  meter_readings:          Water indexes per (unit, period)
  adjustments:             Manual credits/debits per (unit, period)
  charges:                 One row per (unit, period)
  period_states:           Lock flag per period
  activity_log:            Who did what, with a reason

INVARIANTS ENFORCED BY THE SCHEMA:
  - idx_tariffs_current: at most one current entry per (kind, key)
  - charges UNIQUE(unit_id, period): one charge per unit and period

MONEY AND TIME:
  Decimals are stored as TEXT (decimal.String) so no precision is lost.
  Timestamps are fixed-width RFC3339 UTC strings; periods are "YYYY-MM" strings, which
  sort chronologically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, so an
  in-memory database is shared by every query. In production with
  PostgreSQL, database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ctrl, err := billing.NewController(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/estate-billing/billing"
)

// ErrVehicleNotFound is returned when a referenced vehicle doesn't exist.
var ErrVehicleNotFound = errors.New("vehicle not found")

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		area_m2 TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS owners (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT,
		email TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_owners_unit ON owners(unit_id);

	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		tier TEXT NOT NULL,
		plate TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		registered_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vehicles_unit ON vehicles(unit_id, active);

	-- Tariff versions. A NULL expires_at marks the current entry.
	CREATE TABLE IF NOT EXISTS tariffs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		vat_percent TEXT NOT NULL,
		from_m3 TEXT NOT NULL DEFAULT '0',
		to_m3 TEXT,
		effective_from TEXT NOT NULL,
		expires_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tariffs_current
		ON tariffs(kind, key) WHERE expires_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_tariffs_kind_key
		ON tariffs(kind, key, effective_from);

	CREATE TABLE IF NOT EXISTS meter_readings (
		unit_id TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		period TEXT NOT NULL,
		previous TEXT NOT NULL,
		current TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (unit_id, period)
	);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		period TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_period ON adjustments(period, unit_id);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		period TEXT NOT NULL,
		service_base TEXT NOT NULL,
		service_vat TEXT NOT NULL,
		service_total TEXT NOT NULL,
		parking_base TEXT NOT NULL,
		parking_vat TEXT NOT NULL,
		parking_total TEXT NOT NULL,
		water_base TEXT NOT NULL,
		water_vat TEXT NOT NULL,
		water_total TEXT NOT NULL,
		adjustments TEXT NOT NULL,
		total_due TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		consumption TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		locked INTEGER NOT NULL DEFAULT 0,
		warnings_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		paid_at TEXT,
		UNIQUE(unit_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_charges_period ON charges(period, unit_id);
	CREATE INDEX IF NOT EXISTS idx_charges_status ON charges(period, status);

	CREATE TABLE IF NOT EXISTS period_states (
		period TEXT PRIMARY KEY,
		locked INTEGER NOT NULL DEFAULT 0,
		locked_at TEXT,
		locked_by TEXT
	);

	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		period TEXT,
		unit_id TEXT,
		reason TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_activity_at ON activity_log(at DESC);
	CREATE INDEX IF NOT EXISTS idx_activity_period ON activity_log(period);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CHARGE STORE (billing.ChargeStore interface)
// =============================================================================

const chargeColumns = `id, unit_id, period,
	service_base, service_vat, service_total,
	parking_base, parking_vat, parking_total,
	water_base, water_vat, water_total,
	adjustments, total_due, total_paid, consumption,
	status, locked, warnings_json, created_at, updated_at, paid_at`

func (s *Store) GetCharge(ctx context.Context, id billing.ChargeID) (billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCharge(ctx, s.db, id)
}

func getCharge(ctx context.Context, q querier, id billing.ChargeID) (billing.Charge, error) {
	row := q.QueryRowContext(ctx, "SELECT "+chargeColumns+" FROM charges WHERE id = ?", id)
	c, err := scanCharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Charge{}, billing.ErrChargeNotFound
	}
	return c, err
}

func (s *Store) ChargesByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chargesByPeriod(ctx, s.db, period)
}

func chargesByPeriod(ctx context.Context, q querier, period billing.Period) ([]billing.Charge, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+chargeColumns+" FROM charges WHERE period = ? ORDER BY unit_id", period.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []billing.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// SaveCharges upserts charges in one transaction.
func (s *Store) SaveCharges(ctx context.Context, charges []billing.Charge) error {
	return s.WithTx(ctx, func(tx billing.ChargeStore) error {
		return tx.SaveCharges(ctx, charges)
	})
}

func saveCharges(ctx context.Context, q querier, charges []billing.Charge) error {
	query := `
		INSERT INTO charges (` + chargeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			service_base = excluded.service_base,
			service_vat = excluded.service_vat,
			service_total = excluded.service_total,
			parking_base = excluded.parking_base,
			parking_vat = excluded.parking_vat,
			parking_total = excluded.parking_total,
			water_base = excluded.water_base,
			water_vat = excluded.water_vat,
			water_total = excluded.water_total,
			adjustments = excluded.adjustments,
			total_due = excluded.total_due,
			total_paid = excluded.total_paid,
			consumption = excluded.consumption,
			status = excluded.status,
			locked = excluded.locked,
			warnings_json = excluded.warnings_json,
			updated_at = excluded.updated_at,
			paid_at = excluded.paid_at
	`
	for _, c := range charges {
		// A row for the same (unit, period) under another ID is replaced.
		if _, err := q.ExecContext(ctx,
			"DELETE FROM charges WHERE unit_id = ? AND period = ? AND id <> ?",
			c.UnitID, c.Period.String(), c.ID,
		); err != nil {
			return fmt.Errorf("failed to replace charge %s: %w", c.ID, err)
		}

		warnings, _ := json.Marshal(c.Warnings)
		_, err := q.ExecContext(ctx, query,
			c.ID, c.UnitID, c.Period.String(),
			c.Service.Base.String(), c.Service.VATPercent.String(), c.Service.Total.String(),
			c.Parking.Base.String(), c.Parking.VATPercent.String(), c.Parking.Total.String(),
			c.Water.Base.String(), c.Water.VATPercent.String(), c.Water.Total.String(),
			c.Adjustments.String(), c.TotalDue.String(), c.TotalPaid.String(), c.Consumption.String(),
			c.Status, c.Locked, string(warnings),
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatTimePtr(c.PaidAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save charge %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) DeleteCharges(ctx context.Context, period billing.Period, unitIDs []billing.UnitID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteCharges(ctx, s.db, period, unitIDs)
}

func deleteCharges(ctx context.Context, q querier, period billing.Period, unitIDs []billing.UnitID) (int, error) {
	if len(unitIDs) == 0 {
		return 0, nil
	}
	args := []any{period.String()}
	for _, id := range unitIDs {
		args = append(args, string(id))
	}
	query := "DELETE FROM charges WHERE period = ? AND unit_id IN (?" + strings.Repeat(", ?", len(unitIDs)-1) + ")"
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete charges: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) PeriodState(ctx context.Context, period billing.Period) (billing.PeriodState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return periodState(ctx, s.db, period)
}

func periodState(ctx context.Context, q querier, period billing.Period) (billing.PeriodState, error) {
	state := billing.PeriodState{Period: period}
	var lockedAt, lockedBy sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT locked, locked_at, locked_by FROM period_states WHERE period = ?", period.String(),
	).Scan(&state.Locked, &lockedAt, &lockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	state.LockedAt = parseTimePtr(lockedAt)
	state.LockedBy = lockedBy.String
	return state, nil
}

func (s *Store) SavePeriodState(ctx context.Context, state billing.PeriodState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePeriodState(ctx, s.db, state)
}

func savePeriodState(ctx context.Context, q querier, state billing.PeriodState) error {
	query := `
		INSERT INTO period_states (period, locked, locked_at, locked_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(period) DO UPDATE SET
			locked = excluded.locked,
			locked_at = excluded.locked_at,
			locked_by = excluded.locked_by
	`
	_, err := q.ExecContext(ctx, query, state.Period.String(), state.Locked, formatTimePtr(state.LockedAt), nullString(state.LockedBy))
	return err
}

// ListPeriodStates returns every period that was ever locked, newest first.
func (s *Store) ListPeriodStates(ctx context.Context) ([]billing.PeriodState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT period, locked, locked_at, locked_by FROM period_states ORDER BY period DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []billing.PeriodState
	for rows.Next() {
		var (
			st                 billing.PeriodState
			period             string
			lockedAt, lockedBy sql.NullString
		)
		if err := rows.Scan(&period, &st.Locked, &lockedAt, &lockedBy); err != nil {
			return nil, err
		}
		st.Period, _ = billing.ParsePeriod(period)
		st.LockedAt = parseTimePtr(lockedAt)
		st.LockedBy = lockedBy.String
		states = append(states, st)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (billing.Charge, error) {
	var c billing.Charge
	var period, createdAt, updatedAt string
	var svcBase, svcVAT, svcTotal string
	var parkBase, parkVAT, parkTotal string
	var waterBase, waterVAT, waterTotal string
	var adjustments, due, paid, consumption string
	var warnings, paidAt sql.NullString

	err := row.Scan(
		&c.ID, &c.UnitID, &period,
		&svcBase, &svcVAT, &svcTotal,
		&parkBase, &parkVAT, &parkTotal,
		&waterBase, &waterVAT, &waterTotal,
		&adjustments, &due, &paid, &consumption,
		&c.Status, &c.Locked, &warnings, &createdAt, &updatedAt, &paidAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan charge: %w", err)
	}

	c.Period, _ = billing.ParsePeriod(period)
	c.Service = billing.FeeLine{Base: dec(svcBase), VATPercent: dec(svcVAT), Total: dec(svcTotal)}
	c.Parking = billing.FeeLine{Base: dec(parkBase), VATPercent: dec(parkVAT), Total: dec(parkTotal)}
	c.Water = billing.FeeLine{Base: dec(waterBase), VATPercent: dec(waterVAT), Total: dec(waterTotal)}
	c.Adjustments = dec(adjustments)
	c.TotalDue = dec(due)
	c.TotalPaid = dec(paid)
	c.Consumption = dec(consumption)
	if warnings.Valid && warnings.String != "" {
		json.Unmarshal([]byte(warnings.String), &c.Warnings)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.PaidAt = parseTimePtr(paidAt)
	return c, nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.ChargeStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every query through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetCharge(ctx context.Context, id billing.ChargeID) (billing.Charge, error) {
	return getCharge(ctx, ts.tx, id)
}

func (ts *txStore) ChargesByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	return chargesByPeriod(ctx, ts.tx, period)
}

func (ts *txStore) SaveCharges(ctx context.Context, charges []billing.Charge) error {
	return saveCharges(ctx, ts.tx, charges)
}

func (ts *txStore) DeleteCharges(ctx context.Context, period billing.Period, unitIDs []billing.UnitID) (int, error) {
	return deleteCharges(ctx, ts.tx, period, unitIDs)
}

func (ts *txStore) PeriodState(ctx context.Context, period billing.Period) (billing.PeriodState, error) {
	return periodState(ctx, ts.tx, period)
}

func (ts *txStore) SavePeriodState(ctx context.Context, state billing.PeriodState) error {
	return savePeriodState(ctx, ts.tx, state)
}

var (
	_ billing.TxStore     = (*Store)(nil)
	_ billing.ChargeStore = (*txStore)(nil)
)

// =============================================================================
// UNIT / OWNER STORE
// =============================================================================

// SaveUnit upserts a unit. The ID is immutable; type, area and status may change.
func (s *Store) SaveUnit(ctx context.Context, u billing.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO units (id, type, area_m2, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			area_m2 = excluded.area_m2,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Type, u.AreaM2.String(), u.Status, now, now)
	return err
}

// GetUnit returns billing.ErrUnitNotFound for unknown IDs.
func (s *Store) GetUnit(ctx context.Context, id billing.UnitID) (billing.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, type, area_m2, status, created_at, updated_at FROM units WHERE id = ?", id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Unit{}, billing.ErrUnitNotFound
	}
	return u, err
}

// ListUnits returns all units ordered by ID.
func (s *Store) ListUnits(ctx context.Context) ([]billing.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUnits(ctx, s.db)
}

func listUnits(ctx context.Context, q querier) ([]billing.Unit, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, type, area_m2, status, created_at, updated_at FROM units ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []billing.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanUnit(row rowScanner) (billing.Unit, error) {
	var (
		u                    billing.Unit
		area                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Type, &area, &u.Status, &createdAt, &updatedAt); err != nil {
		return u, err
	}
	u.AreaM2 = dec(area)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

// SaveOwner upserts the owner of a unit. A unit has at most one owner of record.
func (s *Store) SaveOwner(ctx context.Context, o billing.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO owners (id, unit_id, name, phone, email)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			id = excluded.id,
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email
	`
	_, err := s.db.ExecContext(ctx, query, o.ID, o.UnitID, o.Name, nullString(o.Phone), nullString(o.Email))
	if isForeignKeyError(err) {
		return billing.ErrUnitNotFound
	}
	return err
}

// ListOwners returns all owners ordered by unit.
func (s *Store) ListOwners(ctx context.Context) ([]billing.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOwners(ctx, s.db)
}

func listOwners(ctx context.Context, q querier) ([]billing.Owner, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, unit_id, name, phone, email FROM owners ORDER BY unit_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []billing.Owner
	for rows.Next() {
		var o billing.Owner
		var phone, email sql.NullString
		if err := rows.Scan(&o.ID, &o.UnitID, &o.Name, &phone, &email); err != nil {
			return nil, err
		}
		o.Phone, o.Email = phone.String, email.String
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// =============================================================================
// VEHICLE STORE
// =============================================================================

// SaveVehicle upserts a vehicle.
func (s *Store) SaveVehicle(ctx context.Context, v billing.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO vehicles (id, unit_id, tier, plate, active, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unit_id = excluded.unit_id,
			tier = excluded.tier,
			plate = excluded.plate,
			active = excluded.active
	`
	registered := v.RegisteredAt
	if registered.IsZero() {
		registered = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, v.ID, v.UnitID, v.Tier, nullString(v.Plate), v.Active, formatTime(registered))
	if isForeignKeyError(err) {
		return billing.ErrUnitNotFound
	}
	return err
}

// GetVehicle returns ErrVehicleNotFound for unknown IDs.
func (s *Store) GetVehicle(ctx context.Context, id billing.VehicleID) (billing.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles, err := queryVehicles(ctx, s.db, "WHERE id = ?", id)
	if err != nil {
		return billing.Vehicle{}, err
	}
	if len(vehicles) == 0 {
		return billing.Vehicle{}, ErrVehicleNotFound
	}
	return vehicles[0], nil
}

// VehiclesByUnit returns the unit's vehicles, active and inactive.
func (s *Store) VehiclesByUnit(ctx context.Context, unitID billing.UnitID) ([]billing.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryVehicles(ctx, s.db, "WHERE unit_id = ?", unitID)
}

// ListVehicles returns every vehicle.
func (s *Store) ListVehicles(ctx context.Context) ([]billing.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryVehicles(ctx, s.db, "")
}

// SetVehicleActive activates or deregisters a vehicle.
func (s *Store) SetVehicleActive(ctx context.Context, id billing.VehicleID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE vehicles SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVehicleNotFound
	}
	return nil
}

func queryVehicles(ctx context.Context, q querier, where string, args ...any) ([]billing.Vehicle, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, unit_id, tier, plate, active, registered_at FROM vehicles "+where+" ORDER BY unit_id, registered_at, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []billing.Vehicle
	for rows.Next() {
		var v billing.Vehicle
		var plate sql.NullString
		var registered string
		if err := rows.Scan(&v.ID, &v.UnitID, &v.Tier, &plate, &v.Active, &registered); err != nil {
			return nil, err
		}
		v.Plate = plate.String
		v.RegisteredAt = parseTime(registered)
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// =============================================================================
// TARIFF STORE
// =============================================================================

// TariffSet loads every tariff version.
func (s *Store) TariffSet(ctx context.Context) (billing.TariffSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTariffs(ctx, s.db)
}

func loadTariffs(ctx context.Context, q querier) (billing.TariffSet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, key, unit_price, vat_percent, from_m3, to_m3, effective_from, expires_at
		FROM tariffs
		ORDER BY kind, effective_from, key`)
	if err != nil {
		return billing.TariffSet{}, err
	}
	defer rows.Close()

	var set billing.TariffSet
	for rows.Next() {
		var e billing.TariffEntry
		var price, vat, from, effective string
		var to, expires sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Key, &price, &vat, &from, &to, &effective, &expires); err != nil {
			return billing.TariffSet{}, err
		}
		e.UnitPrice = dec(price)
		e.VATPercent = dec(vat)
		e.FromM3 = dec(from)
		if to.Valid {
			v := dec(to.String)
			e.ToM3 = &v
		}
		e.EffectiveFrom = parseTime(effective)
		e.ExpiresAt = parseTimePtr(expires)
		set.Entries = append(set.Entries, e)
	}
	return set, rows.Err()
}

func insertTariff(ctx context.Context, q querier, e billing.TariffEntry) error {
	var to any
	if e.ToM3 != nil {
		to = e.ToM3.String()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO tariffs (id, kind, key, unit_price, vat_percent, from_m3, to_m3, effective_from, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Key, e.UnitPrice.String(), e.VATPercent.String(), e.FromM3.String(), to,
		formatTime(e.EffectiveFrom), formatTimePtr(e.ExpiresAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s/%s already has a current entry", billing.ErrInvalidTariff, e.Kind, e.Key)
	}
	return err
}

// PublishTariffs publishes new current entries in one transaction. Each
// entry supersedes the current version of its kind+key. The resulting table
// must pass TariffSet.Validate or nothing is written. It returns the entries
// that were expired.
func (s *Store) PublishTariffs(ctx context.Context, entries []billing.TariffEntry) ([]billing.TariffEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var expired []billing.TariffEntry
	for _, next := range entries {
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		current, err := loadTariffs(ctx, sqlTx)
		if err != nil {
			return nil, err
		}
		old, err := billing.Supersede(current.Entries, next)
		if err != nil {
			return nil, err
		}
		if old != nil {
			if _, err := sqlTx.ExecContext(ctx, "UPDATE tariffs SET expires_at = ? WHERE id = ?",
				formatTimePtr(old.ExpiresAt), old.ID); err != nil {
				return nil, err
			}
			expired = append(expired, *old)
		}
		if err := insertTariff(ctx, sqlTx, next); err != nil {
			return nil, err
		}
	}

	result, err := loadTariffs(ctx, sqlTx)
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return expired, sqlTx.Commit()
}

// ReplaceTariffs drops every tariff version and stores set instead. Used to
// seed a fresh database from a schedule file.
func (s *Store) ReplaceTariffs(ctx context.Context, set billing.TariffSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM tariffs"); err != nil {
		return err
	}
	for _, e := range set.Entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if err := insertTariff(ctx, sqlTx, e); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// METER READINGS / ADJUSTMENTS
// =============================================================================

// SaveReading upserts the reading of a unit for a period.
func (s *Store) SaveReading(ctx context.Context, r billing.WaterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO meter_readings (unit_id, period, previous, current, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, period) DO UPDATE SET
			previous = excluded.previous,
			current = excluded.current,
			recorded_at = excluded.recorded_at
	`
	_, err := s.db.ExecContext(ctx, query, r.UnitID, r.Period.String(), r.Previous.String(), r.Current.String(), formatTime(time.Now().UTC()))
	if isForeignKeyError(err) {
		return billing.ErrUnitNotFound
	}
	return err
}

// ReadingsByPeriod returns the period's readings ordered by unit.
func (s *Store) ReadingsByPeriod(ctx context.Context, period billing.Period) ([]billing.WaterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readingsByPeriod(ctx, s.db, period)
}

func readingsByPeriod(ctx context.Context, q querier, period billing.Period) ([]billing.WaterReading, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT unit_id, previous, current FROM meter_readings WHERE period = ? ORDER BY unit_id", period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []billing.WaterReading
	for rows.Next() {
		r := billing.WaterReading{Period: period}
		var prev, curr string
		if err := rows.Scan(&r.UnitID, &prev, &curr); err != nil {
			return nil, err
		}
		r.Previous, r.Current = dec(prev), dec(curr)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// LatestReading returns the unit's most recent reading before period, used
// to prefill the previous index. ok is false when there is none.
func (s *Store) LatestReading(ctx context.Context, unitID billing.UnitID, before billing.Period) (r billing.WaterReading, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var period, prev, curr string
	err = s.db.QueryRowContext(ctx, `
		SELECT period, previous, current FROM meter_readings
		WHERE unit_id = ? AND period < ?
		ORDER BY period DESC LIMIT 1`, unitID, before.String(),
	).Scan(&period, &prev, &curr)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.UnitID = unitID
	r.Period, _ = billing.ParsePeriod(period)
	r.Previous, r.Current = dec(prev), dec(curr)
	return r, true, nil
}

// SaveAdjustment inserts or updates an adjustment.
func (s *Store) SaveAdjustment(ctx context.Context, a billing.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO adjustments (id, unit_id, period, amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			reason = excluded.reason
	`
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query, a.ID, a.UnitID, a.Period.String(), a.Amount.String(), nullString(a.Reason), formatTime(created))
	if isForeignKeyError(err) {
		return billing.ErrUnitNotFound
	}
	return err
}

// AdjustmentsByPeriod returns the period's adjustments ordered by unit.
func (s *Store) AdjustmentsByPeriod(ctx context.Context, period billing.Period) ([]billing.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return adjustmentsByPeriod(ctx, s.db, period)
}

func adjustmentsByPeriod(ctx context.Context, q querier, period billing.Period) ([]billing.Adjustment, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, unit_id, amount, reason, created_at FROM adjustments WHERE period = ? ORDER BY unit_id, created_at", period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []billing.Adjustment
	for rows.Next() {
		a := billing.Adjustment{Period: period}
		var amount, created string
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.UnitID, &amount, &reason, &created); err != nil {
			return nil, err
		}
		a.Amount = dec(amount)
		a.Reason = reason.String
		a.CreatedAt = parseTime(created)
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

// =============================================================================
// ROSTER - Everything the engine needs for one period
// =============================================================================

// Roster loads the building records relevant to period in one read transaction.
func (s *Store) Roster(ctx context.Context, period billing.Period) (billing.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r   billing.Roster
		err error
	)
	if r.Units, err = listUnits(ctx, s.db); err != nil {
		return r, err
	}
	if r.Owners, err = listOwners(ctx, s.db); err != nil {
		return r, err
	}
	if r.Vehicles, err = queryVehicles(ctx, s.db, "WHERE active = 1"); err != nil {
		return r, err
	}
	if r.Adjustments, err = adjustmentsByPeriod(ctx, s.db, period); err != nil {
		return r, err
	}
	if r.Readings, err = readingsByPeriod(ctx, s.db, period); err != nil {
		return r, err
	}
	return r, nil
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

// AppendActivity records an activity entry. ID and At default to a fresh
// uuid and the current time.
func (s *Store) AppendActivity(ctx context.Context, e billing.ActivityEntry) (billing.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	var payload any
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return e, fmt.Errorf("failed to encode activity payload: %w", err)
		}
		payload = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, at, actor, action, period, unit_id, reason, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), e.Actor, e.Action, nullString(e.Period.String()), nullString(string(e.UnitID)), nullString(e.Reason), payload,
	)
	return e, err
}

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	Period billing.Period
	UnitID billing.UnitID
	Limit  int
}

// ListActivity returns activity entries, newest first.
func (s *Store) ListActivity(ctx context.Context, f ActivityFilter) ([]billing.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if !f.Period.IsZero() {
		where = append(where, "period = ?")
		args = append(args, f.Period.String())
	}
	if f.UnitID != "" {
		where = append(where, "unit_id = ?")
		args = append(args, string(f.UnitID))
	}
	query := "SELECT id, at, actor, action, period, unit_id, reason, payload_json FROM activity_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []billing.ActivityEntry
	for rows.Next() {
		var (
			e                               billing.ActivityEntry
			at                              string
			period, unitID, reason, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &period, &unitID, &reason, &payload); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		if period.Valid {
			e.Period, _ = billing.ParsePeriod(period.String)
		}
		e.UnitID = billing.UnitID(unitID.String)
		e.Reason = reason.String
		if payload.Valid && payload.String != "" {
			json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for demo/testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"activity_log", "charges", "period_states", "adjustments",
		"meter_readings", "vehicles", "owners", "tariffs", "units",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dec(s string) decimal.Decimal { return billing.MustParseDecimal(s) }

// timeLayout is RFC3339 with fixed-width nanoseconds so stored strings sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
