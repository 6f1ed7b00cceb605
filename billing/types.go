/*
Package billing provides the core fee engine and billing workflow.

PURPOSE:
  This package contains the domain types and algorithms for billing the units
  of a residential building. Service, parking and water fees are computed
  from plain records (units, vehicles, meter readings, adjustments) and the
  active tariff tables, and the resulting charges are moved through a small
  payment state machine scoped by a monthly billing period.

KEY CONCEPTS IN THIS FILE (types.go):
  - Unit: An apartment or kiosk, the thing that gets billed
  - Vehicle: A registered vehicle of a unit, billed by tier
  - Adjustment: A manual credit/debit for a unit and period
  - Charge: The computed bill for one (unit, period) pair
  - PaymentStatus: pending -> reconciling -> paid_tm | paid_ck

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, rounded only at final aggregation
  2. Purity: The engine never touches storage; the controller does
  3. Type Safety: Strong typing for IDs and enums
  4. Recoverability: Rejections are returned, never panicked

USAGE:
  draft, err := billing.ComputeCharge(billing.ChargeInput{
      Period:   billing.MustParsePeriod("2025-03"),
      Unit:     unit,
      Vehicles: vehicles,
      Water:    billing.WaterReading{UnitID: unit.ID, Previous: d(120), Current: d(138)},
  }, tariffs)

SEE ALSO:
  - tariff.go: Tariff tables and lookups
  - engine.go: Fee computation
  - workflow.go: Period lock and payment state machine
*/
package billing

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// D builds a decimal from an integer amount.
func D(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// WithVAT returns base * (1 + vatPercent/100).
func WithVAT(base, vatPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(vatPercent.Div(hundred)))
}

// RoundCurrency rounds to the nearest whole currency unit.
func RoundCurrency(v decimal.Decimal) decimal.Decimal { return v.Round(0) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type OwnerID string
type VehicleID string
type ChargeID string
type AdjustmentID string

// Apartment codes are floor+number ("0903", "1205"); kiosk codes are "K" + digits.
var (
	apartmentCodeRe = regexp.MustCompile(`^[0-9]{3,4}[A-Z]?$`)
	kioskCodeRe     = regexp.MustCompile(`^K[0-9]{1,3}$`)
)

// ValidUnitCode reports whether id is a well-formed code for the unit type.
func ValidUnitCode(id UnitID, t UnitType) bool {
	switch t {
	case UnitKiosk:
		return kioskCodeRe.MatchString(string(id))
	case UnitApartment:
		return apartmentCodeRe.MatchString(string(id))
	default:
		return false
	}
}

// =============================================================================
// UNIT
// =============================================================================

type UnitType string

const (
	UnitApartment UnitType = "apartment"
	UnitKiosk     UnitType = "kiosk"
)

type OccupancyStatus string

const (
	OccupancyOwner    OccupancyStatus = "owner_occupied"
	OccupancyRented   OccupancyStatus = "rented"
	OccupancyBusiness OccupancyStatus = "business"
)

func (s OccupancyStatus) Valid() bool {
	switch s {
	case OccupancyOwner, OccupancyRented, OccupancyBusiness:
		return true
	}
	return false
}

// Unit is a physical apartment or kiosk.
type Unit struct {
	ID        UnitID
	Type      UnitType
	AreaM2    decimal.Decimal
	Status    OccupancyStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner is the resident of record for a unit.
type Owner struct {
	ID     OwnerID
	UnitID UnitID
	Name   string
	Phone  string
	Email  string
}

// =============================================================================
// VEHICLE
// =============================================================================

type VehicleTier string

const (
	TierCar        VehicleTier = "car"
	TierCarPremium VehicleTier = "car_premium"
	TierMotorbike  VehicleTier = "motorbike"
	TierEBike      VehicleTier = "ebike"
	TierBicycle    VehicleTier = "bicycle"
)

func (t VehicleTier) Valid() bool {
	switch t {
	case TierCar, TierCarPremium, TierMotorbike, TierEBike, TierBicycle:
		return true
	}
	return false
}

// Vehicle is registered to exactly one unit.
type Vehicle struct {
	ID           VehicleID
	UnitID       UnitID
	Tier         VehicleTier
	Plate        string
	Active       bool
	RegisteredAt time.Time
}

// =============================================================================
// ADJUSTMENT / METER READING
// =============================================================================

// Adjustment is a manual credit (negative) or debit (positive).
type Adjustment struct {
	ID        AdjustmentID
	UnitID    UnitID
	Period    Period
	Amount    decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// WaterReading holds the meter indexes of a unit for a period.
type WaterReading struct {
	UnitID   UnitID
	Period   Period
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// Consumption returns Current - Previous. Negative means a meter rollback.
func (r WaterReading) Consumption() decimal.Decimal { return r.Current.Sub(r.Previous) }

// =============================================================================
// CHARGE
// =============================================================================

type PaymentStatus string

const (
	StatusPending     PaymentStatus = "pending"
	StatusReconciling PaymentStatus = "reconciling"
	StatusPaidCash    PaymentStatus = "paid_tm"
	StatusPaidBank    PaymentStatus = "paid_ck"
)

// IsPaid reports a confirmed payment.
func (s PaymentStatus) IsPaid() bool { return s == StatusPaidCash || s == StatusPaidBank }

// Preserved reports statuses that recalculation must not overwrite.
func (s PaymentStatus) Preserved() bool { return s.IsPaid() || s == StatusReconciling }

// PaymentMethod is the subset of statuses accepted by RecordPayment.
type PaymentMethod = PaymentStatus

// FeeLine is one component of a charge, before and after VAT.
type FeeLine struct {
	Base       decimal.Decimal
	VATPercent decimal.Decimal
	Total      decimal.Decimal
}

func (f FeeLine) VAT() decimal.Decimal { return f.Total.Sub(f.Base) }

// BracketUsage is the consumption billed inside one water bracket.
type BracketUsage struct {
	Key    string
	From   decimal.Decimal
	To     *decimal.Decimal
	Usage  decimal.Decimal
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// ParkingLine is the count and price billed for one parking tariff key.
type ParkingLine struct {
	Key    string
	Count  int
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// ChargeDraft is the engine output for one unit and period.
type ChargeDraft struct {
	UnitID      UnitID
	Period      Period
	Service     FeeLine
	Parking     FeeLine
	Water       FeeLine
	Adjustments decimal.Decimal
	TotalDue    decimal.Decimal

	Consumption  decimal.Decimal
	WaterUsage   []BracketUsage
	ParkingLines []ParkingLine

	// Warnings lists data-integrity gaps that degraded a component to zero.
	Warnings []string
}

// Charge is a persisted bill for one (unit, period).
type Charge struct {
	ID          ChargeID
	UnitID      UnitID
	Period      Period
	Service     FeeLine
	Parking     FeeLine
	Water       FeeLine
	Adjustments decimal.Decimal
	TotalDue    decimal.Decimal
	TotalPaid   decimal.Decimal
	Consumption decimal.Decimal
	Status      PaymentStatus
	Locked      bool
	Warnings    []string

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// Outstanding is TotalDue - TotalPaid.
func (c Charge) Outstanding() decimal.Decimal { return c.TotalDue.Sub(c.TotalPaid) }

// PeriodState records the lock flag of a billing period.
type PeriodState struct {
	Period   Period
	Locked   bool
	LockedAt *time.Time
	LockedBy string
}
