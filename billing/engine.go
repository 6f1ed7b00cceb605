/*
engine.go - Tariff engine: per-unit fee computation

PURPOSE:
  Turns one unit's records for a period into a ChargeDraft. Pure function,
  no storage, no clock. The workflow controller persists the result.

ALGORITHM:
  1. Service: area * price of the entry keyed by occupancy status, plus VAT
  2. Parking: per-vehicle tier prices; motorbikes and e-bikes share a stepped
     quota (first MotorbikeQuota at motorbike_1_2, the rest at motorbike_3_4);
     VAT once on the sum at the parking table's VAT percent
  3. Water: kiosks pay the whole consumption at the highest bracket price;
     apartments are billed bracket by bracket with VAT once on the sum at the
     first bracket's VAT percent
  4. Adjustments: summed verbatim
  5. TotalDue: round(service + parking + water + adjustments)

ROUNDING:
  Component totals keep full precision. Only TotalDue is rounded to a whole
  currency unit.

MISSING TARIFFS:
  A component whose tariff is missing is billed as zero and a warning is
  added to the draft. One misconfigured tariff never blocks the run.

SEE ALSO:
  - tariff.go: Lookup rules for active entries
  - workflow.go: PlanPeriod runs this for every unit
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ChargeInput is everything the engine needs for one unit and period.
type ChargeInput struct {
	Period      Period
	Unit        Unit
	Owner       *Owner
	Vehicles    []Vehicle
	Adjustments []Adjustment
	Water       *WaterReading
}

// ComputeCharge computes the charge draft for one unit.
// It returns an *InputError when the input fails a guard.
func ComputeCharge(in ChargeInput, tariffs TariffSet) (ChargeDraft, error) {
	if err := validateInput(in); err != nil {
		return ChargeDraft{}, err
	}

	draft := ChargeDraft{UnitID: in.Unit.ID, Period: in.Period}

	var warn []string
	draft.Service, warn = serviceFee(in.Unit, tariffs, in.Period)
	draft.Warnings = append(draft.Warnings, warn...)

	draft.Parking, draft.ParkingLines, warn = parkingFee(in.Unit.ID, in.Vehicles, tariffs, in.Period)
	draft.Warnings = append(draft.Warnings, warn...)

	consumption := decimal.Zero
	if in.Water != nil {
		consumption = in.Water.Consumption()
	}
	draft.Consumption = consumption
	draft.Water, draft.WaterUsage, warn = waterFee(in.Unit.Type, consumption, tariffs, in.Period)
	draft.Warnings = append(draft.Warnings, warn...)

	draft.Adjustments = sumAdjustments(in.Unit.ID, in.Period, in.Adjustments)

	draft.TotalDue = RoundCurrency(
		draft.Service.Total.
			Add(draft.Parking.Total).
			Add(draft.Water.Total).
			Add(draft.Adjustments),
	)
	return draft, nil
}

func validateInput(in ChargeInput) error {
	u := in.Unit
	if in.Period.IsZero() {
		return &InputError{UnitID: u.ID, Field: "period", Reason: ErrInvalidPeriod}
	}
	if !ValidUnitCode(u.ID, u.Type) {
		return &InputError{UnitID: u.ID, Field: "id", Reason: fmt.Errorf("%w: malformed %s code %q", ErrInvalidUnit, u.Type, u.ID)}
	}
	if !u.Status.Valid() {
		return &InputError{UnitID: u.ID, Field: "status", Reason: fmt.Errorf("%w: unknown occupancy %q", ErrInvalidUnit, u.Status)}
	}
	if u.AreaM2.IsNegative() {
		return &InputError{UnitID: u.ID, Field: "area", Reason: fmt.Errorf("%w: negative area", ErrInvalidUnit)}
	}
	if w := in.Water; w != nil {
		if w.UnitID != "" && w.UnitID != u.ID {
			return &InputError{UnitID: u.ID, Field: "water", Reason: fmt.Errorf("%w: reading belongs to %s", ErrInvalidUnit, w.UnitID)}
		}
		if w.Consumption().IsNegative() {
			return &InputError{UnitID: u.ID, Field: "water", Reason: ErrNegativeConsumption}
		}
	}
	return nil
}

// =============================================================================
// SERVICE
// =============================================================================

func serviceFee(u Unit, tariffs TariffSet, p Period) (FeeLine, []string) {
	entry, ok := tariffs.Lookup(KindService, string(u.Status), p)
	if !ok {
		return zeroLine(), []string{fmt.Sprintf("no service tariff for %s in %s", u.Status, p)}
	}
	base := u.AreaM2.Mul(entry.UnitPrice)
	return FeeLine{Base: base, VATPercent: entry.VATPercent, Total: WithVAT(base, entry.VATPercent)}, nil
}

// =============================================================================
// PARKING
// =============================================================================

func parkingFee(unitID UnitID, vehicles []Vehicle, tariffs TariffSet, p Period) (FeeLine, []ParkingLine, []string) {
	counts := make(map[string]int)
	motorbikes := 0
	for _, v := range vehicles {
		if !v.Active || (v.UnitID != "" && v.UnitID != unitID) {
			continue
		}
		switch v.Tier {
		case TierCar:
			counts[ParkingCar]++
		case TierCarPremium:
			counts[ParkingCarPremium]++
		case TierBicycle:
			counts[ParkingBicycle]++
		case TierMotorbike, TierEBike:
			motorbikes++
		}
	}
	inQuota := min(motorbikes, MotorbikeQuota)
	counts[ParkingMotorbike12] = inQuota
	counts[ParkingMotorbike34] = motorbikes - inQuota

	var (
		lines    []ParkingLine
		warnings []string
		base     = decimal.Zero
	)
	for _, key := range parkingKeys {
		n := counts[key]
		if n == 0 {
			continue
		}
		entry, ok := tariffs.Lookup(KindParking, key, p)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no parking tariff for %s in %s (%d vehicles unbilled)", key, p, n))
			continue
		}
		amount := entry.UnitPrice.Mul(decimal.NewFromInt(int64(n)))
		lines = append(lines, ParkingLine{Key: key, Count: n, Price: entry.UnitPrice, Amount: amount})
		base = base.Add(amount)
	}

	vat, mixed := parkingVAT(tariffs, p)
	if mixed && base.IsPositive() {
		warnings = append(warnings, fmt.Sprintf("parking tariffs in %s carry different VAT percents; %s%% applied", p, vat))
	}
	return FeeLine{Base: base, VATPercent: vat, Total: WithVAT(base, vat)}, lines, warnings
}

// parkingKeys is the billing order of the parking table.
var parkingKeys = []string{ParkingCar, ParkingCarPremium, ParkingMotorbike12, ParkingMotorbike34, ParkingBicycle}

// parkingVAT returns the VAT of the first parking key in billing order that
// has a tariff, and whether another key disagrees with it.
func parkingVAT(tariffs TariffSet, p Period) (decimal.Decimal, bool) {
	var (
		vat   decimal.Decimal
		found bool
		mixed bool
	)
	for _, key := range parkingKeys {
		entry, ok := tariffs.Lookup(KindParking, key, p)
		if !ok {
			continue
		}
		if !found {
			vat, found = entry.VATPercent, true
			continue
		}
		if !entry.VATPercent.Equal(vat) {
			mixed = true
		}
	}
	return vat, mixed
}

// =============================================================================
// WATER
// =============================================================================

func waterFee(t UnitType, consumption decimal.Decimal, tariffs TariffSet, p Period) (FeeLine, []BracketUsage, []string) {
	brackets := tariffs.WaterBrackets(p)
	if len(brackets) == 0 {
		if consumption.IsPositive() {
			return zeroLine(), nil, []string{fmt.Sprintf("no water tariff in %s (%s m3 unbilled)", p, consumption)}
		}
		return zeroLine(), nil, nil
	}

	if t == UnitKiosk {
		top := brackets[len(brackets)-1]
		base := consumption.Mul(top.UnitPrice)
		usage := []BracketUsage{{Key: top.Key, From: top.FromM3, To: top.ToM3, Usage: consumption, Price: top.UnitPrice, Amount: base}}
		return FeeLine{Base: base, VATPercent: top.VATPercent, Total: WithVAT(base, top.VATPercent)}, usage, nil
	}

	usage, base, leftover := splitBrackets(consumption, brackets)
	var warnings []string
	if leftover.IsPositive() {
		last := brackets[len(brackets)-1]
		amount := leftover.Mul(last.UnitPrice)
		usage[len(usage)-1].Usage = usage[len(usage)-1].Usage.Add(leftover)
		usage[len(usage)-1].Amount = usage[len(usage)-1].Amount.Add(amount)
		base = base.Add(amount)
		warnings = append(warnings, fmt.Sprintf("water brackets in %s end at %s m3; %s m3 billed at the last bracket", p, last.ToM3, leftover))
	}
	vat := brackets[0].VATPercent
	for _, b := range brackets[1:] {
		if !b.VATPercent.Equal(vat) {
			warnings = append(warnings, fmt.Sprintf("water brackets in %s carry different VAT percents; %s%% of bracket %s applied", p, vat, brackets[0].Key))
			break
		}
	}
	return FeeLine{Base: base, VATPercent: vat, Total: WithVAT(base, vat)}, usage, warnings
}

// splitBrackets walks brackets in ascending order consuming the total.
// It returns one usage row per bracket, the pre-VAT sum, and anything left
// over when the last bracket is closed.
func splitBrackets(consumption decimal.Decimal, brackets []TariffEntry) ([]BracketUsage, decimal.Decimal, decimal.Decimal) {
	remaining := consumption
	base := decimal.Zero
	usage := make([]BracketUsage, 0, len(brackets))
	for _, b := range brackets {
		used := remaining
		if b.ToM3 != nil {
			used = decimal.Min(remaining, b.ToM3.Sub(b.FromM3))
		}
		amount := used.Mul(b.UnitPrice)
		usage = append(usage, BracketUsage{Key: b.Key, From: b.FromM3, To: b.ToM3, Usage: used, Price: b.UnitPrice, Amount: amount})
		base = base.Add(amount)
		remaining = remaining.Sub(used)
	}
	return usage, base, remaining
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func sumAdjustments(unitID UnitID, p Period, adjustments []Adjustment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range adjustments {
		if a.UnitID != "" && a.UnitID != unitID {
			continue
		}
		if !a.Period.IsZero() && a.Period != p {
			continue
		}
		total = total.Add(a.Amount)
	}
	return total
}

func zeroLine() FeeLine {
	return FeeLine{Base: decimal.Zero, VATPercent: decimal.Zero, Total: decimal.Zero}
}
