package billing_test

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/estate-billing/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	march2025 = billing.MustParsePeriod("2025-03")
	jan2025   = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal {
	x := decimal.NewFromInt(v)
	return &x
}

func entry(kind billing.TariffKind, key string, price, vat int64) billing.TariffEntry {
	return billing.TariffEntry{
		ID:            string(kind) + "-" + key,
		Kind:          kind,
		Key:           key,
		UnitPrice:     d(price),
		VATPercent:    d(vat),
		EffectiveFrom: jan2025,
	}
}

func bracket(key string, from int64, to *decimal.Decimal, price int64) billing.TariffEntry {
	e := entry(billing.KindWater, key, price, 5)
	e.FromM3 = d(from)
	e.ToM3 = to
	return e
}

// standardTariffs is the building's published schedule for 2025.
func standardTariffs() billing.TariffSet {
	return billing.TariffSet{Entries: []billing.TariffEntry{
		entry(billing.KindService, string(billing.OccupancyOwner), 16500, 10),
		entry(billing.KindService, string(billing.OccupancyRented), 16500, 10),
		entry(billing.KindService, string(billing.OccupancyBusiness), 25000, 10),
		entry(billing.KindParking, billing.ParkingCar, 1200000, 8),
		entry(billing.KindParking, billing.ParkingCarPremium, 1500000, 8),
		entry(billing.KindParking, billing.ParkingMotorbike12, 120000, 8),
		entry(billing.KindParking, billing.ParkingMotorbike34, 150000, 8),
		entry(billing.KindParking, billing.ParkingBicycle, 30000, 8),
		bracket("w1", 0, dp(10), 5973),
		bracket("w2", 10, dp(20), 7052),
		bracket("w3", 20, dp(30), 8669),
		bracket("w4", 30, nil, 15929),
	}}
}

func apartment(id billing.UnitID, area int64, status billing.OccupancyStatus) billing.Unit {
	return billing.Unit{ID: id, Type: billing.UnitApartment, AreaM2: d(area), Status: status}
}

func kiosk(id billing.UnitID, area int64) billing.Unit {
	return billing.Unit{ID: id, Type: billing.UnitKiosk, AreaM2: d(area), Status: billing.OccupancyBusiness}
}

func vehicle(id string, unit billing.UnitID, tier billing.VehicleTier, active bool) billing.Vehicle {
	return billing.Vehicle{ID: billing.VehicleID(id), UnitID: unit, Tier: tier, Active: active, Plate: id}
}

func reading(unit billing.UnitID, p billing.Period, prev, curr int64) *billing.WaterReading {
	return &billing.WaterReading{UnitID: unit, Period: p, Previous: d(prev), Current: d(curr)}
}
