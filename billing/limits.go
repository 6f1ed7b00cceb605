package billing

import "fmt"

// VehicleLimits are the per-unit registration rules checked at data entry.
// The engine does not enforce them; it bills whatever active vehicles exist.
type VehicleLimits struct {
	// MaxCarsOwnerOccupied caps non-premium cars of owner-occupied units. 0 disables.
	MaxCarsOwnerOccupied int
	// MaxMotorbikes caps motorbikes and e-bikes per unit. 0 disables.
	MaxMotorbikes int
}

// DefaultVehicleLimits mirrors the building rules: one standard car for
// owner-occupied units, four two-wheelers per unit.
var DefaultVehicleLimits = VehicleLimits{MaxCarsOwnerOccupied: 1, MaxMotorbikes: 4}

// LimitViolation describes one rule the unit's active vehicles break.
type LimitViolation struct {
	Rule    string
	Limit   int
	Actual  int
	Message string
}

// CheckVehicleLimits returns the rules broken by the unit's active vehicles
// (including candidate, when non-nil). An empty result means the registration is fine.
func CheckVehicleLimits(u Unit, vehicles []Vehicle, candidate *Vehicle, limits VehicleLimits) []LimitViolation {
	all := vehicles
	if candidate != nil {
		all = append(append([]Vehicle(nil), vehicles...), *candidate)
	}
	cars, twoWheelers := 0, 0
	for _, v := range all {
		if !v.Active || v.UnitID != u.ID {
			continue
		}
		switch v.Tier {
		case TierCar:
			cars++
		case TierMotorbike, TierEBike:
			twoWheelers++
		}
	}

	var out []LimitViolation
	if limits.MaxCarsOwnerOccupied > 0 && u.Status == OccupancyOwner && cars > limits.MaxCarsOwnerOccupied {
		out = append(out, LimitViolation{
			Rule:    "owner_occupied_cars",
			Limit:   limits.MaxCarsOwnerOccupied,
			Actual:  cars,
			Message: fmt.Sprintf("unit %s is owner-occupied and may register at most %d standard car(s)", u.ID, limits.MaxCarsOwnerOccupied),
		})
	}
	if limits.MaxMotorbikes > 0 && twoWheelers > limits.MaxMotorbikes {
		out = append(out, LimitViolation{
			Rule:    "motorbikes",
			Limit:   limits.MaxMotorbikes,
			Actual:  twoWheelers,
			Message: fmt.Sprintf("unit %s may register at most %d motorbikes/e-bikes", u.ID, limits.MaxMotorbikes),
		})
	}
	return out
}
