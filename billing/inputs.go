package billing

import "sort"

// Roster is the raw entity collections of a building, as loaded from storage.
type Roster struct {
	Units       []Unit
	Owners      []Owner
	Vehicles    []Vehicle
	Adjustments []Adjustment
	Readings    []WaterReading
}

// BuildInputs groups the roster into one ChargeInput per unit for the period,
// ordered by unit ID. Inactive vehicles and other periods' adjustments and
// readings are dropped here so the engine sees only what it bills.
func BuildInputs(period Period, r Roster) []ChargeInput {
	owners := make(map[UnitID]Owner, len(r.Owners))
	for _, o := range r.Owners {
		owners[o.UnitID] = o
	}
	vehicles := make(map[UnitID][]Vehicle)
	for _, v := range r.Vehicles {
		if v.Active {
			vehicles[v.UnitID] = append(vehicles[v.UnitID], v)
		}
	}
	adjustments := make(map[UnitID][]Adjustment)
	for _, a := range r.Adjustments {
		if a.Period == period {
			adjustments[a.UnitID] = append(adjustments[a.UnitID], a)
		}
	}
	readings := make(map[UnitID]WaterReading)
	for _, w := range r.Readings {
		if w.Period == period {
			readings[w.UnitID] = w
		}
	}

	units := append([]Unit(nil), r.Units...)
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	inputs := make([]ChargeInput, 0, len(units))
	for _, u := range units {
		in := ChargeInput{
			Period:      period,
			Unit:        u,
			Vehicles:    vehicles[u.ID],
			Adjustments: adjustments[u.ID],
		}
		if o, ok := owners[u.ID]; ok {
			in.Owner = &o
		}
		if w, ok := readings[u.ID]; ok {
			in.Water = &w
		}
		inputs = append(inputs, in)
	}
	return inputs
}
