package factory

import "fmt"

// =============================================================================
// PRESET SCHEDULES
// =============================================================================

// HanoiResidentialJSON returns the building's standard schedule: Hanoi
// residential water brackets, service fee by occupancy and parking by tier.
func HanoiResidentialJSON(effectiveFrom string) string {
	return fmt.Sprintf(`{
		"name": "Hanoi residential",
		"effective_from": %q,
		"service": [
			{"key": "owner_occupied", "price": 16500, "vat_percent": 10},
			{"key": "rented", "price": 16500, "vat_percent": 10},
			{"key": "business", "price": 25000, "vat_percent": 10}
		],
		"parking": [
			{"key": "car", "price": 1200000, "vat_percent": 8},
			{"key": "car_premium", "price": 1500000, "vat_percent": 8},
			{"key": "motorbike_1_2", "price": 120000, "vat_percent": 8},
			{"key": "motorbike_3_4", "price": 150000, "vat_percent": 8},
			{"key": "bicycle", "price": 30000, "vat_percent": 8}
		],
		"water": {
			"vat_percent": 5,
			"brackets": [
				{"key": "w1", "from_m3": 0, "to_m3": 10, "price": 5973},
				{"key": "w2", "from_m3": 10, "to_m3": 20, "price": 7052},
				{"key": "w3", "from_m3": 20, "to_m3": 30, "price": 8669},
				{"key": "w4", "from_m3": 30, "price": 15929}
			]
		}
	}`, effectiveFrom)
}

// HanoiResidentialYAML is HanoiResidentialJSON as a YAML document, the
// format used for seed files.
func HanoiResidentialYAML(effectiveFrom string) string {
	return fmt.Sprintf(`name: Hanoi residential
effective_from: %q
service:
  - {key: owner_occupied, price: 16500, vat_percent: 10}
  - {key: rented, price: 16500, vat_percent: 10}
  - {key: business, price: 25000, vat_percent: 10}
parking:
  - {key: car, price: 1200000, vat_percent: 8}
  - {key: car_premium, price: 1500000, vat_percent: 8}
  - {key: motorbike_1_2, price: 120000, vat_percent: 8}
  - {key: motorbike_3_4, price: 150000, vat_percent: 8}
  - {key: bicycle, price: 30000, vat_percent: 8}
water:
  vat_percent: 5
  brackets:
    - {key: w1, from_m3: 0, to_m3: 10, price: 5973}
    - {key: w2, from_m3: 10, to_m3: 20, price: 7052}
    - {key: w3, from_m3: 20, to_m3: 30, price: 8669}
    - {key: w4, from_m3: 30, price: 15929}
`, effectiveFrom)
}

// FlatWaterJSON returns a single open-ended water bracket at price, for
// buildings billed at one rate.
func FlatWaterJSON(effectiveFrom string, price, vatPercent int64) string {
	return fmt.Sprintf(`{
		"effective_from": %q,
		"water": {
			"vat_percent": %d,
			"brackets": [{"key": "flat", "from_m3": 0, "price": %d}]
		}
	}`, effectiveFrom, vatPercent, price)
}
