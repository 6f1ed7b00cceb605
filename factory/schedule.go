/*
Package factory provides JSON/YAML to Go tariff schedule conversion.

PURPOSE:
  Converts tariff schedule documents into billing.TariffSet values. The
  building's accountant maintains prices in a file or the admin UI; the
  factory turns them into validated tariff entries without code changes.

SCHEDULE SCHEMA (JSON shown, YAML uses the same keys):
  {
    "name": "Hanoi residential 2025",
    "effective_from": "2025-01-01",
    "service": [
      {"key": "owner_occupied", "price": "16500", "vat_percent": "10"}
    ],
    "parking": [
      {"key": "car", "price": "1200000", "vat_percent": "8"},
      {"key": "motorbike_1_2", "price": "120000", "vat_percent": "8"}
    ],
    "water": {
      "vat_percent": "5",
      "brackets": [
        {"key": "w1", "from_m3": "0", "to_m3": "10", "price": "5973"},
        {"key": "w4", "from_m3": "30", "price": "15929"}
      ]
    }
  }

  Prices may be JSON numbers or strings. A line may override the schedule's
  effective_from. Water VAT is one percent for the whole table.

KEY FEATURES:
  - Validates keys against the known occupancy statuses and parking tiers
  - Validates the resulting table (TariffSet.Validate)
  - Deterministic entry IDs: kind-key-effective date

USAGE:
  f := factory.NewScheduleFactory()
  set, err := f.ParseJSON(factory.HanoiResidentialJSON("2025-01-01"))

SEE ALSO:
  - billing/tariff.go: TariffSet and lookup rules
  - presets.go: Ready-made schedules
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/estate-billing/billing"
)

const dateLayout = "2006-01-02"

// =============================================================================
// SCHEDULE SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the document form of a tariff schedule.
type ScheduleJSON struct {
	Name          string     `json:"name,omitempty" yaml:"name,omitempty"`
	EffectiveFrom string     `json:"effective_from" yaml:"effective_from"`
	Service       []LineJSON `json:"service,omitempty" yaml:"service,omitempty"`
	Parking       []LineJSON `json:"parking,omitempty" yaml:"parking,omitempty"`
	Water         *WaterJSON `json:"water,omitempty" yaml:"water,omitempty"`
}

// LineJSON is one keyed price line.
type LineJSON struct {
	Key           string          `json:"key" yaml:"key"`
	Price         decimal.Decimal `json:"price" yaml:"price"`
	VATPercent    decimal.Decimal `json:"vat_percent" yaml:"vat_percent"`
	EffectiveFrom string          `json:"effective_from,omitempty" yaml:"effective_from,omitempty"`
}

// WaterJSON is the progressive water table.
type WaterJSON struct {
	VATPercent decimal.Decimal `json:"vat_percent" yaml:"vat_percent"`
	Brackets   []BracketJSON   `json:"brackets" yaml:"brackets"`
}

// BracketJSON is one water consumption bracket. ToM3 nil means open-ended.
type BracketJSON struct {
	Key    string           `json:"key" yaml:"key"`
	FromM3 decimal.Decimal  `json:"from_m3" yaml:"from_m3"`
	ToM3   *decimal.Decimal `json:"to_m3,omitempty" yaml:"to_m3,omitempty"`
	Price  decimal.Decimal  `json:"price" yaml:"price"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts schedule documents to tariff sets.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseJSON parses a JSON schedule.
func (f *ScheduleFactory) ParseJSON(jsonStr string) (billing.TariffSet, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return billing.TariffSet{}, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromSchedule(sj)
}

// ParseYAML parses a YAML schedule.
func (f *ScheduleFactory) ParseYAML(data []byte) (billing.TariffSet, error) {
	var sj ScheduleJSON
	if err := yaml.Unmarshal(data, &sj); err != nil {
		return billing.TariffSet{}, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}
	return f.FromSchedule(sj)
}

// FromSchedule converts a schedule document to a validated TariffSet.
func (f *ScheduleFactory) FromSchedule(sj ScheduleJSON) (billing.TariffSet, error) {
	from, err := parseDate(sj.EffectiveFrom)
	if err != nil {
		return billing.TariffSet{}, err
	}

	var set billing.TariffSet
	for _, l := range sj.Service {
		if !billing.OccupancyStatus(l.Key).Valid() {
			return billing.TariffSet{}, fmt.Errorf("%w: unknown service category %q", billing.ErrInvalidTariff, l.Key)
		}
		e, err := lineEntry(billing.KindService, l, from)
		if err != nil {
			return billing.TariffSet{}, err
		}
		set.Entries = append(set.Entries, e)
	}
	for _, l := range sj.Parking {
		if !validParkingKey(l.Key) {
			return billing.TariffSet{}, fmt.Errorf("%w: unknown parking tier %q", billing.ErrInvalidTariff, l.Key)
		}
		e, err := lineEntry(billing.KindParking, l, from)
		if err != nil {
			return billing.TariffSet{}, err
		}
		set.Entries = append(set.Entries, e)
	}
	if sj.Water != nil {
		for _, b := range sj.Water.Brackets {
			set.Entries = append(set.Entries, billing.TariffEntry{
				ID:            entryID(billing.KindWater, b.Key, from),
				Kind:          billing.KindWater,
				Key:           b.Key,
				UnitPrice:     b.Price,
				VATPercent:    sj.Water.VATPercent,
				FromM3:        b.FromM3,
				ToM3:          b.ToM3,
				EffectiveFrom: from,
			})
		}
	}

	if err := set.Validate(); err != nil {
		return billing.TariffSet{}, err
	}
	return set, nil
}

// ToSchedule renders the table active in period p as a schedule document.
// Lines whose effective date differs from the earliest one carry their own.
func (f *ScheduleFactory) ToSchedule(set billing.TariffSet, p billing.Period) ScheduleJSON {
	var sj ScheduleJSON
	var earliest time.Time
	for _, kind := range []billing.TariffKind{billing.KindService, billing.KindParking, billing.KindWater} {
		for _, e := range set.Table(kind, p) {
			if earliest.IsZero() || e.EffectiveFrom.Before(earliest) {
				earliest = e.EffectiveFrom
			}
		}
	}
	if earliest.IsZero() {
		return sj
	}
	sj.EffectiveFrom = earliest.Format(dateLayout)

	line := func(e billing.TariffEntry) LineJSON {
		l := LineJSON{Key: e.Key, Price: e.UnitPrice, VATPercent: e.VATPercent}
		if !e.EffectiveFrom.Equal(earliest) {
			l.EffectiveFrom = e.EffectiveFrom.Format(dateLayout)
		}
		return l
	}
	for _, e := range set.Table(billing.KindService, p) {
		sj.Service = append(sj.Service, line(e))
	}
	for _, e := range set.Table(billing.KindParking, p) {
		sj.Parking = append(sj.Parking, line(e))
	}
	if brackets := set.WaterBrackets(p); len(brackets) > 0 {
		sj.Water = &WaterJSON{VATPercent: brackets[0].VATPercent}
		for _, b := range brackets {
			sj.Water.Brackets = append(sj.Water.Brackets, BracketJSON{Key: b.Key, FromM3: b.FromM3, ToM3: b.ToM3, Price: b.UnitPrice})
		}
	}
	sort.SliceStable(sj.Service, func(i, j int) bool { return sj.Service[i].Key < sj.Service[j].Key })
	return sj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func lineEntry(kind billing.TariffKind, l LineJSON, from time.Time) (billing.TariffEntry, error) {
	if l.EffectiveFrom != "" {
		own, err := parseDate(l.EffectiveFrom)
		if err != nil {
			return billing.TariffEntry{}, err
		}
		from = own
	}
	return billing.TariffEntry{
		ID:            entryID(kind, l.Key, from),
		Kind:          kind,
		Key:           l.Key,
		UnitPrice:     l.Price,
		VATPercent:    l.VATPercent,
		EffectiveFrom: from,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: effective_from is required", billing.ErrInvalidTariff)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid effective_from %q", billing.ErrInvalidTariff, s)
	}
	return t, nil
}

func entryID(kind billing.TariffKind, key string, from time.Time) string {
	return fmt.Sprintf("%s-%s-%s", kind, key, from.Format(dateLayout))
}

func validParkingKey(key string) bool {
	switch key {
	case billing.ParkingCar, billing.ParkingCarPremium, billing.ParkingMotorbike12,
		billing.ParkingMotorbike34, billing.ParkingBicycle:
		return true
	}
	return false
}
