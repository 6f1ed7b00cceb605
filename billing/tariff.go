package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TARIFF TABLES - Versioned price schedules
// =============================================================================

type TariffKind string

const (
	KindService TariffKind = "service"
	KindParking TariffKind = "parking"
	KindWater   TariffKind = "water"
)

func (k TariffKind) Valid() bool {
	switch k {
	case KindService, KindParking, KindWater:
		return true
	}
	return false
}

// Parking tariff keys. Motorbikes and e-bikes share the stepped quota keys.
const (
	ParkingCar         = "car"
	ParkingCarPremium  = "car_premium"
	ParkingMotorbike12 = "motorbike_1_2"
	ParkingMotorbike34 = "motorbike_3_4"
	ParkingBicycle     = "bicycle"
)

// MotorbikeQuota is how many motorbikes per unit are billed at the tier 1-2 price.
const MotorbikeQuota = 2

// TariffEntry is one price line. For water entries FromM3/ToM3 bound the
// bracket; ToM3 nil means open-ended.
type TariffEntry struct {
	ID            string
	Kind          TariffKind
	Key           string
	UnitPrice     decimal.Decimal
	VATPercent    decimal.Decimal
	FromM3        decimal.Decimal
	ToM3          *decimal.Decimal
	EffectiveFrom time.Time
	ExpiresAt     *time.Time
}

// ActiveFor reports whether the entry applies to the period: it has started
// by the end of the month and has no expiry or expires on/after the first day.
func (e TariffEntry) ActiveFor(p Period) bool {
	if !e.EffectiveFrom.IsZero() && e.EffectiveFrom.After(p.End()) {
		return false
	}
	return e.ExpiresAt == nil || !e.ExpiresAt.Before(p.Start())
}

// Current reports an entry with no expiry.
func (e TariffEntry) Current() bool { return e.ExpiresAt == nil }

// TariffSet holds every version of every tariff entry.
type TariffSet struct {
	Entries []TariffEntry
}

// inForceFirst orders candidates so the version in force at the start of
// the period comes first.
func inForceFirst(entries []TariffEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
			return a.EffectiveFrom.Before(b.EffectiveFrom)
		}
		switch {
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		default:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	})
}

// Lookup returns the entry for kind+key active in the period.
func (s TariffSet) Lookup(kind TariffKind, key string, p Period) (TariffEntry, bool) {
	var candidates []TariffEntry
	for _, e := range s.Entries {
		if e.Kind == kind && e.Key == key && e.ActiveFor(p) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return TariffEntry{}, false
	}
	inForceFirst(candidates)
	return candidates[0], true
}

// Table returns one active entry per key of the given kind, in table order.
func (s TariffSet) Table(kind TariffKind, p Period) []TariffEntry {
	seen := make(map[string]bool)
	var out []TariffEntry
	for _, e := range s.Entries {
		if e.Kind != kind || seen[e.Key] || !e.ActiveFor(p) {
			continue
		}
		seen[e.Key] = true
		if chosen, ok := s.Lookup(kind, e.Key, p); ok {
			out = append(out, chosen)
		}
	}
	return out
}

// WaterBrackets returns the active water brackets ordered by lower bound.
func (s TariffSet) WaterBrackets(p Period) []TariffEntry {
	brackets := s.Table(KindWater, p)
	sort.SliceStable(brackets, func(i, j int) bool {
		return brackets[i].FromM3.LessThan(brackets[j].FromM3)
	})
	return brackets
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the table invariants: at most one current entry per key,
// one VAT percent per parking table and per water table, and water brackets
// contiguous from 0 with an open last bracket. The tables are checked as
// they stand today and as they stood in every month a water or parking
// version took effect, so brackets republished on different dates cannot
// leave a month with mixed bounds.
func (s TariffSet) Validate() error {
	current := make(map[string]string)
	var water, parking []TariffEntry
	for _, e := range s.Entries {
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: entry %s has unknown kind %q", ErrInvalidTariff, e.ID, e.Kind)
		}
		if e.UnitPrice.IsNegative() || e.VATPercent.IsNegative() {
			return fmt.Errorf("%w: entry %s has a negative price or VAT", ErrInvalidTariff, e.ID)
		}
		if !e.Current() {
			continue
		}
		k := string(e.Kind) + "/" + e.Key
		if other, dup := current[k]; dup {
			return fmt.Errorf("%w: %s has two current entries (%s, %s)", ErrInvalidTariff, k, other, e.ID)
		}
		current[k] = e.ID
		switch e.Kind {
		case KindWater:
			water = append(water, e)
		case KindParking:
			parking = append(parking, e)
		}
	}

	if err := uniformVAT(KindParking, parking); err != nil {
		return err
	}
	if len(water) > 0 {
		sort.SliceStable(water, func(i, j int) bool { return water[i].FromM3.LessThan(water[j].FromM3) })
		if err := ValidateBrackets(water); err != nil {
			return err
		}
		if err := uniformVAT(KindWater, water); err != nil {
			return err
		}
	}

	for _, p := range s.versionPeriods() {
		if err := uniformVAT(KindParking, s.Table(KindParking, p)); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		brackets := s.WaterBrackets(p)
		if len(brackets) == 0 {
			continue
		}
		if err := ValidateBrackets(brackets); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := uniformVAT(KindWater, brackets); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// versionPeriods lists the months in which a parking or water version takes
// effect, plus the month after (a mid-month version applies from then).
func (s TariffSet) versionPeriods() []Period {
	seen := make(map[Period]bool)
	var out []Period
	add := func(p Period) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, e := range s.Entries {
		if (e.Kind != KindWater && e.Kind != KindParking) || e.EffectiveFrom.IsZero() {
			continue
		}
		p := PeriodOf(e.EffectiveFrom)
		add(p)
		add(p.Next())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// uniformVAT rejects a table whose entries carry different VAT percents.
// The engine applies one percent to the whole parking or water fee.
func uniformVAT(kind TariffKind, table []TariffEntry) error {
	if len(table) == 0 {
		return nil
	}
	first := table[0]
	for _, e := range table[1:] {
		if !e.VATPercent.Equal(first.VATPercent) {
			return fmt.Errorf("%w: %s %s has VAT %s%% but %s has %s%%",
				ErrInvalidTariff, kind, e.Key, e.VATPercent, first.Key, first.VATPercent)
		}
	}
	return nil
}

// ValidateBrackets checks that sorted brackets cover [0, inf) with no gap or overlap.
func ValidateBrackets(brackets []TariffEntry) error {
	if len(brackets) == 0 {
		return fmt.Errorf("%w: no water brackets", ErrInvalidTariff)
	}
	if !brackets[0].FromM3.IsZero() {
		return fmt.Errorf("%w: first water bracket starts at %s, not 0", ErrInvalidTariff, brackets[0].FromM3)
	}
	for i, b := range brackets {
		last := i == len(brackets)-1
		if b.ToM3 == nil {
			if !last {
				return fmt.Errorf("%w: bracket %s is open-ended but not last", ErrInvalidTariff, b.Key)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: last bracket %s must be open-ended", ErrInvalidTariff, b.Key)
		}
		if !b.ToM3.GreaterThan(b.FromM3) {
			return fmt.Errorf("%w: bracket %s upper bound %s not above lower bound %s", ErrInvalidTariff, b.Key, b.ToM3, b.FromM3)
		}
		if next := brackets[i+1]; !next.FromM3.Equal(*b.ToM3) {
			return fmt.Errorf("%w: bracket %s ends at %s but %s starts at %s", ErrInvalidTariff, b.Key, b.ToM3, next.Key, next.FromM3)
		}
	}
	return nil
}

// =============================================================================
// VERSIONING
// =============================================================================

// Supersede publishes next as the current entry for its kind+key. The
// previously current entry, if any, is expired on the day before next takes
// effect and returned so the caller can persist both atomically.
func Supersede(existing []TariffEntry, next TariffEntry) (*TariffEntry, error) {
	if next.EffectiveFrom.IsZero() {
		return nil, fmt.Errorf("%w: new entry for %s/%s needs an effective date", ErrInvalidTariff, next.Kind, next.Key)
	}
	if next.ExpiresAt != nil {
		return nil, fmt.Errorf("%w: new entry for %s/%s must not carry an expiry", ErrInvalidTariff, next.Kind, next.Key)
	}
	for _, e := range existing {
		if e.Kind != next.Kind || e.Key != next.Key || !e.Current() {
			continue
		}
		if !next.EffectiveFrom.After(e.EffectiveFrom) {
			return nil, fmt.Errorf("%w: %s/%s effective %s does not follow current version %s",
				ErrInvalidTariff, next.Kind, next.Key, next.EffectiveFrom.Format("2006-01-02"), e.EffectiveFrom.Format("2006-01-02"))
		}
		expired := e
		until := next.EffectiveFrom.AddDate(0, 0, -1)
		expired.ExpiresAt = &until
		return &expired, nil
	}
	return nil, nil
}
