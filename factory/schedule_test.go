package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/warp/estate-billing/billing"
)

var march = billing.MustParsePeriod("2025-03")

func TestParseJSON_HanoiPreset(t *testing.T) {
	// GIVEN: The Hanoi residential preset
	// WHEN: Parsing it
	// THEN: Every table is populated, valid, and effective from the given date

	f := NewScheduleFactory()
	set, err := f.ParseJSON(HanoiResidentialJSON("2025-01-01"))
	require.NoError(t, err)

	assert.Len(t, set.Table(billing.KindService, march), 3)
	assert.Len(t, set.Table(billing.KindParking, march), 5)
	brackets := set.WaterBrackets(march)
	require.Len(t, brackets, 4)
	assert.Nil(t, brackets[3].ToM3)
	assert.True(t, brackets[1].UnitPrice.Equal(decimal.NewFromInt(7052)))
	assert.True(t, brackets[2].VATPercent.Equal(decimal.NewFromInt(5)))

	car, ok := set.Lookup(billing.KindParking, billing.ParkingCar, march)
	require.True(t, ok)
	assert.Equal(t, "parking-car-2025-01-01", car.ID)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), car.EffectiveFrom)

	_, ok = set.Lookup(billing.KindParking, billing.ParkingCar, billing.MustParsePeriod("2024-12"))
	assert.False(t, ok, "not effective before January")
}

func TestParseYAML_MatchesJSON(t *testing.T) {
	f := NewScheduleFactory()
	fromJSON, err := f.ParseJSON(HanoiResidentialJSON("2025-01-01"))
	require.NoError(t, err)
	fromYAML, err := f.ParseYAML([]byte(HanoiResidentialYAML("2025-01-01")))
	require.NoError(t, err)

	require.Len(t, fromYAML.Entries, len(fromJSON.Entries))
	for i := range fromJSON.Entries {
		a, b := fromJSON.Entries[i], fromYAML.Entries[i]
		assert.Equal(t, a.ID, b.ID)
		assert.True(t, a.UnitPrice.Equal(b.UnitPrice), a.ID)
		assert.True(t, a.VATPercent.Equal(b.VATPercent), a.ID)
		assert.True(t, a.FromM3.Equal(b.FromM3), a.ID)
		assert.Equal(t, a.ToM3 == nil, b.ToM3 == nil, a.ID)
	}
}

func TestFromSchedule_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing date", `{"service": [{"key": "rented", "price": 1, "vat_percent": 10}]}`},
		{"bad date", `{"effective_from": "01/01/2025"}`},
		{"unknown service category", `{"effective_from": "2025-01-01", "service": [{"key": "vacant", "price": 1, "vat_percent": 10}]}`},
		{"unknown parking tier", `{"effective_from": "2025-01-01", "parking": [{"key": "truck", "price": 1, "vat_percent": 8}]}`},
		{"duplicate key", `{"effective_from": "2025-01-01", "parking": [
			{"key": "car", "price": 1, "vat_percent": 8},
			{"key": "car", "price": 2, "vat_percent": 8}]}`},
		{"bracket gap", `{"effective_from": "2025-01-01", "water": {"vat_percent": 5, "brackets": [
			{"key": "w1", "from_m3": 0, "to_m3": 10, "price": 1},
			{"key": "w2", "from_m3": 11, "price": 2}]}}`},
		{"parking VAT differs between tiers", `{"effective_from": "2025-01-01", "parking": [
			{"key": "car", "price": 1200000, "vat_percent": 8},
			{"key": "bicycle", "price": 30000, "vat_percent": 10}]}`},
	}
	f := NewScheduleFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseJSON(tt.doc)
			assert.ErrorIs(t, err, billing.ErrInvalidTariff)
		})
	}

	_, err := f.ParseJSON(`{not json`)
	assert.Error(t, err)
}

func TestFromSchedule_LineEffectiveDateOverride(t *testing.T) {
	doc := `{
		"effective_from": "2025-01-01",
		"parking": [
			{"key": "car", "price": 1200000, "vat_percent": 8},
			{"key": "bicycle", "price": "30000", "vat_percent": "8", "effective_from": "2025-02-01"}
		],
		"water": {"vat_percent": 5, "brackets": [
			{"key": "w1", "from_m3": 0, "to_m3": 10, "price": 5973},
			{"key": "w2", "from_m3": 10, "price": 7052}]}
	}`
	set, err := NewScheduleFactory().ParseJSON(doc)
	require.NoError(t, err)

	bike, ok := set.Lookup(billing.KindParking, billing.ParkingBicycle, march)
	require.True(t, ok)
	assert.Equal(t, time.February, bike.EffectiveFrom.Month())

	car, ok := set.Lookup(billing.KindParking, billing.ParkingCar, march)
	require.True(t, ok)
	assert.Equal(t, time.January, car.EffectiveFrom.Month())

	for _, b := range set.WaterBrackets(march) {
		assert.True(t, b.VATPercent.Equal(decimal.NewFromInt(5)), b.Key)
	}
}

func TestToSchedule_RoundTrip(t *testing.T) {
	// GIVEN: A parsed preset
	// WHEN: Rendering it back to a document and parsing again
	// THEN: The same table comes out

	f := NewScheduleFactory()
	set, err := f.ParseJSON(HanoiResidentialJSON("2025-01-01"))
	require.NoError(t, err)

	doc := f.ToSchedule(set, march)
	assert.Equal(t, "2025-01-01", doc.EffectiveFrom)
	b, err := json.Marshal(doc)
	require.NoError(t, err)

	again, err := f.ParseJSON(string(b))
	require.NoError(t, err)
	assert.Len(t, again.Entries, len(set.Entries))

	y, err := yaml.Marshal(doc)
	require.NoError(t, err)
	fromYAML, err := f.ParseYAML(y)
	require.NoError(t, err)
	assert.Len(t, fromYAML.Entries, len(set.Entries))

	assert.Empty(t, f.ToSchedule(billing.TariffSet{}, march).EffectiveFrom)
}

func TestFlatWaterPreset(t *testing.T) {
	set, err := NewScheduleFactory().ParseJSON(FlatWaterJSON("2025-01-01", 10000, 5))
	require.NoError(t, err)
	brackets := set.WaterBrackets(march)
	require.Len(t, brackets, 1)
	assert.Nil(t, brackets[0].ToM3)
}
