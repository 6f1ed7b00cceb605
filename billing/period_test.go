package billing_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-billing/billing"
)

func TestParsePeriod(t *testing.T) {
	p, err := billing.ParsePeriod("2025-03")
	require.NoError(t, err)
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, time.March, p.Month)
	assert.Equal(t, "2025-03", p.String())

	for _, bad := range []string{"", "2025", "2025-13", "2025-3", "03-2025", "2025/03"} {
		_, err := billing.ParsePeriod(bad)
		assert.ErrorIs(t, err, billing.ErrInvalidPeriod, bad)
	}
}

func TestPeriod_Navigation(t *testing.T) {
	dec := billing.MustParsePeriod("2024-12")
	assert.Equal(t, "2025-01", dec.Next().String())
	assert.Equal(t, "2024-11", dec.Previous().String())
	assert.True(t, dec.Before(march2025))
	assert.True(t, march2025.After(dec))

	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), march2025.Start())
	assert.Equal(t, 31, march2025.End().Day())
	assert.Equal(t, march2025, billing.PeriodOf(march2025.End()))
}

func TestPeriodIn_FollowsBuildingCalendar(t *testing.T) {
	// GIVEN: 2025-03-31 18:30 UTC, already 1 April 01:30 in Hanoi (UTC+7)
	// WHEN: Resolving the period in UTC and in Hanoi time
	// THEN: UTC still says March; the building says April
	ict := time.FixedZone("ICT", 7*3600)
	instant := time.Date(2025, time.March, 31, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, march2025, billing.PeriodOf(instant))
	assert.Equal(t, billing.MustParsePeriod("2025-04"), billing.PeriodIn(instant, ict))
	assert.Equal(t, march2025, billing.PeriodIn(instant, nil))

	start := billing.MustParsePeriod("2025-04").StartIn(ict)
	assert.Equal(t, time.Date(2025, time.March, 31, 17, 0, 0, 0, time.UTC), start.UTC())
}

func TestPeriod_JSON(t *testing.T) {
	type doc struct {
		Period billing.Period `json:"period"`
	}
	b, err := json.Marshal(doc{Period: march2025})
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"2025-03"}`, string(b))

	var got doc
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, march2025, got.Period)

	assert.Error(t, json.Unmarshal([]byte(`{"period":"March"}`), &got))
}
