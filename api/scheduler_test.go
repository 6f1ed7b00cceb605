package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/store/sqlite"
)

func TestPeriodCloser_LocksPreviousPeriodAfterGrace(t *testing.T) {
	// GIVEN: March 2025 calculated, grace of 5 days
	// WHEN: Checking on April 3rd, then on April 6th
	// THEN: Nothing happens first; March is locked the second time
	h, router := demoHandler(t)
	calculate(t, router, "2025-03")
	ctx := context.Background()

	closer := NewPeriodCloser(h, 5)

	h.clock = billing.FixedClock{T: time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)}
	locked, err := closer.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, locked.IsZero())

	h.clock = billing.FixedClock{T: time.Date(2025, 4, 6, 8, 0, 0, 0, time.UTC)}
	locked, err = closer.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, billing.MustParsePeriod("2025-03"), locked)

	state, err := h.Controller.PeriodState(ctx, locked)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, "scheduler", state.LockedBy)

	entries, err := h.Store.ListActivity(ctx, sqlite.ActivityFilter{Period: locked})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, billing.ActivityPeriodLocked, entries[0].Action)
	assert.Equal(t, "scheduler", entries[0].Actor)

	// Already locked: no-op
	locked, err = closer.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, locked.IsZero())
}

func TestPeriodCloser_SkipsUnbilledAndDisabled(t *testing.T) {
	h, _ := demoHandler(t)
	h.clock = billing.FixedClock{T: time.Date(2025, 4, 20, 8, 0, 0, 0, time.UTC)}

	locked, err := NewPeriodCloser(h, 5).RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, locked.IsZero(), "march has no charges")

	locked, err = NewPeriodCloser(h, 0).RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, locked.IsZero())
}

func TestPeriodCloser_UsesBuildingTimeZone(t *testing.T) {
	// GIVEN: A Hanoi building (UTC+7) with March billed and a 1-day grace
	// WHEN: Checking at 2 April 00:30 local time, still 1 April in UTC
	// THEN: The grace has passed on the building calendar and March is locked
	ict := time.FixedZone("ICT", 7*3600)
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h, err := NewHandler(store, Options{Clock: billing.FixedClock{T: testNow}, Location: ict})
	require.NoError(t, err)
	router := NewRouter(h)
	require.NoError(t, h.LoadScenarioByID(context.Background(), "hanoi-residential"))
	calculate(t, router, "2025-03")

	h.clock = billing.FixedClock{T: time.Date(2025, 4, 1, 17, 30, 0, 0, time.UTC)}
	assert.Equal(t, billing.MustParsePeriod("2025-04"), h.currentPeriod())

	locked, err := NewPeriodCloser(h, 1).RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.MustParsePeriod("2025-03"), locked)

	rec := do(t, router, http.MethodGet, "/api/tariffs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-04", decode[TariffsResponse](t, rec).Period)
}
