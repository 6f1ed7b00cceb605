/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates tariffs, units, owners,
	vehicles, meter readings and adjustments for the current billing period.

AVAILABLE SCENARIOS:

	hanoi-residential: Three units (apartment, rented apartment, kiosk) on
	                   the Hanoi residential tariff, ready to calculate
	price-increase:    Last month billed and locked; a service fee increase
	                   takes effect this month
	empty-building:    Tariffs only, for roster imports

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Store tariffs via factory presets
 3. Create units, owners and vehicles
 4. Record readings and adjustments for the current period
 5. Optionally calculate and lock earlier periods

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hanoi-residential"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler struct
  - factory/presets.go: Tariff schedules
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hanoi-residential",
		Name:        "Hanoi Residential",
		Description: "Apartment with a car, rented apartment with two motorbikes, kiosk with a bicycle",
	},
	{
		ID:          "price-increase",
		Name:        "Service Fee Increase",
		Description: "Last month billed and locked; the service fee rises from this month",
	},
	{
		ID:          "empty-building",
		Name:        "Empty Building",
		Description: "Hanoi residential tariffs with no units, ready for a roster import",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID resets the database and loads scenario id. Used by the
// API and by the -demo startup flag.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "hanoi-residential":
		load = h.loadHanoiResidentialScenario
	case "price-increase":
		load = h.loadPriceIncreaseScenario
	case "empty-building":
		load = h.loadEmptyBuildingScenario
	default:
		return errUnknownScenario
	}

	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Tariffs.Invalidate()
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmptyBuildingScenario(ctx context.Context) error {
	period := h.currentPeriod()
	return h.storeHanoiTariffs(ctx, fmt.Sprintf("%d-01-01", period.Year))
}

// loadHanoiResidentialScenario bills unit 0903 at 2,729,203 VND: 75 m2 of
// service, one car, 18 m3 of water and a 50,000 credit.
func (h *Handler) loadHanoiResidentialScenario(ctx context.Context) error {
	period := h.currentPeriod()
	if err := h.storeHanoiTariffs(ctx, fmt.Sprintf("%d-01-01", period.Year)); err != nil {
		return err
	}
	if err := h.storeDemoBuilding(ctx); err != nil {
		return err
	}
	return h.storeDemoPeriod(ctx, period, map[billing.UnitID][2]int64{
		"0903": {120, 138},
		"1205": {340, 352},
		"K01":  {50, 61},
	})
}

func (h *Handler) loadPriceIncreaseScenario(ctx context.Context) error {
	period := h.currentPeriod()
	previous := period.Previous()
	if err := h.storeHanoiTariffs(ctx, fmt.Sprintf("%d-01-01", previous.Year)); err != nil {
		return err
	}
	if err := h.storeDemoBuilding(ctx); err != nil {
		return err
	}

	// Last month: billed under the old prices, then locked.
	if err := h.storeDemoPeriod(ctx, previous, map[billing.UnitID][2]int64{
		"0903": {102, 120},
		"1205": {325, 340},
		"K01":  {42, 50},
	}); err != nil {
		return err
	}
	roster, err := h.Store.Roster(ctx, previous)
	if err != nil {
		return err
	}
	tariffs, err := h.Tariffs.ForPeriod(ctx, previous)
	if err != nil {
		return err
	}
	if _, err := h.Controller.CalculatePeriod(ctx, previous, billing.BuildInputs(previous, roster), tariffs); err != nil {
		return err
	}
	if _, err := h.Controller.LockPeriod(ctx, previous, "demo"); err != nil {
		return err
	}

	increase, err := h.Schedules.ParseJSON(fmt.Sprintf(`{
		"name": "Service fee increase",
		"effective_from": %q,
		"service": [
			{"key": "owner_occupied", "price": 18000, "vat_percent": 10},
			{"key": "rented", "price": 18000, "vat_percent": 10}
		]
	}`, period.Start().Format("2006-01-02")))
	if err != nil {
		return err
	}
	if _, err := h.Store.PublishTariffs(ctx, increase.Entries); err != nil {
		return err
	}
	h.Tariffs.Invalidate()

	return h.storeDemoPeriod(ctx, period, map[billing.UnitID][2]int64{
		"0903": {120, 138},
		"1205": {340, 352},
		"K01":  {50, 61},
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) storeHanoiTariffs(ctx context.Context, effectiveFrom string) error {
	set, err := h.Schedules.ParseJSON(factory.HanoiResidentialJSON(effectiveFrom))
	if err != nil {
		return err
	}
	if err := h.Store.ReplaceTariffs(ctx, set); err != nil {
		return err
	}
	h.Tariffs.Invalidate()
	return nil
}

type demoUnit struct {
	unit     billing.Unit
	owner    billing.Owner
	vehicles []billing.Vehicle
}

func (h *Handler) storeDemoBuilding(ctx context.Context) error {
	now := h.clock.Now().UTC()
	units := []demoUnit{
		{
			unit:  billing.Unit{ID: "0903", Type: billing.UnitApartment, AreaM2: decimal.NewFromInt(75), Status: billing.OccupancyOwner},
			owner: billing.Owner{ID: "owner-0903", UnitID: "0903", Name: "Nguyễn Văn An", Phone: "0912345678", Email: "an.nguyen@example.vn"},
			vehicles: []billing.Vehicle{
				{ID: "veh-0903-1", UnitID: "0903", Tier: billing.TierCar, Plate: "30A-123.45", Active: true, RegisteredAt: now},
			},
		},
		{
			unit:  billing.Unit{ID: "1205", Type: billing.UnitApartment, AreaM2: decimal.RequireFromString("68.5"), Status: billing.OccupancyRented},
			owner: billing.Owner{ID: "owner-1205", UnitID: "1205", Name: "Trần Thị Bình", Phone: "0987654321"},
			vehicles: []billing.Vehicle{
				{ID: "veh-1205-1", UnitID: "1205", Tier: billing.TierMotorbike, Plate: "29B1-456.78", Active: true, RegisteredAt: now},
				{ID: "veh-1205-2", UnitID: "1205", Tier: billing.TierEBike, Active: true, RegisteredAt: now},
			},
		},
		{
			unit:  billing.Unit{ID: "K01", Type: billing.UnitKiosk, AreaM2: decimal.NewFromInt(20), Status: billing.OccupancyBusiness},
			owner: billing.Owner{ID: "owner-K01", UnitID: "K01", Name: "Lê Văn Cường"},
			vehicles: []billing.Vehicle{
				{ID: "veh-K01-1", UnitID: "K01", Tier: billing.TierBicycle, Active: true, RegisteredAt: now},
			},
		},
	}

	for _, d := range units {
		if err := h.Store.SaveUnit(ctx, d.unit); err != nil {
			return err
		}
		if err := h.Store.SaveOwner(ctx, d.owner); err != nil {
			return err
		}
		for _, v := range d.vehicles {
			if err := h.Store.SaveVehicle(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// storeDemoPeriod records one reading per unit and the 0903 credit.
func (h *Handler) storeDemoPeriod(ctx context.Context, period billing.Period, indexes map[billing.UnitID][2]int64) error {
	for unitID, idx := range indexes {
		if err := h.Store.SaveReading(ctx, billing.WaterReading{
			UnitID:   unitID,
			Period:   period,
			Previous: decimal.NewFromInt(idx[0]),
			Current:  decimal.NewFromInt(idx[1]),
		}); err != nil {
			return err
		}
	}
	return h.Store.SaveAdjustment(ctx, billing.Adjustment{
		ID:        billing.AdjustmentID(fmt.Sprintf("adj-0903-%s", period)),
		UnitID:    "0903",
		Period:    period,
		Amount:    decimal.NewFromInt(-50000),
		Reason:    "Refund for replaced elevator card",
		CreatedAt: h.clock.Now().UTC(),
	})
}
