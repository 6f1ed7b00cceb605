/*
handlers.go - HTTP API handlers for the estate billing back end

PURPOSE:
  Exposes the billing engine and workflow via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the billing
  controller and the SQLite store.

ENDPOINTS:
  Building (handlers.go):
    GET    /api/units                          List units with owners and vehicles
    POST   /api/units                          Create or update a unit (+ owner)
    POST   /api/units/import                   Upload an XLSX roster
    GET    /api/units/{id}                     Unit details
    GET    /api/vehicles                       List vehicles (?unit_id=)
    POST   /api/vehicles                       Register a vehicle (limit check)
    POST   /api/vehicles/{id}/activate         Re-activate a vehicle
    POST   /api/vehicles/{id}/deactivate       Deactivate a vehicle
    GET    /api/periods/{period}/readings      Meter readings
    POST   /api/periods/{period}/readings      Record meter readings
    GET    /api/periods/{period}/adjustments   Adjustments
    POST   /api/periods/{period}/adjustments   Add an adjustment

  Billing (billing_handlers.go):
    GET    /api/periods                        Period lock states
    GET    /api/periods/{period}               One period state
    POST   /api/periods/{period}/calculate     Calculate charges
    GET    /api/periods/{period}/charges       List charges (?status=)
    DELETE /api/periods/{period}/charges       Delete charges of units
    POST   /api/periods/{period}/lock          Lock the period
    POST   /api/periods/{period}/unlock        Unlock (needs confirm)
    POST   /api/periods/{period}/statement     Upload an XLSX bank statement
    GET    /api/periods/{period}/export.xlsx   Period sheet
    GET    /api/charges/{id}                   One charge
    POST   /api/charges/{id}/payment           Confirm a payment
    POST   /api/charges/{id}/undo              Undo a payment
    GET    /api/charges/{id}/invoice.pdf       Resident invoice

  Tariffs and audit (tariff_handlers.go):
    GET    /api/tariffs                        Table in force (?period=)
    GET    /api/tariffs/history                Every stored version
    POST   /api/tariffs                        Publish a schedule (JSON or YAML)
    GET    /api/activity                       Activity log

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Controller: Billing workflow (the only writer of charges)
  - Tariffs: Per-period tariff cache, invalidated on publish
  - Metrics: Prometheus collectors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401/403: Missing token, insufficient role
  - 404: Resource not found
  - 409: Rejected workflow operation (future period, bad transition)
  - 423: Period is locked
  - 428: Unlock without confirmation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Bearer token middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/cache"
	"github.com/warp/estate-billing/export"
	"github.com/warp/estate-billing/factory"
	"github.com/warp/estate-billing/importer"
	"github.com/warp/estate-billing/metrics"
	"github.com/warp/estate-billing/store/sqlite"
)

// maxUploadBytes bounds spreadsheet uploads.
const maxUploadBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Controller *billing.Controller
	Tariffs    *cache.TariffCache
	Schedules  *factory.ScheduleFactory
	Metrics    *metrics.Metrics

	log       *zap.Logger
	clock     billing.Clock
	loc       *time.Location
	building  export.Building
	limits    billing.VehicleLimits
	jwtSecret []byte

	mu              sync.Mutex
	currentScenario string
}

// Options configures NewHandler. Zero values get defaults.
type Options struct {
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Clock     billing.Clock
	Location  *time.Location
	CacheTTL  time.Duration
	Building  export.Building
	Limits    *billing.VehicleLimits
	JWTSecret string
}

// NewHandler wires the controller, tariff cache and metrics around store.
func NewHandler(store *sqlite.Store, opts Options) (*Handler, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = billing.SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Metrics == nil {
		m, err := metrics.New(nil)
		if err != nil {
			return nil, err
		}
		opts.Metrics = m
	}
	limits := billing.DefaultVehicleLimits
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	ctrl, err := billing.NewController(store,
		billing.WithClock(opts.Clock),
		billing.WithLocation(opts.Location),
		billing.WithLogger(opts.Logger.Named("billing")),
		billing.WithMetrics(opts.Metrics),
	)
	if err != nil {
		return nil, err
	}

	tariffs := cache.NewTariffCache(cache.NewTTLCache[billing.Period, billing.TariffSet](), store.TariffSet, opts.CacheTTL)
	tariffs.OnLookup(opts.Metrics.ObserveTariffCache)

	return &Handler{
		Store:      store,
		Controller: ctrl,
		Tariffs:    tariffs,
		Schedules:  factory.NewScheduleFactory(),
		Metrics:    opts.Metrics,
		log:        opts.Logger.Named("api"),
		clock:      opts.Clock,
		loc:        opts.Location,
		building:   opts.Building,
		limits:     limits,
		jwtSecret:  []byte(opts.JWTSecret),
	}, nil
}

// SeedTariffs loads a YAML schedule when the tariff table is empty.
func (h *Handler) SeedTariffs(ctx context.Context, yamlDoc []byte) (bool, error) {
	existing, err := h.Store.TariffSet(ctx)
	if err != nil {
		return false, err
	}
	if len(existing.Entries) > 0 {
		return false, nil
	}
	set, err := h.Schedules.ParseYAML(yamlDoc)
	if err != nil {
		return false, err
	}
	if err := h.Store.ReplaceTariffs(ctx, set); err != nil {
		return false, err
	}
	h.Tariffs.Invalidate()
	return true, nil
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns all units with their owner and vehicles.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	units, err := h.Store.ListUnits(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}
	owners, err := h.ownersByUnit(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list owners", err)
		return
	}
	vehicles, err := h.Store.ListVehicles(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return
	}
	byUnit := make(map[billing.UnitID][]billing.Vehicle)
	for _, v := range vehicles {
		byUnit[v.UnitID] = append(byUnit[v.UnitID], v)
	}

	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		var owner *billing.Owner
		if o, ok := owners[u.ID]; ok {
			owner = &o
		}
		dtos[i] = toUnitDTO(u, owner, byUnit[u.ID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUnit returns one unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.UnitID(chi.URLParam(r, "id"))

	u, err := h.Store.GetUnit(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to get unit", err)
		return
	}
	owners, err := h.ownersByUnit(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list owners", err)
		return
	}
	vehicles, err := h.Store.VehiclesByUnit(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return
	}
	var owner *billing.Owner
	if o, ok := owners[id]; ok {
		owner = &o
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u, owner, vehicles))
}

// SaveUnit creates or updates a unit and its owner.
func (h *Handler) SaveUnit(w http.ResponseWriter, r *http.Request) {
	var req SaveUnitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u := billing.Unit{
		ID:     billing.UnitID(req.ID),
		Type:   billing.UnitType(req.Type),
		AreaM2: req.AreaM2,
		Status: billing.OccupancyStatus(req.Status),
	}
	if err := validateUnit(u); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveUnit(ctx, u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save unit", err)
		return
	}
	var owner *billing.Owner
	if req.Owner != nil {
		owner = &billing.Owner{
			ID:     billing.OwnerID("owner-" + req.ID),
			UnitID: u.ID,
			Name:   req.Owner.Name,
			Phone:  req.Owner.Phone,
			Email:  req.Owner.Email,
		}
		if err := h.Store.SaveOwner(ctx, *owner); err != nil {
			writeServiceError(w, "Failed to save owner", err)
			return
		}
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityUnitChanged,
		UnitID:  u.ID,
		Reason:  req.Reason,
		Payload: map[string]any{"type": u.Type, "area_m2": u.AreaM2.String(), "status": u.Status},
	})
	writeJSON(w, http.StatusCreated, toUnitDTO(u, owner, nil))
}

// ImportRoster creates or updates units and owners from an XLSX roster.
// Valid rows are saved even when other rows are invalid.
func (h *Handler) ImportRoster(w http.ResponseWriter, r *http.Request) {
	file, err := uploadedFile(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing spreadsheet upload", err)
		return
	}
	defer file.Close()

	roster, err := importer.ParseRoster(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse roster", err)
		return
	}

	ctx := r.Context()
	resp := RosterImportResponse{Invalid: toInvalidRowDTOs(roster.Invalid())}
	for _, row := range roster.Units() {
		if err := h.Store.SaveUnit(ctx, row.Unit); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save unit %s", row.Unit.ID), err)
			return
		}
		resp.Imported++
		if row.Owner != nil {
			if err := h.Store.SaveOwner(ctx, *row.Owner); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save owner of %s", row.Unit.ID), err)
				return
			}
			resp.Owners++
		}
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityRosterImported,
		Reason:  r.FormValue("reason"),
		Payload: map[string]any{"imported": resp.Imported, "owners": resp.Owners, "invalid": len(resp.Invalid)},
	})
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// VEHICLE HANDLERS
// =============================================================================

// ListVehicles returns all vehicles, or those of ?unit_id=.
func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	var (
		vehicles []billing.Vehicle
		err      error
	)
	if unitID := r.URL.Query().Get("unit_id"); unitID != "" {
		vehicles, err = h.Store.VehiclesByUnit(r.Context(), billing.UnitID(unitID))
	} else {
		vehicles, err = h.Store.ListVehicles(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return
	}
	dtos := make([]VehicleDTO, len(vehicles))
	for i, v := range vehicles {
		dtos[i] = toVehicleDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterVehicle registers an active vehicle. A registration that breaks
// the building limits is refused with 409 unless forced.
func (h *Handler) RegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var req RegisterVehicleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tier := billing.VehicleTier(req.Tier)
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown vehicle tier %q", req.Tier), nil)
		return
	}

	ctx := r.Context()
	u, err := h.Store.GetUnit(ctx, billing.UnitID(req.UnitID))
	if err != nil {
		writeServiceError(w, "Failed to get unit", err)
		return
	}
	v := billing.Vehicle{
		ID:           billing.VehicleID(uuid.NewString()),
		UnitID:       u.ID,
		Tier:         tier,
		Plate:        req.Plate,
		Active:       true,
		RegisteredAt: h.clock.Now().UTC(),
	}
	violations, ok := h.checkLimits(ctx, w, u, v, req.Force)
	if !ok {
		return
	}
	if err := h.Store.SaveVehicle(ctx, v); err != nil {
		writeServiceError(w, "Failed to save vehicle", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityVehicleChanged,
		UnitID:  u.ID,
		Reason:  req.Reason,
		Payload: map[string]any{"vehicle_id": v.ID, "tier": v.Tier, "plate": v.Plate, "active": true, "limits_overridden": len(violations)},
	})
	writeJSON(w, http.StatusCreated, toVehicleDTO(v))
}

// ActivateVehicle re-activates a vehicle, checking the limits again.
func (h *Handler) ActivateVehicle(w http.ResponseWriter, r *http.Request) {
	h.setVehicleActive(w, r, true)
}

// DeactivateVehicle stops billing a vehicle from the next calculation.
func (h *Handler) DeactivateVehicle(w http.ResponseWriter, r *http.Request) {
	h.setVehicleActive(w, r, false)
}

func (h *Handler) setVehicleActive(w http.ResponseWriter, r *http.Request, active bool) {
	var req VehicleStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	v, err := h.Store.GetVehicle(ctx, billing.VehicleID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get vehicle", err)
		return
	}
	if active && !v.Active {
		u, err := h.Store.GetUnit(ctx, v.UnitID)
		if err != nil {
			writeServiceError(w, "Failed to get unit", err)
			return
		}
		v.Active = true
		if _, ok := h.checkLimits(ctx, w, u, v, req.Force); !ok {
			return
		}
	}
	if err := h.Store.SetVehicleActive(ctx, v.ID, active); err != nil {
		writeServiceError(w, "Failed to update vehicle", err)
		return
	}
	v.Active = active

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityVehicleChanged,
		UnitID:  v.UnitID,
		Reason:  req.Reason,
		Payload: map[string]any{"vehicle_id": v.ID, "active": active},
	})
	writeJSON(w, http.StatusOK, toVehicleDTO(v))
}

// checkLimits writes a 409 and returns ok=false when candidate breaks the
// limits and force is not set.
func (h *Handler) checkLimits(ctx context.Context, w http.ResponseWriter, u billing.Unit, candidate billing.Vehicle, force bool) ([]billing.LimitViolation, bool) {
	existing, err := h.Store.VehiclesByUnit(ctx, u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err)
		return nil, false
	}
	others := existing[:0:0]
	for _, v := range existing {
		if v.ID != candidate.ID {
			others = append(others, v)
		}
	}
	violations := billing.CheckVehicleLimits(u, others, &candidate, h.limits)
	if len(violations) == 0 || force {
		return violations, true
	}

	resp := VehicleLimitResponse{Error: "Vehicle registration limit exceeded"}
	for _, v := range violations {
		resp.Violations = append(resp.Violations, LimitViolationDTO{Rule: v.Rule, Limit: v.Limit, Actual: v.Actual, Message: v.Message})
	}
	writeJSON(w, http.StatusConflict, resp)
	return nil, false
}

// =============================================================================
// READING / ADJUSTMENT HANDLERS
// =============================================================================

// ListReadings returns the period's meter readings.
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	readings, err := h.Store.ReadingsByPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list readings", err)
		return
	}
	dtos := make([]ReadingDTO, len(readings))
	for i, rd := range readings {
		dtos[i] = toReadingDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordReadings stores a batch of readings. The batch is validated before
// anything is written.
func (h *Handler) RecordReadings(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req RecordReadingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.ensureUnlocked(ctx, "record_readings", period); err != nil {
		writeServiceError(w, "Readings rejected", err)
		return
	}

	readings := make([]billing.WaterReading, 0, len(req.Readings))
	for _, in := range req.Readings {
		rd := billing.WaterReading{UnitID: billing.UnitID(in.UnitID), Period: period, Current: in.Current}
		if in.Previous != nil {
			rd.Previous = *in.Previous
		} else {
			last, found, err := h.Store.LatestReading(ctx, rd.UnitID, period)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to load previous reading", err)
				return
			}
			rd.Previous = decimal.Zero
			if found {
				rd.Previous = last.Current
			}
		}
		if rd.Consumption().IsNegative() {
			writeServiceError(w, "Invalid reading", &billing.InputError{UnitID: rd.UnitID, Field: "water", Reason: billing.ErrNegativeConsumption})
			return
		}
		readings = append(readings, rd)
	}

	dtos := make([]ReadingDTO, 0, len(readings))
	for _, rd := range readings {
		if err := h.Store.SaveReading(ctx, rd); err != nil {
			writeServiceError(w, fmt.Sprintf("Failed to save reading of %s", rd.UnitID), err)
			return
		}
		dtos = append(dtos, toReadingDTO(rd))
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityReadingRecorded,
		Period:  period,
		Reason:  req.Reason,
		Payload: map[string]any{"count": len(readings)},
	})
	writeJSON(w, http.StatusOK, dtos)
}

// ListAdjustments returns the period's adjustments.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	adjustments, err := h.Store.AdjustmentsByPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjustments))
	for i, a := range adjustments {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment adds a credit or debit. A reason is mandatory.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req AdjustmentDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "An adjustment needs a reason", nil)
		return
	}
	if req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, "An adjustment needs a non-zero amount", nil)
		return
	}

	ctx := r.Context()
	if err := h.ensureUnlocked(ctx, "add_adjustment", period); err != nil {
		writeServiceError(w, "Adjustment rejected", err)
		return
	}
	a := billing.Adjustment{
		ID:        billing.AdjustmentID(uuid.NewString()),
		UnitID:    billing.UnitID(req.UnitID),
		Period:    period,
		Amount:    req.Amount,
		Reason:    req.Reason,
		CreatedAt: h.clock.Now().UTC(),
	}
	if err := h.Store.SaveAdjustment(ctx, a); err != nil {
		writeServiceError(w, "Failed to save adjustment", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityAdjustmentAdded,
		Period:  period,
		UnitID:  a.UnitID,
		Reason:  a.Reason,
		Payload: map[string]any{"adjustment_id": a.ID, "amount": a.Amount.String()},
	})
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(a))
}

// =============================================================================
// HELPERS
// =============================================================================

// currentPeriod is the building's current month on the handler clock.
func (h *Handler) currentPeriod() billing.Period {
	return billing.PeriodIn(h.clock.Now(), h.loc)
}

func (h *Handler) ownersByUnit(ctx context.Context) (map[billing.UnitID]billing.Owner, error) {
	owners, err := h.Store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[billing.UnitID]billing.Owner, len(owners))
	for _, o := range owners {
		out[o.UnitID] = o
	}
	return out, nil
}

// ensureUnlocked rejects writes of period inputs once the period is locked.
func (h *Handler) ensureUnlocked(ctx context.Context, op string, period billing.Period) error {
	state, err := h.Controller.PeriodState(ctx, period)
	if err != nil {
		return err
	}
	if state.Locked {
		return &billing.RejectionError{Op: op, Period: period, Reason: billing.ErrPeriodLocked}
	}
	return nil
}

// record appends an activity entry for the caller. Failures are logged,
// never returned: the mutation already happened.
func (h *Handler) record(ctx context.Context, e billing.ActivityEntry) {
	e.Actor = SubjectFromContext(ctx)
	if e.Actor == "" {
		e.Actor = "system"
	}
	e.At = h.clock.Now().UTC()
	if _, err := h.Store.AppendActivity(ctx, e); err != nil {
		h.log.Warn("failed to append activity",
			zap.String("action", string(e.Action)),
			zap.String("actor", e.Actor),
			zap.Error(err),
		)
	}
}

func validateUnit(u billing.Unit) error {
	if u.Type != billing.UnitApartment && u.Type != billing.UnitKiosk {
		return fmt.Errorf("%w: unknown type %q", billing.ErrInvalidUnit, u.Type)
	}
	if !billing.ValidUnitCode(u.ID, u.Type) {
		return fmt.Errorf("%w: malformed %s code %q", billing.ErrInvalidUnit, u.Type, u.ID)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("%w: unknown occupancy %q", billing.ErrInvalidUnit, u.Status)
	}
	if u.AreaM2.IsNegative() {
		return fmt.Errorf("%w: negative area", billing.ErrInvalidUnit)
	}
	return nil
}

func toReadingDTO(rd billing.WaterReading) ReadingDTO {
	prev := rd.Previous
	consumption := rd.Consumption()
	return ReadingDTO{
		UnitID:      string(rd.UnitID),
		Period:      rd.Period.String(),
		Previous:    &prev,
		Current:     rd.Current,
		Consumption: &consumption,
	}
}

func toAdjustmentDTO(a billing.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:        string(a.ID),
		UnitID:    string(a.UnitID),
		Period:    a.Period.String(),
		Amount:    a.Amount,
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// periodParam parses {period}, writing a 400 on failure.
func periodParam(w http.ResponseWriter, r *http.Request) (billing.Period, bool) {
	p, err := billing.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return billing.Period{}, false
	}
	return p, true
}

// decodeJSON decodes the body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// uploadedFile returns the multipart "file" field, or the raw body for
// non-multipart requests.
func uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return r.Body, nil
		}
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	return file, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps billing and store errors to a status.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrPeriodLocked):
		status = http.StatusLocked
	case errors.Is(err, billing.ErrUnlockNotConfirmed):
		status = http.StatusPreconditionRequired
	case billing.IsRejection(err):
		status = http.StatusConflict
	case billing.IsNotFound(err), errors.Is(err, sqlite.ErrVehicleNotFound):
		status = http.StatusNotFound
	case billing.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}
