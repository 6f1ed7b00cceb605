package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/export"
	"github.com/warp/estate-billing/importer"
)

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns every period that has a lock state.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	states, err := h.Store.ListPeriodStates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}
	dtos := make([]PeriodStateDTO, len(states))
	for i, s := range states {
		dtos[i] = toPeriodStateDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPeriod returns the lock state of one period.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	state, err := h.Controller.PeriodState(r.Context(), period)
	if err != nil {
		writeServiceError(w, "Failed to get period", err)
		return
	}
	state.Period = period
	writeJSON(w, http.StatusOK, toPeriodStateDTO(state))
}

// CalculatePeriod bills every unit of the building with the tariffs in
// force at the period start. Paid and reconciling charges are kept.
func (h *Handler) CalculatePeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	roster, err := h.Store.Roster(ctx, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load building data", err)
		return
	}
	tariffs, err := h.Tariffs.ForPeriod(ctx, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tariffs", err)
		return
	}

	result, err := h.Controller.CalculatePeriod(ctx, period, billing.BuildInputs(period, roster), tariffs)
	if err != nil {
		writeServiceError(w, "Calculation rejected", err)
		return
	}

	resp := CalculateResponse{
		Period:    period.String(),
		Charges:   toChargeDTOs(result.Charges),
		Preserved: []string{},
		Failures:  []UnitFailureDTO{},
	}
	for _, c := range result.Preserved {
		resp.Preserved = append(resp.Preserved, string(c.UnitID))
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, UnitFailureDTO{UnitID: string(f.UnitID), Error: f.Err.Error()})
	}

	h.record(ctx, billing.ActivityEntry{
		Action: billing.ActivityPeriodCalculated,
		Period: period,
		Reason: req.Reason,
		Payload: map[string]any{
			"calculated": len(result.Charges),
			"preserved":  len(result.Preserved),
			"failed":     len(result.Failures),
		},
	})
	writeJSON(w, http.StatusOK, resp)
}

// ListCharges returns the period's charges, optionally filtered by ?status=.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	charges, err := h.Controller.Charges(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := charges[:0]
		for _, c := range charges {
			if string(c.Status) == status {
				filtered = append(filtered, c)
			}
		}
		charges = filtered
	}
	writeJSON(w, http.StatusOK, toChargeDTOs(charges))
}

// DeleteCharges removes the period's charges of the listed units.
func (h *Handler) DeleteCharges(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req DeleteChargesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.UnitIDs) == 0 {
		writeError(w, http.StatusBadRequest, "unit_ids is required", nil)
		return
	}
	unitIDs := make([]billing.UnitID, len(req.UnitIDs))
	for i, id := range req.UnitIDs {
		unitIDs[i] = billing.UnitID(id)
	}

	ctx := r.Context()
	removed, err := h.Controller.DeleteCharges(ctx, period, unitIDs)
	if err != nil {
		writeServiceError(w, "Delete rejected", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityChargesDeleted,
		Period:  period,
		Reason:  req.Reason,
		Payload: map[string]any{"unit_ids": req.UnitIDs, "removed": removed},
	})
	writeJSON(w, http.StatusOK, DeleteChargesResponse{Removed: removed})
}

// LockPeriod freezes the period's charges.
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	state, err := h.Controller.LockPeriod(ctx, period, SubjectFromContext(ctx))
	if err != nil {
		writeServiceError(w, "Lock rejected", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{Action: billing.ActivityPeriodLocked, Period: period, Reason: req.Reason})
	writeJSON(w, http.StatusOK, toPeriodStateDTO(state))
}

// UnlockPeriod reopens a locked period. The body must set "confirm".
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req UnlockPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	state, err := h.Controller.UnlockPeriod(ctx, period, billing.UnlockRequest{
		Confirm: req.Confirm,
		Actor:   SubjectFromContext(ctx),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(w, "Unlock rejected", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{Action: billing.ActivityPeriodUnlocked, Period: period, Reason: req.Reason})
	writeJSON(w, http.StatusOK, toPeriodStateDTO(state))
}

// ImportStatement matches the credits of an XLSX bank statement to units
// and moves their pending charges to reconciling.
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	file, err := uploadedFile(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing spreadsheet upload", err)
		return
	}
	defer file.Close()

	ctx := r.Context()
	units, err := h.Store.ListUnits(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}
	stmt, err := importer.NewStatementParser(units).Parse(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse statement", err)
		return
	}

	var matched int
	for _, row := range stmt.Rows {
		if _, ok := row.(importer.MatchedRow); ok {
			matched++
		}
	}
	unmatched, invalid := stmt.Unmatched(), stmt.Invalid()
	h.Metrics.ObserveStatement(matched, len(unmatched), len(invalid))

	result, err := h.Controller.ReconcileFromStatement(ctx, period, stmt.Matches())
	if err != nil {
		writeServiceError(w, "Statement rejected", err)
		return
	}

	resp := StatementImportResponse{
		Period:     period.String(),
		Reconciled: toChargeDTOs(result.Reconciled),
		NotBilled:  []string{},
		Skipped:    []SkippedMatchDTO{},
		Unmatched:  []UnmatchedRowDTO{},
		Invalid:    toInvalidRowDTOs(invalid),
	}
	for _, id := range result.Unmatched {
		resp.NotBilled = append(resp.NotBilled, string(id))
	}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedMatchDTO{UnitID: string(s.UnitID), Amount: s.Amount, Reason: s.Reason})
	}
	for _, u := range unmatched {
		dto := UnmatchedRowDTO{Row: u.Row, Date: u.Date, Description: u.Description, Amount: u.Amount, Reason: u.Reason}
		for _, c := range u.Candidates {
			dto.Candidates = append(dto.Candidates, string(c))
		}
		resp.Unmatched = append(resp.Unmatched, dto)
	}

	h.record(ctx, billing.ActivityEntry{
		Action: billing.ActivityStatementImport,
		Period: period,
		Reason: r.FormValue("reason"),
		Payload: map[string]any{
			"reconciled": len(result.Reconciled),
			"not_billed": len(result.Unmatched),
			"skipped":    len(result.Skipped),
			"unmatched":  len(unmatched),
			"invalid":    len(invalid),
		},
	})
	writeJSON(w, http.StatusOK, resp)
}

// ExportPeriod downloads the period's charges as an XLSX workbook.
func (h *Handler) ExportPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := periodParam(w, r)
	if !ok {
		return
	}
	charges, err := h.Controller.Charges(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}

	start := time.Now()
	data, err := export.ChargesXLSX(h.building, period, charges)
	h.Metrics.ObserveExport("xlsx", err, time.Since(start))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render workbook", err)
		return
	}
	writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		fmt.Sprintf("charges-%s.xlsx", period), data)
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// GetCharge returns one charge.
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	c, err := h.Controller.Charge(r.Context(), billing.ChargeID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get charge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(c))
}

// RecordPayment confirms a cash (paid_tm) or bank (paid_ck) payment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Controller.RecordPayment(ctx, billing.ChargeID(chi.URLParam(r, "id")), req.Amount, billing.PaymentMethod(req.Method))
	if err != nil {
		writeServiceError(w, "Payment rejected", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityPaymentRecorded,
		Period:  c.Period,
		UnitID:  c.UnitID,
		Reason:  req.Reason,
		Payload: map[string]any{"charge_id": c.ID, "amount": req.Amount.String(), "method": req.Method},
	})
	writeJSON(w, http.StatusOK, toChargeDTO(c))
}

// UndoPayment returns a paid or reconciling charge to pending.
func (h *Handler) UndoPayment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Controller.UndoPayment(ctx, billing.ChargeID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Undo rejected", err)
		return
	}

	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityPaymentUndone,
		Period:  c.Period,
		UnitID:  c.UnitID,
		Reason:  req.Reason,
		Payload: map[string]any{"charge_id": c.ID},
	})
	writeJSON(w, http.StatusOK, toChargeDTO(c))
}

// InvoicePDF downloads the resident invoice of a charge.
func (h *Handler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.Controller.Charge(ctx, billing.ChargeID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get charge", err)
		return
	}
	owners, err := h.ownersByUnit(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list owners", err)
		return
	}
	inv := export.Invoice{Building: h.building, Charge: c, IssuedAt: h.clock.Now()}
	if o, ok := owners[c.UnitID]; ok {
		inv.Owner = &o
	}

	start := time.Now()
	data, err := export.InvoicePDF(inv)
	h.Metrics.ObserveExport("pdf", err, time.Since(start))
	if err != nil {
		h.log.Error("invoice rendering failed", zap.String("charge_id", string(c.ID)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to render invoice", err)
		return
	}
	writeFile(w, "application/pdf", fmt.Sprintf("invoice-%s-%s.pdf", c.UnitID, c.Period), data)
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
