package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/store/sqlite"
)

// =============================================================================
// TARIFF HANDLERS
// =============================================================================

// GetTariffs returns the table in force for ?period= (default: this month).
func (h *Handler) GetTariffs(w http.ResponseWriter, r *http.Request) {
	period := h.currentPeriod()
	if s := r.URL.Query().Get("period"); s != "" {
		p, err := billing.ParsePeriod(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
		period = p
	}

	set, err := h.Tariffs.ForPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tariffs", err)
		return
	}
	writeJSON(w, http.StatusOK, TariffsResponse{
		Period:   period.String(),
		Schedule: h.Schedules.ToSchedule(set, period),
		Entries:  toTariffEntryDTOs(set.Entries),
	})
}

// TariffHistory returns every stored tariff version, expired ones included.
func (h *Handler) TariffHistory(w http.ResponseWriter, r *http.Request) {
	set, err := h.Store.TariffSet(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tariffs", err)
		return
	}
	writeJSON(w, http.StatusOK, toTariffEntryDTOs(set.Entries))
}

// PublishTariffs publishes a schedule. The body is a PublishTariffsRequest,
// or a bare schedule document when Content-Type names YAML. Each line
// supersedes the current version of its key; an invalid result is refused
// as a whole.
func (h *Handler) PublishTariffs(w http.ResponseWriter, r *http.Request) {
	var (
		set    billing.TariffSet
		reason string
		err    error
	)
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "Failed to read body", readErr)
			return
		}
		set, err = h.Schedules.ParseYAML(body)
		reason = r.URL.Query().Get("reason")
	} else {
		var req PublishTariffsRequest
		if decodeErr := decodeJSON(r, &req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", decodeErr)
			return
		}
		set, err = h.Schedules.FromSchedule(req.Schedule)
		reason = req.Reason
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tariff schedule", err)
		return
	}

	ctx := r.Context()
	expired, err := h.Store.PublishTariffs(ctx, set.Entries)
	if err != nil {
		writeServiceError(w, "Tariff publication rejected", err)
		return
	}
	h.Tariffs.Invalidate()

	keys := make([]string, len(set.Entries))
	for i, e := range set.Entries {
		keys[i] = string(e.Kind) + "/" + e.Key
	}
	h.record(ctx, billing.ActivityEntry{
		Action:  billing.ActivityTariffPublished,
		Reason:  reason,
		Payload: map[string]any{"keys": keys, "expired": len(expired)},
	})
	writeJSON(w, http.StatusCreated, PublishTariffsResponse{
		Published: toTariffEntryDTOs(set.Entries),
		Expired:   toTariffEntryDTOs(expired),
	})
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// ListActivity returns the activity log, newest first. Filters: ?period=,
// ?unit_id=, ?limit= (default 100).
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sqlite.ActivityFilter{UnitID: billing.UnitID(q.Get("unit_id")), Limit: 100}
	if s := q.Get("period"); s != "" {
		p, err := billing.ParsePeriod(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
			return
		}
		filter.Period = p
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Store.ListActivity(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list activity", err)
		return
	}
	dtos := make([]ActivityDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toActivityDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}
