/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  billing domain types so fields can be renamed without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal and encode as JSON strings ("2729203").
  Requests accept numbers or strings.

AUDIT REASON:
  Every mutating request carries an optional "reason" that is written to
  the activity log together with the caller.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/schedule.go: ScheduleJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/factory"
	"github.com/warp/estate-billing/importer"
)

// =============================================================================
// BUILDING
// =============================================================================

// OwnerDTO is the resident of record of a unit.
type OwnerDTO struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// UnitDTO represents a unit in API responses.
type UnitDTO struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	AreaM2   decimal.Decimal `json:"area_m2"`
	Status   string          `json:"status"`
	Owner    *OwnerDTO       `json:"owner,omitempty"`
	Vehicles []VehicleDTO    `json:"vehicles,omitempty"`
}

// SaveUnitRequest creates or updates a unit and, optionally, its owner.
type SaveUnitRequest struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	AreaM2 decimal.Decimal `json:"area_m2"`
	Status string          `json:"status"`
	Owner  *OwnerDTO       `json:"owner,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// VehicleDTO represents a registered vehicle.
type VehicleDTO struct {
	ID           string `json:"id"`
	UnitID       string `json:"unit_id"`
	Tier         string `json:"tier"`
	Plate        string `json:"plate,omitempty"`
	Active       bool   `json:"active"`
	RegisteredAt string `json:"registered_at"`
}

// RegisterVehicleRequest registers a vehicle. Force overrides the
// registration limits after a warning.
type RegisterVehicleRequest struct {
	UnitID string `json:"unit_id"`
	Tier   string `json:"tier"`
	Plate  string `json:"plate,omitempty"`
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// VehicleStatusRequest activates or deactivates a vehicle. Force overrides
// the registration limits on activation.
type VehicleStatusRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LimitViolationDTO is one broken registration rule.
type LimitViolationDTO struct {
	Rule    string `json:"rule"`
	Limit   int    `json:"limit"`
	Actual  int    `json:"actual"`
	Message string `json:"message"`
}

// VehicleLimitResponse is returned with 409 when a registration breaks limits.
type VehicleLimitResponse struct {
	Error      string              `json:"error"`
	Violations []LimitViolationDTO `json:"violations"`
}

// RosterImportResponse reports a roster upload.
type RosterImportResponse struct {
	Imported int             `json:"imported"`
	Owners   int             `json:"owners"`
	Invalid  []InvalidRowDTO `json:"invalid"`
}

// =============================================================================
// READINGS / ADJUSTMENTS
// =============================================================================

// ReadingDTO is one meter reading. Previous defaults to the last known
// current index of the unit, or 0.
type ReadingDTO struct {
	UnitID      string           `json:"unit_id"`
	Period      string           `json:"period,omitempty"`
	Previous    *decimal.Decimal `json:"previous,omitempty"`
	Current     decimal.Decimal  `json:"current"`
	Consumption *decimal.Decimal `json:"consumption,omitempty"`
}

// RecordReadingsRequest records a batch of readings for a period.
type RecordReadingsRequest struct {
	Readings []ReadingDTO `json:"readings"`
	Reason   string       `json:"reason,omitempty"`
}

// AdjustmentDTO is a manual credit (negative) or debit (positive).
type AdjustmentDTO struct {
	ID        string          `json:"id,omitempty"`
	UnitID    string          `json:"unit_id"`
	Period    string          `json:"period,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// =============================================================================
// CHARGES / PERIODS
// =============================================================================

// FeeLineDTO is one charge component.
type FeeLineDTO struct {
	Base       decimal.Decimal `json:"base"`
	VATPercent decimal.Decimal `json:"vat_percent"`
	Total      decimal.Decimal `json:"total"`
}

// ChargeDTO represents a charge in API responses.
type ChargeDTO struct {
	ID          string          `json:"id"`
	UnitID      string          `json:"unit_id"`
	Period      string          `json:"period"`
	Service     FeeLineDTO      `json:"service"`
	Parking     FeeLineDTO      `json:"parking"`
	Water       FeeLineDTO      `json:"water"`
	Consumption decimal.Decimal `json:"consumption_m3"`
	Adjustments decimal.Decimal `json:"adjustments"`
	TotalDue    decimal.Decimal `json:"total_due"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Status      string          `json:"status"`
	Locked      bool            `json:"locked"`
	Warnings    []string        `json:"warnings,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	PaidAt      string          `json:"paid_at,omitempty"`
}

// ReasonRequest is the body of mutations that only carry an audit reason.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UnlockPeriodRequest must set Confirm to unlock a period.
type UnlockPeriodRequest struct {
	Confirm bool   `json:"confirm"`
	Reason  string `json:"reason,omitempty"`
}

// DeleteChargesRequest removes the period's charges of the listed units.
type DeleteChargesRequest struct {
	UnitIDs []string `json:"unit_ids"`
	Reason  string   `json:"reason,omitempty"`
}

// DeleteChargesResponse reports how many charges were removed.
type DeleteChargesResponse struct {
	Removed int `json:"removed"`
}

// RecordPaymentRequest confirms a payment. Method is paid_tm (cash) or
// paid_ck (bank transfer).
type RecordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Reason string          `json:"reason,omitempty"`
}

// UnitFailureDTO is a unit the engine refused to bill.
type UnitFailureDTO struct {
	UnitID string `json:"unit_id"`
	Error  string `json:"error"`
}

// CalculateResponse reports a period calculation.
type CalculateResponse struct {
	Period    string           `json:"period"`
	Charges   []ChargeDTO      `json:"charges"`
	Preserved []string         `json:"preserved"`
	Failures  []UnitFailureDTO `json:"failures"`
}

// PeriodStateDTO is the lock state of a period.
type PeriodStateDTO struct {
	Period   string `json:"period"`
	Locked   bool   `json:"locked"`
	LockedAt string `json:"locked_at,omitempty"`
	LockedBy string `json:"locked_by,omitempty"`
}

// =============================================================================
// STATEMENT IMPORT
// =============================================================================

// SkippedMatchDTO is a statement match that was not applied.
type SkippedMatchDTO struct {
	UnitID string          `json:"unit_id"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// UnmatchedRowDTO is a statement credit needing manual attribution.
type UnmatchedRowDTO struct {
	Row         int             `json:"row"`
	Date        string          `json:"date,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Candidates  []string        `json:"candidates,omitempty"`
	Reason      string          `json:"reason"`
}

// InvalidRowDTO is a spreadsheet row rejected during parsing.
type InvalidRowDTO struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// StatementImportResponse reports a bank statement upload.
type StatementImportResponse struct {
	Period     string            `json:"period"`
	Reconciled []ChargeDTO       `json:"reconciled"`
	NotBilled  []string          `json:"not_billed"`
	Skipped    []SkippedMatchDTO `json:"skipped"`
	Unmatched  []UnmatchedRowDTO `json:"unmatched"`
	Invalid    []InvalidRowDTO   `json:"invalid"`
}

// =============================================================================
// TARIFFS / ACTIVITY / SCENARIOS
// =============================================================================

// TariffEntryDTO is one stored tariff version.
type TariffEntryDTO struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	Key           string           `json:"key"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	VATPercent    decimal.Decimal  `json:"vat_percent"`
	FromM3        *decimal.Decimal `json:"from_m3,omitempty"`
	ToM3          *decimal.Decimal `json:"to_m3,omitempty"`
	EffectiveFrom string           `json:"effective_from"`
	ExpiresAt     string           `json:"expires_at,omitempty"`
}

// TariffsResponse is the table in force for a period.
type TariffsResponse struct {
	Period   string               `json:"period"`
	Schedule factory.ScheduleJSON `json:"schedule"`
	Entries  []TariffEntryDTO     `json:"entries"`
}

// PublishTariffsRequest publishes a schedule document. Each line supersedes
// the current version of its key.
type PublishTariffsRequest struct {
	Schedule factory.ScheduleJSON `json:"schedule"`
	Reason   string               `json:"reason,omitempty"`
}

// PublishTariffsResponse lists the new and superseded versions.
type PublishTariffsResponse struct {
	Published []TariffEntryDTO `json:"published"`
	Expired   []TariffEntryDTO `json:"expired"`
}

// ActivityDTO is one activity log entry.
type ActivityDTO struct {
	ID      string         `json:"id"`
	At      string         `json:"at"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Period  string         `json:"period,omitempty"`
	UnitID  string         `json:"unit_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUnitDTO(u billing.Unit, o *billing.Owner, vehicles []billing.Vehicle) UnitDTO {
	dto := UnitDTO{ID: string(u.ID), Type: string(u.Type), AreaM2: u.AreaM2, Status: string(u.Status)}
	if o != nil {
		dto.Owner = &OwnerDTO{Name: o.Name, Phone: o.Phone, Email: o.Email}
	}
	for _, v := range vehicles {
		dto.Vehicles = append(dto.Vehicles, toVehicleDTO(v))
	}
	return dto
}

func toVehicleDTO(v billing.Vehicle) VehicleDTO {
	return VehicleDTO{
		ID:           string(v.ID),
		UnitID:       string(v.UnitID),
		Tier:         string(v.Tier),
		Plate:        v.Plate,
		Active:       v.Active,
		RegisteredAt: v.RegisteredAt.Format("2006-01-02"),
	}
}

func toFeeLineDTO(f billing.FeeLine) FeeLineDTO {
	return FeeLineDTO{Base: f.Base, VATPercent: f.VATPercent, Total: f.Total}
}

func toChargeDTO(c billing.Charge) ChargeDTO {
	return ChargeDTO{
		ID:          string(c.ID),
		UnitID:      string(c.UnitID),
		Period:      c.Period.String(),
		Service:     toFeeLineDTO(c.Service),
		Parking:     toFeeLineDTO(c.Parking),
		Water:       toFeeLineDTO(c.Water),
		Consumption: c.Consumption,
		Adjustments: c.Adjustments,
		TotalDue:    c.TotalDue,
		TotalPaid:   c.TotalPaid,
		Outstanding: c.Outstanding(),
		Status:      string(c.Status),
		Locked:      c.Locked,
		Warnings:    c.Warnings,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.UTC().Format(time.RFC3339),
		PaidAt:      formatTimePtr(c.PaidAt),
	}
}

func toChargeDTOs(charges []billing.Charge) []ChargeDTO {
	dtos := make([]ChargeDTO, len(charges))
	for i, c := range charges {
		dtos[i] = toChargeDTO(c)
	}
	return dtos
}

func toPeriodStateDTO(s billing.PeriodState) PeriodStateDTO {
	return PeriodStateDTO{Period: s.Period.String(), Locked: s.Locked, LockedAt: formatTimePtr(s.LockedAt), LockedBy: s.LockedBy}
}

func toTariffEntryDTO(e billing.TariffEntry) TariffEntryDTO {
	dto := TariffEntryDTO{
		ID:            e.ID,
		Kind:          string(e.Kind),
		Key:           e.Key,
		UnitPrice:     e.UnitPrice,
		VATPercent:    e.VATPercent,
		EffectiveFrom: e.EffectiveFrom.Format("2006-01-02"),
	}
	if e.Kind == billing.KindWater {
		from := e.FromM3
		dto.FromM3 = &from
		dto.ToM3 = e.ToM3
	}
	if e.ExpiresAt != nil {
		dto.ExpiresAt = e.ExpiresAt.Format("2006-01-02")
	}
	return dto
}

func toTariffEntryDTOs(entries []billing.TariffEntry) []TariffEntryDTO {
	dtos := make([]TariffEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toTariffEntryDTO(e)
	}
	return dtos
}

func toActivityDTO(e billing.ActivityEntry) ActivityDTO {
	return ActivityDTO{
		ID:      e.ID,
		At:      e.At.UTC().Format(time.RFC3339),
		Actor:   e.Actor,
		Action:  string(e.Action),
		Period:  e.Period.String(),
		UnitID:  string(e.UnitID),
		Reason:  e.Reason,
		Payload: e.Payload,
	}
}

func toInvalidRowDTOs(rows []importer.InvalidRow) []InvalidRowDTO {
	dtos := make([]InvalidRowDTO, len(rows))
	for i, r := range rows {
		dtos[i] = InvalidRowDTO{Row: r.Row, Reason: r.Reason}
	}
	return dtos
}
