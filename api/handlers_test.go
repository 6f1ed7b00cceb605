/*
handlers_test.go - End-to-end tests for API handlers

Tests for:
- Period calculation on the demo building (worked example)
- Period lock / unlock and the statuses they map to
- Payment confirmation and undo
- Vehicle registration limits
- Readings, adjustments and tariff publication
- Bank statement upload and document exports
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
	"github.com/warp/estate-billing/export"
	"github.com/warp/estate-billing/store/sqlite"
)

// testNow is inside the 2025-03 billing period.
var testNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, secret string) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h, err := NewHandler(store, Options{
		Clock:     billing.FixedClock{T: testNow},
		CacheTTL:  time.Minute,
		Building:  export.Building{Name: "Sunrise Tower", Address: "12 Tran Duy Hung, Hanoi"},
		JWTSecret: secret,
	})
	require.NoError(t, err)
	return h, NewRouter(h)
}

// demoHandler returns a handler with the hanoi-residential scenario loaded.
func demoHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	h, router := newTestHandler(t, "")
	require.NoError(t, h.LoadScenarioByID(context.Background(), "hanoi-residential"))
	return h, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func calculate(t *testing.T, router http.Handler, period string) CalculateResponse {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/periods/"+period+"/calculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[CalculateResponse](t, rec)
}

func chargeOf(t *testing.T, resp CalculateResponse, unit string) ChargeDTO {
	t.Helper()
	for _, c := range resp.Charges {
		if c.UnitID == unit {
			return c
		}
	}
	t.Fatalf("no charge for unit %s", unit)
	return ChargeDTO{}
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestCalculatePeriod_WorkedExample(t *testing.T) {
	// GIVEN: Unit 0903, 75 m2 owner-occupied, one car, 120 -> 138 m3, a 50,000 credit
	// WHEN: Calculating March 2025
	// THEN: Service 1,361,250 + parking 1,296,000 + water 121,953.3 - 50,000 rounds to 2,729,203
	_, router := demoHandler(t)

	resp := calculate(t, router, "2025-03")
	assert.Equal(t, "2025-03", resp.Period)
	assert.Len(t, resp.Charges, 3)
	assert.Empty(t, resp.Preserved)
	assert.Empty(t, resp.Failures)

	c := chargeOf(t, resp, "0903")
	assert.True(t, c.Service.Total.Equal(decimal.NewFromInt(1361250)), c.Service.Total.String())
	assert.True(t, c.Parking.Total.Equal(decimal.NewFromInt(1296000)), c.Parking.Total.String())
	assert.True(t, c.Water.Total.Equal(decimal.RequireFromString("121953.3")), c.Water.Total.String())
	assert.True(t, c.Consumption.Equal(decimal.NewFromInt(18)))
	assert.True(t, c.TotalDue.Equal(decimal.NewFromInt(2729203)), c.TotalDue.String())
	assert.Equal(t, "pending", c.Status)
}

func TestCalculatePeriod_PreservesPaidCharges(t *testing.T) {
	// GIVEN: A calculated period where 0903 has been paid in cash
	// WHEN: Recalculating the period
	// THEN: 0903 is preserved, the other units are recalculated
	_, router := demoHandler(t)
	first := calculate(t, router, "2025-03")
	paid := chargeOf(t, first, "0903")

	rec := do(t, router, http.MethodPost, "/api/charges/"+paid.ID+"/payment",
		RecordPaymentRequest{Amount: paid.TotalDue, Method: "paid_tm"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	second := calculate(t, router, "2025-03")
	assert.Equal(t, []string{"0903"}, second.Preserved)
	assert.Len(t, second.Charges, 2)
}

func TestCalculatePeriod_FuturePeriodRejected(t *testing.T) {
	_, router := demoHandler(t)

	rec := do(t, router, http.MethodPost, "/api/periods/2025-04/calculate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/periods/2025-13/calculate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCharges_FilterByStatus(t *testing.T) {
	_, router := demoHandler(t)
	resp := calculate(t, router, "2025-03")
	c := chargeOf(t, resp, "1205")
	rec := do(t, router, http.MethodPost, "/api/charges/"+c.ID+"/payment",
		RecordPaymentRequest{Amount: c.TotalDue, Method: "paid_ck"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/periods/2025-03/charges?status=paid_ck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	charges := decode[[]ChargeDTO](t, rec)
	require.Len(t, charges, 1)
	assert.Equal(t, "1205", charges[0].UnitID)
}

// =============================================================================
// LOCKS
// =============================================================================

func TestLockPeriod_BlocksMutations(t *testing.T) {
	// GIVEN: A calculated and locked period
	// WHEN: Attempting to recalculate, pay, adjust or record readings
	// THEN: Every mutation gets 423 until the period is unlocked with confirmation
	_, router := demoHandler(t)
	resp := calculate(t, router, "2025-03")
	charge := chargeOf(t, resp, "1205")

	rec := do(t, router, http.MethodPost, "/api/periods/2025-03/lock", ReasonRequest{Reason: "month closed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decode[PeriodStateDTO](t, rec)
	assert.True(t, state.Locked)
	assert.Equal(t, "tester", state.LockedBy)

	rec = do(t, router, http.MethodGet, "/api/charges/"+charge.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ChargeDTO](t, rec).Locked)

	assert.Equal(t, http.StatusLocked, do(t, router, http.MethodPost, "/api/periods/2025-03/calculate", nil).Code)
	assert.Equal(t, http.StatusLocked, do(t, router, http.MethodPost, "/api/charges/"+charge.ID+"/payment",
		RecordPaymentRequest{Amount: charge.TotalDue, Method: "paid_tm"}).Code)
	assert.Equal(t, http.StatusLocked, do(t, router, http.MethodPost, "/api/periods/2025-03/adjustments",
		AdjustmentDTO{UnitID: "1205", Amount: decimal.NewFromInt(10000), Reason: "late fee"}).Code)
	assert.Equal(t, http.StatusLocked, do(t, router, http.MethodPost, "/api/periods/2025-03/readings",
		RecordReadingsRequest{Readings: []ReadingDTO{{UnitID: "1205", Current: decimal.NewFromInt(360)}}}).Code)
	assert.Equal(t, http.StatusLocked, do(t, router, http.MethodDelete, "/api/periods/2025-03/charges",
		DeleteChargesRequest{UnitIDs: []string{"1205"}}).Code)

	// Unlock needs explicit confirmation
	rec = do(t, router, http.MethodPost, "/api/periods/2025-03/unlock", UnlockPeriodRequest{})
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/periods/2025-03/unlock", UnlockPeriodRequest{Confirm: true, Reason: "meter misread"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[PeriodStateDTO](t, rec).Locked)

	calculate(t, router, "2025-03")
}

func TestLockPeriod_Idempotent(t *testing.T) {
	_, router := demoHandler(t)
	calculate(t, router, "2025-03")

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPost, "/api/periods/2025-03/lock", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/api/periods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	states := decode[[]PeriodStateDTO](t, rec)
	require.Len(t, states, 1)
	assert.Equal(t, "2025-03", states[0].Period)
	assert.True(t, states[0].Locked)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayment_RecordAndUndo(t *testing.T) {
	// GIVEN: A pending charge
	// WHEN: Paying it, paying again, then undoing
	// THEN: paid_ck, then 409, then back to pending with nothing paid
	_, router := demoHandler(t)
	resp := calculate(t, router, "2025-03")
	c := chargeOf(t, resp, "K01")

	rec := do(t, router, http.MethodPost, "/api/charges/"+c.ID+"/payment",
		RecordPaymentRequest{Amount: c.TotalDue, Method: "paid_ck", Reason: "VCB transfer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[ChargeDTO](t, rec)
	assert.Equal(t, "paid_ck", paid.Status)
	assert.True(t, paid.Outstanding.IsZero())
	assert.NotEmpty(t, paid.PaidAt)

	rec = do(t, router, http.MethodPost, "/api/charges/"+c.ID+"/payment",
		RecordPaymentRequest{Amount: c.TotalDue, Method: "paid_tm"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/charges/"+c.ID+"/undo", ReasonRequest{Reason: "wrong unit"})
	require.Equal(t, http.StatusOK, rec.Code)
	undone := decode[ChargeDTO](t, rec)
	assert.Equal(t, "pending", undone.Status)
	assert.True(t, undone.TotalPaid.IsZero())

	rec = do(t, router, http.MethodPost, "/api/charges/"+c.ID+"/undo", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPayment_InvalidRequests(t *testing.T) {
	_, router := demoHandler(t)
	resp := calculate(t, router, "2025-03")
	c := chargeOf(t, resp, "0903")

	tests := []struct {
		name   string
		id     string
		req    RecordPaymentRequest
		status int
	}{
		{"unknown method", c.ID, RecordPaymentRequest{Amount: c.TotalDue, Method: "cash"}, http.StatusBadRequest},
		{"pending is not a payment", c.ID, RecordPaymentRequest{Amount: c.TotalDue, Method: "pending"}, http.StatusBadRequest},
		{"negative amount", c.ID, RecordPaymentRequest{Amount: decimal.NewFromInt(-1), Method: "paid_tm"}, http.StatusBadRequest},
		{"unknown charge", "missing", RecordPaymentRequest{Amount: c.TotalDue, Method: "paid_tm"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/charges/"+tt.id+"/payment", tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestDeleteCharges(t *testing.T) {
	_, router := demoHandler(t)
	calculate(t, router, "2025-03")

	rec := do(t, router, http.MethodDelete, "/api/periods/2025-03/charges",
		DeleteChargesRequest{UnitIDs: []string{"K01", "9999"}, Reason: "kiosk closed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[DeleteChargesResponse](t, rec).Removed)

	rec = do(t, router, http.MethodGet, "/api/periods/2025-03/charges", nil)
	assert.Len(t, decode[[]ChargeDTO](t, rec), 2)

	rec = do(t, router, http.MethodDelete, "/api/periods/2025-03/charges", DeleteChargesRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BUILDING DATA
// =============================================================================

func TestRegisterVehicle_Limits(t *testing.T) {
	// GIVEN: Owner-occupied 0903 already has one standard car
	// WHEN: Registering a second car
	// THEN: 409 with the broken rule, unless forced
	_, router := demoHandler(t)

	req := RegisterVehicleRequest{UnitID: "0903", Tier: "car", Plate: "30K-999.99"}
	rec := do(t, router, http.MethodPost, "/api/vehicles", req)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	limit := decode[VehicleLimitResponse](t, rec)
	require.Len(t, limit.Violations, 1)
	assert.Equal(t, 1, limit.Violations[0].Limit)
	assert.Equal(t, 2, limit.Violations[0].Actual)

	req.Force = true
	req.Reason = "board approval"
	rec = do(t, router, http.MethodPost, "/api/vehicles", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[VehicleDTO](t, rec)
	assert.True(t, v.Active)

	// Deactivating frees the slot
	rec = do(t, router, http.MethodPost, "/api/vehicles/"+v.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[VehicleDTO](t, rec).Active)

	rec = do(t, router, http.MethodPost, "/api/vehicles/"+v.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/vehicles/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/vehicles", RegisterVehicleRequest{UnitID: "0903", Tier: "truck"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveUnit(t *testing.T) {
	_, router := newTestHandler(t, "")

	rec := do(t, router, http.MethodPost, "/api/units", SaveUnitRequest{
		ID: "1507", Type: "apartment", AreaM2: decimal.NewFromInt(82), Status: "owner_occupied",
		Owner: &OwnerDTO{Name: "Phạm Thu Hà", Phone: "0900000000"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/units/1507", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[UnitDTO](t, rec)
	require.NotNil(t, u.Owner)
	assert.Equal(t, "Phạm Thu Hà", u.Owner.Name)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/units/0101", nil).Code)

	bad := []SaveUnitRequest{
		{ID: "K1507", Type: "apartment", Status: "rented"},
		{ID: "1507", Type: "penthouse", Status: "rented"},
		{ID: "1507", Type: "apartment", Status: "vacant"},
		{ID: "1507", Type: "apartment", Status: "rented", AreaM2: decimal.NewFromInt(-1)},
	}
	for _, req := range bad {
		assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/units", req).Code, req)
	}
}

func TestRecordReadings_DefaultsPreviousIndex(t *testing.T) {
	// GIVEN: 0903 read 138 in March
	// WHEN: Recording April's index without a previous value
	// THEN: Previous defaults to 138; an index below it is refused
	_, router := demoHandler(t)

	rec := do(t, router, http.MethodPost, "/api/periods/2025-04/readings", RecordReadingsRequest{
		Readings: []ReadingDTO{{UnitID: "0903", Current: decimal.NewFromInt(150)}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	readings := decode[[]ReadingDTO](t, rec)
	require.Len(t, readings, 1)
	assert.True(t, readings[0].Previous.Equal(decimal.NewFromInt(138)))
	assert.True(t, readings[0].Consumption.Equal(decimal.NewFromInt(12)))

	rec = do(t, router, http.MethodPost, "/api/periods/2025-04/readings", RecordReadingsRequest{
		Readings: []ReadingDTO{{UnitID: "0903", Current: decimal.NewFromInt(100)}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAdjustment(t *testing.T) {
	_, router := demoHandler(t)

	rec := do(t, router, http.MethodPost, "/api/periods/2025-03/adjustments",
		AdjustmentDTO{UnitID: "1205", Amount: decimal.NewFromInt(25000), Reason: "key card"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/periods/2025-03/adjustments", nil)
	assert.Len(t, decode[[]AdjustmentDTO](t, rec), 2)

	rec = do(t, router, http.MethodPost, "/api/periods/2025-03/adjustments",
		AdjustmentDTO{UnitID: "1205", Amount: decimal.NewFromInt(25000)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TARIFFS / ACTIVITY
// =============================================================================

func TestPublishTariffs_SupersedesCurrentVersion(t *testing.T) {
	// GIVEN: The Hanoi schedule in force since 2025-01-01
	// WHEN: Publishing a car parking increase from 2025-03-01
	// THEN: The old car entry expires on 2025-02-28 and March bills the new price
	_, router := demoHandler(t)

	body := `{"schedule": {"effective_from": "2025-03-01", "parking": [{"key": "car", "price": 1300000, "vat_percent": 8}]}, "reason": "board decision"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tariffs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	published := decode[PublishTariffsResponse](t, rec)
	require.Len(t, published.Expired, 1)
	assert.Equal(t, "2025-02-28", published.Expired[0].ExpiresAt)

	rec = do(t, router, http.MethodGet, "/api/tariffs?period=2025-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feb := decode[TariffsResponse](t, rec)
	assert.Equal(t, "2025-01-01", feb.Schedule.EffectiveFrom)

	resp := calculate(t, router, "2025-03")
	c := chargeOf(t, resp, "0903")
	assert.True(t, c.Parking.Total.Equal(decimal.NewFromInt(1404000)), c.Parking.Total.String())

	// Republishing the same date is refused
	req = httptest.NewRequest(http.MethodPost, "/api/tariffs", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishTariffs_YAML(t *testing.T) {
	_, router := demoHandler(t)

	doc := "effective_from: \"2025-03-01\"\nservice:\n  - {key: business, price: 30000, vat_percent: 10}\n"
	req := httptest.NewRequest(http.MethodPost, "/api/tariffs?reason=kiosk+rate", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/tariffs/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// 3 service + 5 parking + 4 water + the new business line
	assert.Len(t, decode[[]TariffEntryDTO](t, rec), 13)
}

func TestActivityLog(t *testing.T) {
	_, router := demoHandler(t)
	calculate(t, router, "2025-03")
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/periods/2025-03/lock",
		ReasonRequest{Reason: "month closed"}).Code)

	rec := do(t, router, http.MethodGet, "/api/activity?period=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ActivityDTO](t, rec)
	require.Len(t, entries, 2)

	actions := []string{entries[0].Action, entries[1].Action}
	assert.ElementsMatch(t, []string{"period_calculated", "period_locked"}, actions)
	for _, e := range entries {
		assert.Equal(t, "tester", e.Actor)
	}
}

// =============================================================================
// STATEMENTS / EXPORTS
// =============================================================================

func spreadsheetUpload(t *testing.T, rows [][]any) (*bytes.Buffer, string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+1), &r))
	}
	var xlsx bytes.Buffer
	require.NoError(t, f.Write(&xlsx))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "statement.xlsx")
	require.NoError(t, err)
	_, err = part.Write(xlsx.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("reason", "monthly upload"))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func doUpload(t *testing.T, router http.Handler, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestImportStatement_ReconcilesMatchedUnits(t *testing.T) {
	// GIVEN: A calculated period and a statement with one matched and one anonymous credit
	// WHEN: Uploading it
	// THEN: 0903 moves to reconciling with the credit; the anonymous row needs manual work
	_, router := demoHandler(t)
	calculate(t, router, "2025-03")

	body, contentType := spreadsheetUpload(t, [][]any{
		{"Ngày", "Nội dung", "Số tiền"},
		{"05/03/2025", "CH 0903 phi thang 3", "2.729.203"},
		{"06/03/2025", "chuyen khoan", "500000"},
		{"07/03/2025", "1205 phi", "abc"},
	})
	rec := doUpload(t, router, "/api/periods/2025-03/statement", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[StatementImportResponse](t, rec)
	require.Len(t, resp.Reconciled, 1)
	assert.Equal(t, "0903", resp.Reconciled[0].UnitID)
	assert.Equal(t, "reconciling", resp.Reconciled[0].Status)
	assert.True(t, resp.Reconciled[0].TotalPaid.Equal(decimal.NewFromInt(2729203)))
	require.Len(t, resp.Unmatched, 1)
	assert.Equal(t, 3, resp.Unmatched[0].Row)
	require.Len(t, resp.Invalid, 1)
	assert.Equal(t, 4, resp.Invalid[0].Row)

	// Reconciling charges survive recalculation
	again := calculate(t, router, "2025-03")
	assert.Equal(t, []string{"0903"}, again.Preserved)
}

func TestExports(t *testing.T) {
	_, router := demoHandler(t)
	resp := calculate(t, router, "2025-03")
	c := chargeOf(t, resp, "0903")

	rec := do(t, router, http.MethodGet, "/api/periods/2025-03/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "charges-2025-03.xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	period, err := f.GetCellValue("summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, "2025-03", period)

	rec = do(t, router, http.MethodGet, "/api/charges/"+c.ID+"/invoice.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `estate_billing_exports_total{format="pdf",result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `estate_billing_operations_total{op="calculate_period",result="success"} 1`)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RolesAndTokens(t *testing.T) {
	secret := "test-secret"
	h, router := newTestHandler(t, secret)
	require.NoError(t, h.LoadScenarioByID(context.Background(), "hanoi-residential"))

	token := func(subject string, role Role) string {
		tok, err := IssueToken(subject, role, []byte(secret), time.Hour)
		require.NoError(t, err)
		return tok
	}
	call := func(method, path, tok string) int {
		req := httptest.NewRequest(method, path, nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	viewer := token("vy", RoleViewer)
	accountant := token("an", RoleAccountant)
	admin := token("ha", RoleAdmin)
	forged, err := IssueToken("mallory", RoleAdmin, []byte("other-secret"), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/api/units", ""))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/api/units", forged))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/units", viewer))
	assert.Equal(t, http.StatusForbidden, call(http.MethodPost, "/api/periods/2025-03/calculate", viewer))
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/api/periods/2025-03/calculate", accountant))
	assert.Equal(t, http.StatusForbidden, call(http.MethodPost, "/api/periods/2025-03/lock", accountant))
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/api/periods/2025-03/lock", admin))

	// Health and metrics stay public
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/metrics", ""))

	entries, err := h.Store.ListActivity(context.Background(), sqlite.ActivityFilter{Period: billing.MustParsePeriod("2025-03")})
	require.NoError(t, err)
	actors := map[string]bool{}
	for _, e := range entries {
		actors[e.Actor] = true
	}
	assert.Equal(t, map[string]bool{"an": true, "ha": true}, actors)
}

func TestParseToken_Rejects(t *testing.T) {
	secret := []byte("s")
	expired, err := IssueToken("a", RoleAdmin, secret, -time.Minute)
	require.NoError(t, err)
	noSubject, err := IssueToken("", RoleAdmin, secret, time.Hour)
	require.NoError(t, err)
	badRole, err := IssueToken("a", Role("owner"), secret, time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{"expired": expired, "no subject": noSubject, "bad role": badRole, "empty": ""} {
		_, err := ParseToken(tok, secret)
		assert.Error(t, err, name)
	}
}
