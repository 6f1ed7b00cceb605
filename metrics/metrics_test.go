package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/estate-billing/billing"
)

func rejection(reason error) error {
	return &billing.RejectionError{Op: billing.OpLock, Reason: reason}
}

func TestObserveOperation(t *testing.T) {
	// GIVEN: A fresh registry
	// WHEN: Recording a success, a locked rejection, and a store failure
	// THEN: Each lands under its result label, and the rejection under its reason

	m, err := New(nil)
	require.NoError(t, err)

	m.ObserveOperation(billing.OpCalculate, nil, 10*time.Millisecond)
	m.ObserveOperation(billing.OpCalculate, rejection(billing.ErrPeriodLocked), time.Millisecond)
	m.ObserveOperation(billing.OpCalculate, fmt.Errorf("disk full"), time.Millisecond)
	m.ObserveOperation(billing.OpUnlock, rejection(billing.ErrUnlockNotConfirmed), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(billing.OpCalculate, resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(billing.OpCalculate, resultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues(billing.OpCalculate, resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues(billing.OpCalculate, "locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues(billing.OpUnlock, "unconfirmed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationLatency))
}

func TestObserveImportExportAndCache(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.ObserveExport("xlsx", nil, time.Millisecond)
	m.ObserveExport("pdf", errors.New("font missing"), time.Millisecond)
	m.ObserveStatement(3, 1, 2)
	m.ObserveTariffCache(true)
	m.ObserveTariffCache(false)
	m.ObserveTariffCache(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.exports.WithLabelValues("pdf", resultError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.statementRows.WithLabelValues("matched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.statementRows.WithLabelValues("invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tariffCache.WithLabelValues("hit")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation(billing.OpLock, nil, 0)
		m.ObserveExport("pdf", nil, 0)
		m.ObserveStatement(1, 1, 1)
		m.ObserveTariffCache(true)
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.ObserveOperation(billing.OpPayment, nil, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `estate_billing_operations_total{op="record_payment",result="success"} 1`))
}
