package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.BulkCreated()
	m.TransferFinished("FAILED", "LOOKUP_TIMEOUT")
	m.Callback("quotes", "unmatched")
	m.RegisterPendingCorrelations(func() int { return 1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.BulkCreated()
	m.TransferFinished("COMPLETED", "")
	m.TransferFinished("FAILED", "QUOTE_TIMEOUT")
	m.RegisterPendingCorrelations(func() int { return 3 })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulksCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfersFinished.WithLabelValues("FAILED", "QUOTE_TIMEOUT")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "disbursement_pending_correlations 3"))
	assert.True(t, strings.Contains(body, "disbursement_bulks_created_total 1"))
}
