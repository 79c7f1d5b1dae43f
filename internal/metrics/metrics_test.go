package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/metrics"
)

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = c.(prometheus.Metric).Write(m)
	return m.GetCounter().GetValue()
}

func getHistogramCount(t *testing.T, hist *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	o, err := hist.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = o.(prometheus.Metric).Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestHTTPMiddleware_RecordsRequestMetrics(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	before := getCounterValue(t, metrics.HTTPRequestsTotal, "POST", "/:app_id/webhooks", "200")
	beforeHist := getHistogramCount(t, metrics.HTTPRequestDuration, "POST", "/:app_id/webhooks")

	resp, err := http.Post(server.URL+"/abc123/webhooks", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	after := getCounterValue(t, metrics.HTTPRequestsTotal, "POST", "/:app_id/webhooks", "200")
	afterHist := getHistogramCount(t, metrics.HTTPRequestDuration, "POST", "/:app_id/webhooks")

	assert.Equal(t, float64(1), after-before)
	assert.Equal(t, uint64(1), afterHist-beforeHist)
}

func TestHTTPMiddleware_NormalizesPaths(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	paths := map[string]string{
		"/api/channels/app1":              "/api/channels/:app_id",
		"/api/channel/app1/room7":         "/api/channel/:app_id/:channel",
		"/api/channel/app1/room7/quality": "/api/channel/:app_id/:channel/quality",
		"/api/user/app1/42":               "/api/user/:app_id/:uid",
		"/api/minutes/app1":               "/api/minutes/:app_id",
		"/healthz":                        "/healthz",
		"/favicon.ico":                    "/other",
	}

	for raw, normalized := range paths {
		before := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", normalized, "200")
		resp, err := http.Get(server.URL + raw)
		require.NoError(t, err)
		_ = resp.Body.Close()
		after := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", normalized, "200")
		assert.Equal(t, float64(1), after-before, "path %s", raw)
	}
}

func TestHTTPMiddleware_CapturesErrorStatus(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	before := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "400")
	resp, err := http.Get(server.URL + "/nonsense")
	require.NoError(t, err)
	_ = resp.Body.Close()
	after := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "400")
	assert.Equal(t, float64(1), after-before)
}
