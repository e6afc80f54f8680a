package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
)

func TestPrometheusExposesDomainMetrics(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	mgr, err := NewManager(lc, config.Config{Observability: config.Observability{
		ServiceName:     "printshop",
		InstanceID:      "test-1",
		EnableMetrics:   true,
		MetricsExporter: "prometheus",
		PrometheusPath:  "/metrics",
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, mgr.MetricsEnabled())
	assert.False(t, mgr.TracingEnabled())

	metrics, err := NewMetrics(mgr)
	require.NoError(t, err)
	metrics.OrdersCreated.Add(context.Background(), 2, metric.WithAttributes(attribute.String("print_type", "bw")))

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "printshop_orders_created")

	lc.RequireStart()
	lc.RequireStop()
}

func TestDisabledManager(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	mgr, err := NewManager(lc, config.Config{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, mgr.MetricsEnabled())
	assert.Nil(t, mgr.MetricsHandler())

	metrics, err := NewMetrics(mgr)
	require.NoError(t, err)
	metrics.LiveQueryUpstreams.Add(context.Background(), 1)

	lc.RequireStart()
	lc.RequireStop()
}

func TestUnknownExportersDisableQuietly(t *testing.T) {
	mgr, err := NewManager(fxtest.NewLifecycle(t), config.Config{Observability: config.Observability{
		EnableTracing:   true,
		TraceExporter:   "none",
		EnableMetrics:   true,
		MetricsExporter: "statsd",
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
}
