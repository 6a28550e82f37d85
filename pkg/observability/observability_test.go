package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	p, err := NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	return p, reader, spans
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "roseglass-api", c.ServiceName)
	assert.Equal(t, "localhost:4317", c.OTLPEndpoint)
	assert.Equal(t, 1.0, c.SampleRate)
	assert.False(t, c.Enabled)
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	p.RecordGeneration(ctx, "analyze", "m", 10, 20, decimal.NewFromInt(1))
	require.NoError(t, p.Shutdown(ctx))
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	ctx, span := p.StartSpan(context.Background(), "op")
	span.End()
	p.RecordGeneration(ctx, "analyze", "m", 1, 1, decimal.Zero)

	h := p.Middleware(http.NotFoundHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordGeneration(t *testing.T) {
	p, reader, _ := newTestProvider(t)
	p.RecordGeneration(context.Background(), "analyze", "claude-sonnet-4-20250514", 1000, 500, decimal.RequireFromString("0.021"))

	metrics := collect(t, reader)
	tokens, ok := metrics["roseglass.llm.tokens"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range tokens.DataPoints {
		total += dp.Value
		dir, _ := dp.Attributes.Value(attribute.Key("direction"))
		assert.Contains(t, []string{"input", "output"}, dir.AsString())
	}
	assert.Equal(t, int64(1500), total)

	charge, ok := metrics["roseglass.llm.charge"].Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, charge.DataPoints, 1)
	assert.InDelta(t, 0.021, charge.DataPoints[0].Value, 1e-9)
}

func TestMiddleware(t *testing.T) {
	p, reader, spans := newTestProvider(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/gates/{id}", func(w http.ResponseWriter, r *http.Request) {
		SetRoute(r.Context(), "GET /api/gates/{id}")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := p.Middleware(mux)

	for _, path := range []string{"/api/gates/gt-1", "/boom", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Len(t, spans.Ended(), 3)

	metrics := collect(t, reader)
	requests, ok := metrics["roseglass.requests.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	routes := map[string]bool{}
	for _, dp := range requests.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("http.route"))
		routes[v.AsString()] = true
	}
	assert.True(t, routes["GET /api/gates/{id}"])
	assert.True(t, routes["GET /boom"])

	errs, ok := metrics["roseglass.errors.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)

	_, ok = metrics["roseglass.request.duration"].Data.(metricdata.Histogram[float64])
	assert.True(t, ok)
}
