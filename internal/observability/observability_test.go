package observability

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	shutdown, err := InitTelemetry(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSamplerRatios(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestProcessCollector(t *testing.T) {
	pc, err := NewProcessCollector()
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(pc))

	n, err := testutil.GatherAndCount(reg, "voxel_process_goroutines", "voxel_process_heap_alloc_bytes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsServerServesRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "voxel_test_hits_total", Help: "hits"})
	reg.MustRegister(hits)
	hits.Add(3)

	ms, err := StartMetricsServer("127.0.0.1:0", reg)
	require.NoError(t, err)
	defer ms.Stop(context.Background())

	resp, err := http.Get("http://" + ms.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "voxel_test_hits_total 3")
	assert.Contains(t, string(body), "voxel_process_goroutines")

	health, err := http.Get("http://" + ms.Addr().String() + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
