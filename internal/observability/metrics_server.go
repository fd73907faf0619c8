package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxel-world/internal/logging"
)

// NewRegistry returns a registry carrying the Go runtime collector and the
// gopsutil process collector. Components register their own instruments on
// it.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	pc, err := NewProcessCollector()
	if err != nil {
		return nil, fmt.Errorf("process collector: %w", err)
	}
	if err := reg.Register(pc); err != nil {
		return nil, err
	}
	return reg, nil
}

// MetricsServer serves /metrics for a registry.
type MetricsServer struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// StartMetricsServer listens on addr and serves the registry at /metrics.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ms := &MetricsServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(ms.done)
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server: %v", err)
		}
	}()
	logging.Info("📊 Prometheus metrics on http://%s/metrics", ms.addr)
	return ms, nil
}

// Addr is the bound address.
func (ms *MetricsServer) Addr() net.Addr { return ms.addr }

// Stop shuts the listener down.
func (ms *MetricsServer) Stop(ctx context.Context) error {
	err := ms.srv.Shutdown(ctx)
	<-ms.done
	return err
}
