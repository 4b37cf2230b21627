package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studiowebux/difyload/internal/hostmon"
	"github.com/studiowebux/difyload/internal/types"
)

// Collector exposes the samples of a run as Prometheus metrics. Each
// collector owns its registry so several runs can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	activeUsers prometheus.Gauge
	hostUsage   *prometheus.GaugeVec
	hostIO      *prometheus.GaugeVec
}

// NewCollector creates and registers the run metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "difyload_requests_total",
				Help: "Requests sent by virtual users",
			},
			[]string{"name", "result"}, // result: success/failure
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "difyload_request_duration_seconds",
				Help:    "Request latency distributions",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"name"},
		),
		activeUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "difyload_active_users",
				Help: "Virtual users currently running",
			},
		),
		hostUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "difyload_host_usage_percent",
				Help: "Resource usage of the load host",
			},
			[]string{"resource"}, // cpu, memory, disk_busy
		),
		hostIO: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "difyload_host_io_bytes_per_second",
				Help: "Disk and network throughput of the load host",
			},
			[]string{"device", "direction"},
		),
	}

	c.registry.MustRegister(c.requests, c.duration, c.activeUsers, c.hostUsage, c.hostIO)
	return c
}

// Observe records one sample. Scenario errors count as requests but carry
// no latency.
func (c *Collector) Observe(s types.Sample) {
	result := "success"
	if s.Failed() {
		result = "failure"
	}
	c.requests.WithLabelValues(s.Name, result).Inc()

	if s.Method != types.MethodError {
		c.duration.WithLabelValues(s.Name).Observe(s.Duration.Seconds())
	}
}

// SetActiveUsers updates the active user gauge
func (c *Collector) SetActiveUsers(n int) {
	c.activeUsers.Set(float64(n))
}

// ObserveHost updates the load host gauges
func (c *Collector) ObserveHost(r hostmon.Reading) {
	c.hostUsage.WithLabelValues("cpu").Set(r.CPUPercent)
	c.hostUsage.WithLabelValues("memory").Set(r.MemoryPercent)
	c.hostUsage.WithLabelValues("disk_busy").Set(r.DiskBusyPercent)
	c.hostIO.WithLabelValues("disk", "read").Set(r.DiskReadBps)
	c.hostIO.WithLabelValues("disk", "write").Set(r.DiskWriteBps)
	c.hostIO.WithLabelValues("network", "sent").Set(r.NetSentBps)
	c.hostIO.WithLabelValues("network", "received").Set(r.NetRecvBps)
}

// Handler serves the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics for the lifetime of a run
type Server struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
}

// Serve starts listening on addr. Use ":0" for an ephemeral port.
func Serve(addr string, c *Collector) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	s := &Server{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		errCh:    make(chan error, 1),
	}

	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errCh <- err
	}()

	return s, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return <-s.errCh
}
