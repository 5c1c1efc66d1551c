// Package metrics holds the Prometheus collectors for the echo test client,
// the responder and the process supervisor.
//
// Every recording method is safe to call on a nil receiver so components can
// run without metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "echotest"

// Client tracks iterations driven by the echo test orchestrator.
type Client struct {
	iterations      *prometheus.CounterVec
	responseLatency prometheus.Histogram
	staleResponses  prometheus.Counter
	poolConns       *prometheus.GaugeVec
}

// NewClient creates the client collectors and registers them with reg.
func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "iterations_total",
			Help:      "Echo test iterations by outcome",
		}, []string{"result"}),

		responseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "response_seconds",
			Help:      "Round trip time of successful echo tests",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because their trace number belonged to an earlier request",
		}),

		poolConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Pooled connections by state",
		}, []string{"state"}),
	}

	reg.MustRegister(c.iterations, c.responseLatency, c.staleResponses, c.poolConns)
	return c
}

// ObserveIteration records one finished iteration. Latency is only observed
// for successful round trips.
func (c *Client) ObserveIteration(result string, latency time.Duration) {
	if c == nil {
		return
	}
	c.iterations.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		c.responseLatency.Observe(latency.Seconds())
	}
}

// RecordStaleResponse counts a discarded late response.
func (c *Client) RecordStaleResponse() {
	if c == nil {
		return
	}
	c.staleResponses.Inc()
}

// SetPool publishes the current pool connection counts.
func (c *Client) SetPool(total, connected, busy int) {
	if c == nil {
		return
	}
	c.poolConns.WithLabelValues("total").Set(float64(total))
	c.poolConns.WithLabelValues("connected").Set(float64(connected))
	c.poolConns.WithLabelValues("busy").Set(float64(busy))
}

// Iteration outcomes used as the "result" label.
const (
	ResultSuccess         = "success"
	ResultExhausted       = "pool_exhausted"
	ResultResponseTimeout = "response_timeout"
	ResultTransport       = "transport_error"
	ResultDecode          = "decode_error"
	ResultEncode          = "encode_error"
	ResultDeclined        = "declined"
)

// Server tracks one responder process.
type Server struct {
	activeConns   prometheus.Gauge
	acceptedConns prometheus.Counter
	rejectedConns prometheus.Counter
	idleTimeouts  prometheus.Counter
	messages      *prometheus.CounterVec
	decodeErrors  prometheus.Counter
}

// NewServer creates the responder collectors and registers them with reg.
func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Currently open client connections",
		}),

		acceptedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "accepted_connections_total",
			Help:      "Connections accepted",
		}),

		rejectedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rejected_connections_total",
			Help:      "Connections closed because the connection limit was reached",
		}),

		idleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "idle_timeouts_total",
			Help:      "Connections closed after the idle timeout",
		}),

		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "responses_total",
			Help:      "Responses written by request MTI and response code",
		}, []string{"mti", "response_code"}),

		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that could not be decoded",
		}),
	}

	reg.MustRegister(s.activeConns, s.acceptedConns, s.rejectedConns, s.idleTimeouts, s.messages, s.decodeErrors)
	return s
}

// ConnOpened records an accepted connection.
func (s *Server) ConnOpened() {
	if s == nil {
		return
	}
	s.acceptedConns.Inc()
	s.activeConns.Inc()
}

// ConnClosed records the end of an accepted connection.
func (s *Server) ConnClosed() {
	if s == nil {
		return
	}
	s.activeConns.Dec()
}

// ConnRejected records a connection refused over the limit.
func (s *Server) ConnRejected() {
	if s == nil {
		return
	}
	s.rejectedConns.Inc()
}

// IdleTimeout records a connection dropped for inactivity.
func (s *Server) IdleTimeout() {
	if s == nil {
		return
	}
	s.idleTimeouts.Inc()
}

// Response records a written response. mti is the request MTI, empty when the
// request could not be decoded. Any MTI other than 0800 is labelled "other"
// so that clients cannot grow the label set.
func (s *Server) Response(mti, responseCode string) {
	if s == nil {
		return
	}
	switch mti {
	case "0800":
	case "":
		mti = "unknown"
	default:
		mti = "other"
	}
	s.messages.WithLabelValues(mti, responseCode).Inc()
}

// DecodeError records an undecodable inbound frame.
func (s *Server) DecodeError() {
	if s == nil {
		return
	}
	s.decodeErrors.Inc()
}

// Supervisor tracks worker process lifecycle in the coordinator.
type Supervisor struct {
	running  prometheus.Gauge
	restarts *prometheus.CounterVec
	crashes  *prometheus.CounterVec
}

// NewSupervisor creates the supervisor collectors and registers them with reg.
func NewSupervisor(reg prometheus.Registerer) *Supervisor {
	s := &Supervisor{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "running_workers",
			Help:      "Worker processes currently running",
		}),

		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Worker restarts by slot",
		}, []string{"slot"}),

		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "crashes_total",
			Help:      "Unrequested worker exits by slot",
		}, []string{"slot"}),
	}

	reg.MustRegister(s.running, s.restarts, s.crashes)
	return s
}

// SetRunning publishes the number of live workers.
func (s *Supervisor) SetRunning(n int) {
	if s == nil {
		return
	}
	s.running.Set(float64(n))
}

// Crash records an unrequested exit of the worker in slot.
func (s *Supervisor) Crash(slot int) {
	if s == nil {
		return
	}
	s.crashes.WithLabelValues(strconv.Itoa(slot)).Inc()
}

// Restart records a respawn of the worker in slot.
func (s *Supervisor) Restart(slot int) {
	if s == nil {
		return
	}
	s.restarts.WithLabelValues(strconv.Itoa(slot)).Inc()
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint available", zap.String("url", "http://"+ln.Addr().String()+"/metrics"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
