package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceivers(t *testing.T) {
	var c *Client
	var s *Server
	var sup *Supervisor

	assert.NotPanics(t, func() {
		c.ObserveIteration(ResultSuccess, time.Millisecond)
		c.RecordStaleResponse()
		c.SetPool(1, 1, 0)
		s.ConnOpened()
		s.ConnClosed()
		s.ConnRejected()
		s.IdleTimeout()
		s.Response("0800", "00")
		s.DecodeError()
		sup.SetRunning(2)
		sup.Crash(0)
		sup.Restart(0)
	})
}

func TestClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg)

	c.ObserveIteration(ResultSuccess, 2*time.Millisecond)
	c.ObserveIteration(ResultSuccess, 3*time.Millisecond)
	c.ObserveIteration(ResultExhausted, 0)
	c.ObserveIteration(ResultResponseTimeout, 5*time.Second)
	c.SetPool(4, 3, 1)

	expected := `
# HELP echotest_client_iterations_total Echo test iterations by outcome
# TYPE echotest_client_iterations_total counter
echotest_client_iterations_total{result="pool_exhausted"} 1
echotest_client_iterations_total{result="response_timeout"} 1
echotest_client_iterations_total{result="success"} 2
# HELP echotest_pool_connections Pooled connections by state
# TYPE echotest_pool_connections gauge
echotest_pool_connections{state="busy"} 1
echotest_pool_connections{state="connected"} 3
echotest_pool_connections{state="total"} 4
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"echotest_client_iterations_total", "echotest_pool_connections"))

	// Failed iterations are not part of the latency histogram.
	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "echotest_client_response_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestServer_ActiveConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(reg)

	s.ConnOpened()
	s.ConnOpened()
	s.ConnClosed()
	s.Response("", "96")

	expected := `
# HELP echotest_server_active_connections Currently open client connections
# TYPE echotest_server_active_connections gauge
echotest_server_active_connections 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "echotest_server_active_connections"))
}

func TestServer_ResponseLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(reg)

	s.Response("0800", "00")
	s.Response("", "96")
	s.Response("0200", "96")
	s.Response("1804", "96")

	expected := `
# HELP echotest_server_responses_total Responses written by request MTI and response code
# TYPE echotest_server_responses_total counter
echotest_server_responses_total{mti="0800",response_code="00"} 1
echotest_server_responses_total{mti="other",response_code="96"} 2
echotest_server_responses_total{mti="unknown",response_code="96"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "echotest_server_responses_total"))
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSupervisor(reg).SetRunning(3)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, nil) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, body, "echotest_supervisor_running_workers 3")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
