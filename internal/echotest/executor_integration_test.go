package echotest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/studiowebux/echotest/internal/frame"
	"github.com/studiowebux/echotest/internal/iso8583"
	"github.com/studiowebux/echotest/internal/pool"
	"github.com/studiowebux/echotest/internal/responder"
)

// startResponder starts a real echo responder on a loopback port
func startResponder(t *testing.T) (string, int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := responder.Listen(ctx, "127.0.0.1:0", responder.ListenOptions{})
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	srv := responder.NewServer(responder.Options{})
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		<-srv.StopD()
	})
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// startRawServer runs handle for every accepted connection
func startRawServer(t *testing.T, handle func(c net.Conn)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// echoOnce reads one request frame and writes back its approved response
func echoOnce(r *frame.Reader, w *frame.Writer, delay time.Duration) error {
	body, err := r.ReadFrame()
	if err != nil {
		return err
	}
	req, err := iso8583.Decode(string(body))
	if err != nil {
		return err
	}
	time.Sleep(delay)
	out, err := iso8583.Encode(responder.BuildResponse(req))
	if err != nil {
		return err
	}
	return w.WriteFrame([]byte(out))
}

func dialPool(t *testing.T, host string, port, size int) *pool.Pool {
	t.Helper()
	p, err := pool.Dial(context.Background(), pool.Options{Host: host, Port: port, Size: size, ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Failed to dial pool: %v", err)
	}
	t.Cleanup(func() { p.CloseAll() })
	return p
}

// sequentialSTAN returns 000001, 000002, ...
func sequentialSTAN() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%06d", n.Add(1))
	}
}

// TestExecutor_BasicExecution tests a full run against the responder
func TestExecutor_BasicExecution(t *testing.T) {
	host, port := startResponder(t)
	p := dialPool(t, host, port, 3)

	config := &Config{Iterations: 30, Workers: 3, ResponseTimeout: 2 * time.Second}
	executor, err := NewExecutor(config, p, WithSTANSource(sequentialSTAN()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if report.Status != StatusCompleted {
		t.Errorf("Expected status completed, got: %s", report.Status)
	}
	if len(report.Results) != 30 {
		t.Fatalf("Expected 30 results, got: %d", len(report.Results))
	}
	if report.Stats.SuccessCount != 30 {
		t.Errorf("Expected 30 successes, got: %d", report.Stats.SuccessCount)
	}
	if report.Pool.Transactions != 30 {
		t.Errorf("Expected 30 pool transactions, got: %d", report.Pool.Transactions)
	}
	if executor.Completed() != 30 || executor.ActiveWorkers() != 0 {
		t.Errorf("Expected 30 completed and no active workers, got: %d and %d", executor.Completed(), executor.ActiveWorkers())
	}

	for i, r := range report.Results {
		if r.Iteration != i+1 {
			t.Fatalf("Expected results ordered by iteration, position %d has %d", i, r.Iteration)
		}
		if r.ConnectionID < 1 || r.ConnectionID > 3 {
			t.Errorf("Iteration %d: unexpected connection id %d", r.Iteration, r.ConnectionID)
		}
		if r.ResponseFields["MTI"] != "0810" || r.ResponseFields["39"] != "00" || r.ResponseFields["70"] != "301" {
			t.Errorf("Iteration %d: unexpected response %v", r.Iteration, r.ResponseFields)
		}
		if r.ResponseFields["11"] != r.RequestFields["11"] {
			t.Errorf("Iteration %d: response STAN %s does not match request %s", r.Iteration, r.ResponseFields["11"], r.RequestFields["11"])
		}
		if r.RequestFields["37"] != DefaultRRNPrefix+r.RequestFields["11"] {
			t.Errorf("Iteration %d: unexpected RRN %s", r.Iteration, r.RequestFields["37"])
		}
		if r.EndTime.Before(r.StartTime) || r.ResponseTimeMs < 0 {
			t.Errorf("Iteration %d: invalid timing", r.Iteration)
		}
	}

	// Each worker runs its own contiguous block
	for _, r := range report.Results {
		want := (r.Iteration-1)/10 + 1
		if r.WorkerID != want {
			t.Errorf("Iteration %d ran on worker %d, expected %d", r.Iteration, r.WorkerID, want)
		}
	}
}

// TestExecutor_PoolExhaustion tests that a worker finding no free connection records a failure at once
func TestExecutor_PoolExhaustion(t *testing.T) {
	host, port := startRawServer(t, func(c net.Conn) {
		r, w := frame.NewReader(c), frame.NewWriter(c)
		for echoOnce(r, w, 200*time.Millisecond) == nil {
		}
	})
	p := dialPool(t, host, port, 1)

	config := &Config{Iterations: 2, Workers: 2, ResponseTimeout: 2 * time.Second}
	executor, err := NewExecutor(config, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var success, exhausted int
	for _, r := range report.Results {
		switch {
		case r.Success:
			success++
		case r.Error == pool.ErrExhausted.Error():
			exhausted++
			if r.ConnectionID != 0 {
				t.Errorf("Expected connection id 0 for exhausted iteration, got: %d", r.ConnectionID)
			}
			if r.RequestMessage != "" {
				t.Errorf("Expected no request for exhausted iteration, got: %s", r.RequestMessage)
			}
		default:
			t.Errorf("Unexpected failure: %s", r.Error)
		}
	}
	if success != 1 || exhausted != 1 {
		t.Errorf("Expected 1 success and 1 exhaustion, got: %d and %d", success, exhausted)
	}
	if report.Stats.Errors["no connection available"] != 1 {
		t.Errorf("Expected exhaustion in error breakdown, got: %v", report.Stats.Errors)
	}
}

// TestExecutor_ResponseTimeout tests that a silent peer produces a timeout and keeps the connection
func TestExecutor_ResponseTimeout(t *testing.T) {
	host, port := startRawServer(t, func(c net.Conn) {
		r := frame.NewReader(c)
		for {
			if _, err := r.ReadFrame(); err != nil {
				return
			}
		}
	})
	p := dialPool(t, host, port, 1)

	config := &Config{Iterations: 2, Workers: 1, ResponseTimeout: 50 * time.Millisecond}
	executor, err := NewExecutor(config, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	start := time.Now()
	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Run took too long: %v", time.Since(start))
	}

	for _, r := range report.Results {
		if r.Success {
			t.Errorf("Iteration %d: expected failure", r.Iteration)
		}
		if r.Error != ErrResponseTimeout.Error() {
			t.Errorf("Iteration %d: expected response timeout, got: %s", r.Iteration, r.Error)
		}
		if r.ConnectionID != 1 {
			t.Errorf("Iteration %d: expected connection 1, got: %d", r.Iteration, r.ConnectionID)
		}
	}

	stats := p.Stats()
	if stats.Connected != 1 || stats.Busy != 0 {
		t.Errorf("Expected connection kept and released, got: %+v", stats)
	}
}

// TestExecutor_DiscardsStaleResponse tests that a late answer to a timed out request is not taken as the current one
func TestExecutor_DiscardsStaleResponse(t *testing.T) {
	host, port := startRawServer(t, func(c net.Conn) {
		r, w := frame.NewReader(c), frame.NewWriter(c)
		// Answer the first request after the client gave up on it
		if echoOnce(r, w, 300*time.Millisecond) != nil {
			return
		}
		for echoOnce(r, w, 0) == nil {
		}
	})
	p := dialPool(t, host, port, 1)

	config := &Config{Iterations: 2, Workers: 1, ResponseTimeout: 200 * time.Millisecond}
	executor, err := NewExecutor(config, p, WithSTANSource(sequentialSTAN()))
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	first, second := report.Results[0], report.Results[1]
	if first.Success || first.Error != ErrResponseTimeout.Error() {
		t.Fatalf("Expected iteration 1 to time out, got: %+v", first)
	}
	if !second.Success {
		t.Fatalf("Expected iteration 2 to succeed, got: %s", second.Error)
	}
	if second.ResponseFields["11"] != "000002" {
		t.Errorf("Expected the stale 000001 answer to be dropped, got STAN %s", second.ResponseFields["11"])
	}
}

// TestExecutor_ErrorResponseIsDeclined tests that a 96 answer without a trace number fails the iteration
func TestExecutor_ErrorResponseIsDeclined(t *testing.T) {
	host, port := startRawServer(t, func(c net.Conn) {
		r, w := frame.NewReader(c), frame.NewWriter(c)
		out, err := iso8583.Encode(responder.ErrorResponse())
		if err != nil {
			return
		}
		for {
			if _, err := r.ReadFrame(); err != nil {
				return
			}
			if err := w.WriteFrame([]byte(out)); err != nil {
				return
			}
		}
	})
	p := dialPool(t, host, port, 1)

	config := &Config{Iterations: 2, Workers: 1, ResponseTimeout: time.Second}
	executor, err := NewExecutor(config, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Stats.SuccessCount != 0 || report.Stats.ErrorCount != 2 {
		t.Errorf("Expected 0 successes and 2 errors, got: %d/%d", report.Stats.SuccessCount, report.Stats.ErrorCount)
	}
	for _, res := range report.Results {
		if res.Success {
			t.Errorf("Expected iteration %d to fail", res.Iteration)
		}
		if !strings.Contains(res.Error, ErrDeclined.Error()) || !strings.Contains(res.Error, "96") {
			t.Errorf("Expected a declined error with code 96, got: %s", res.Error)
		}
		if res.ResponseFields["39"] != "96" {
			t.Errorf("Expected response code 96 kept for diagnosis, got: %q", res.ResponseFields["39"])
		}
	}

	stats := p.Stats()
	if stats.Connected != 1 {
		t.Errorf("Expected the connection to stay usable, got: %+v", stats)
	}
}

// TestExecutor_TransportError tests that a dropped connection is taken out of rotation
func TestExecutor_TransportError(t *testing.T) {
	host, port := startRawServer(t, func(c net.Conn) {
		// Close as soon as the first request arrives
		frame.NewReader(c).ReadFrame()
	})
	p := dialPool(t, host, port, 1)

	config := &Config{Iterations: 2, Workers: 1, ResponseTimeout: time.Second}
	executor, err := NewExecutor(config, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	report, err := executor.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	first, second := report.Results[0], report.Results[1]
	if first.Success || !strings.Contains(first.Error, pool.ErrTransport.Error()) {
		t.Errorf("Expected transport error on iteration 1, got: %+v", first)
	}
	if second.Success || second.Error != pool.ErrExhausted.Error() {
		t.Errorf("Expected exhaustion on iteration 2, got: %+v", second)
	}
	if p.Stats().Connected != 0 {
		t.Errorf("Expected no connected connections, got: %d", p.Stats().Connected)
	}
}

// TestExecutor_Cancellation tests that workers stop at the next iteration boundary
func TestExecutor_Cancellation(t *testing.T) {
	host, port := startResponder(t)
	p := dialPool(t, host, port, 2)

	config := &Config{Iterations: 100, Workers: 2, Delay: 20 * time.Millisecond}
	executor, err := NewExecutor(config, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := executor.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
	if report.Status != StatusCancelled {
		t.Errorf("Expected status cancelled, got: %s", report.Status)
	}
	if len(report.Results) == 0 || len(report.Results) >= 100 {
		t.Fatalf("Expected a partial run, got %d results", len(report.Results))
	}
	for i := 1; i < len(report.Results); i++ {
		if report.Results[i].Iteration <= report.Results[i-1].Iteration {
			t.Fatalf("Results not ordered at position %d", i)
		}
	}
	for _, r := range report.Results {
		if !r.Success {
			t.Errorf("Iteration %d: in-flight iterations must finish, got: %s", r.Iteration, r.Error)
		}
	}
}

// TestExecutor_CancelledBeforeStart tests that a cancelled context yields no iterations
func TestExecutor_CancelledBeforeStart(t *testing.T) {
	host, port := startResponder(t)
	p := dialPool(t, host, port, 1)

	executor, err := NewExecutor(&Config{Iterations: 5, Workers: 1}, p)
	if err != nil {
		t.Fatalf("Failed to create executor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := executor.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context canceled, got: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("Expected no results, got: %d", len(report.Results))
	}
}

// TestNewExecutor_InvalidConfig tests that configuration errors are reported
func TestNewExecutor_InvalidConfig(t *testing.T) {
	if _, err := NewExecutor(&Config{Iterations: 0, Workers: 1}, nil); err == nil {
		t.Error("Expected error for zero iterations")
	}
	if _, err := NewExecutor(&Config{Iterations: 1, Workers: 1}, nil); err == nil {
		t.Error("Expected error for missing pool")
	}
}

// TestManager_RunLifecycle tests persisting a run and its results
func TestManager_RunLifecycle(t *testing.T) {
	manager, err := NewManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test manager: %v", err)
	}
	defer manager.Close()

	config := &Config{Target: "127.0.0.1:9000", Iterations: 3, Workers: 1, PoolSize: 1}
	started := time.Now().Add(-time.Second)
	run := NewRun(config, started)
	if err := manager.CreateRun(run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("Expected run id to be set")
	}

	results := []IterationResult{
		{Iteration: 1, WorkerID: 1, ConnectionID: 1, StartTime: started, EndTime: started, ResponseTimeMs: 1.5, Success: true,
			RequestMessage: "req", ResponseMessage: "resp", ResponseFields: map[string]string{"39": "00"}},
		{Iteration: 2, WorkerID: 1, StartTime: started, EndTime: started, Error: "no connection available"},
		{Iteration: 3, WorkerID: 1, ConnectionID: 1, StartTime: started, EndTime: started, Error: "response timeout"},
	}
	if err := manager.SaveResultsBatch(run.ID, results); err != nil {
		t.Fatalf("Failed to save results: %v", err)
	}

	stats := NewStats(3)
	for _, r := range results {
		stats.AddResult(r)
	}
	run.Finish(&Report{Status: StatusCompleted, CompletedAt: time.Now(), Stats: stats, Pool: pool.Stats{Transactions: 1}})
	if err := manager.UpdateRun(run); err != nil {
		t.Fatalf("Failed to update run: %v", err)
	}

	got, err := manager.GetRun(run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != StatusCompleted || got.TotalSuccess != 1 || got.TotalErrors != 2 || got.CompletedAt == nil {
		t.Errorf("Unexpected run record: %+v", got)
	}
	if got.AvgResponseMs != 1.5 || got.PoolTransactions != 1 || got.Target != "127.0.0.1:9000" {
		t.Errorf("Unexpected run figures: %+v", got)
	}

	stored, err := manager.GetResults(run.ID)
	if err != nil {
		t.Fatalf("Failed to get results: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("Expected 3 results, got: %d", len(stored))
	}
	if !stored[0].Success || stored[0].ResponseCode != "00" || stored[0].RequestMessage != "req" {
		t.Errorf("Unexpected first result: %+v", stored[0])
	}
	if stored[1].Success || stored[1].ErrorMessage != "no connection available" || stored[1].ConnectionID != 0 {
		t.Errorf("Unexpected second result: %+v", stored[1])
	}

	breakdown, err := manager.ErrorBreakdown(run.ID)
	if err != nil {
		t.Fatalf("Failed to get error breakdown: %v", err)
	}
	if len(breakdown) != 2 {
		t.Errorf("Expected 2 error kinds, got: %v", breakdown)
	}

	second := NewRun(config, time.Now())
	if err := manager.CreateRun(second); err != nil {
		t.Fatalf("Failed to create second run: %v", err)
	}
	runs, err := manager.ListRuns(10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID || !runs[0].IsRunning() || !runs[1].IsCompleted() {
		t.Errorf("Expected newest run first, got: %+v", runs)
	}

	if err := manager.DeleteRun(run.ID); err != nil {
		t.Fatalf("Failed to delete run: %v", err)
	}
	if _, err := manager.GetRun(run.ID); err == nil {
		t.Error("Expected error for deleted run")
	}
	stored, err = manager.GetResults(run.ID)
	if err != nil {
		t.Fatalf("Failed to get results: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected results to be deleted, got: %d", len(stored))
	}
}
