package echotest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/echotest/internal/frame"
	"github.com/studiowebux/echotest/internal/iso8583"
	"github.com/studiowebux/echotest/internal/metrics"
	"github.com/studiowebux/echotest/internal/pool"
)

// ErrResponseTimeout reports an iteration whose response did not arrive in time.
var ErrResponseTimeout = pool.ErrResponseTimeout

// ErrDeclined is returned for a response without field 11. The responder
// sends one when it could not read the request.
var ErrDeclined = errors.New("response declined")

// ConnPool is the part of the connection pool the executor borrows from.
type ConnPool interface {
	Acquire(task pool.Task) (*pool.Conn, error)
	Release(id int)
	MarkDisconnected(id int, cause error)
	Stats() pool.Stats
}

// IterationResult is the outcome of one iteration attempt. ConnectionID is 0
// when no connection could be acquired.
type IterationResult struct {
	Iteration       int
	WorkerID        int
	ConnectionID    int
	StartTime       time.Time
	EndTime         time.Time
	ResponseTimeMs  float64
	Success         bool
	Error           string
	RequestMessage  string
	RequestFields   map[string]string
	ResponseMessage string
	ResponseFields  map[string]string
}

// Report is handed to the reporting sinks once a run ends.
type Report struct {
	Config      Config
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
	Results     []IterationResult // ordered by iteration
	Stats       *Stats
	Pool        pool.Stats
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-iteration events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics sets the Prometheus collectors updated during the run.
func WithMetrics(m *metrics.Client) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithClock overrides the clock used for field 7.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithSTANSource overrides the trace number generator.
func WithSTANSource(stan func() string) Option {
	return func(e *Executor) { e.stan = stan }
}

// Executor drives the echo test: each worker runs its block of iterations in
// order while workers run concurrently with each other.
type Executor struct {
	config  *Config
	pool    ConnPool
	logger  *zap.Logger
	metrics *metrics.Client
	now     func() time.Time
	stan    func() string

	activeWorkers atomic.Int32
	completed     atomic.Int64
}

// NewExecutor creates a new echo test executor
func NewExecutor(config *Config, p ConnPool, opts ...Option) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	e := &Executor{
		config: config,
		pool:   p,
		logger: zap.NewNop(),
		now:    time.Now,
		stan:   RandomSTAN,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// ActiveWorkers returns the number of workers still running.
func (e *Executor) ActiveWorkers() int {
	return int(e.activeWorkers.Load())
}

// Completed returns the number of iterations recorded so far.
func (e *Executor) Completed() int {
	return int(e.completed.Load())
}

// Run executes every iteration and returns the ordered results. Cancelling
// ctx stops each worker at its next iteration boundary; an iteration already
// in flight finishes normally.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Config:    *e.config,
		StartedAt: time.Now(),
	}

	ranges := Partition(e.config.Iterations, e.config.Workers)
	perWorker := make([][]IterationResult, len(ranges))

	e.logger.Info("echo test started",
		zap.Int("iterations", e.config.Iterations),
		zap.Int("workers", len(ranges)),
		zap.Duration("response_timeout", e.config.GetResponseTimeout()),
		zap.Duration("delay", e.config.Delay))

	var g errgroup.Group
	for i, r := range ranges {
		e.activeWorkers.Add(1)
		g.Go(func() error {
			defer e.activeWorkers.Add(-1)
			perWorker[i] = e.worker(ctx, r)
			return nil
		})
	}
	g.Wait()

	results := slices.Concat(perWorker...)
	slices.SortStableFunc(results, func(a, b IterationResult) int {
		return a.Iteration - b.Iteration
	})

	stats := NewStats(e.config.Iterations)
	for _, r := range results {
		stats.AddResult(r)
	}

	report.Results = results
	report.Stats = stats
	report.Pool = e.pool.Stats()
	report.CompletedAt = time.Now()
	report.Status = StatusCompleted
	if len(results) < e.config.Iterations {
		report.Status = StatusCancelled
	}

	e.logger.Info("echo test finished",
		zap.String("status", report.Status),
		zap.Int("completed", stats.Completed),
		zap.Int("success", stats.SuccessCount),
		zap.Int("errors", stats.ErrorCount),
		zap.Duration("elapsed", report.Duration()))

	if report.Status == StatusCancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// worker runs one range sequentially.
func (e *Executor) worker(ctx context.Context, r Range) []IterationResult {
	results := make([]IterationResult, 0, r.Len())
	for it := r.First; it <= r.Last; it++ {
		if ctx.Err() != nil {
			e.logger.Info("worker stopped", zap.Int("worker_id", r.Worker), zap.Int("next_iteration", it))
			return results
		}

		results = append(results, e.runIteration(r.Worker, it))
		e.completed.Add(1)

		if it < r.Last && e.config.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.config.Delay):
			}
		}
	}
	return results
}

// runIteration performs one acquire/send/await/release cycle.
func (e *Executor) runIteration(workerID, iteration int) IterationResult {
	res := IterationResult{
		Iteration: iteration,
		WorkerID:  workerID,
		StartTime: time.Now(),
	}

	conn, err := e.pool.Acquire(pool.Task{Worker: workerID, Iteration: iteration})
	if err != nil {
		return e.fail(res, err, metrics.ResultExhausted)
	}
	res.ConnectionID = conn.ID
	defer func() {
		e.pool.Release(conn.ID)
		e.publishPool()
	}()
	e.publishPool()

	req := NewEchoRequest(e.now(), e.stan(), e.config.GetRRNPrefix())
	body, err := iso8583.Encode(req)
	if err != nil {
		return e.fail(res, err, metrics.ResultEncode)
	}
	res.RequestMessage = body
	res.RequestFields = req.FieldMap()

	deadline := time.Now().Add(e.config.GetResponseTimeout())
	if err := conn.Send([]byte(body), deadline); err != nil {
		e.pool.MarkDisconnected(conn.ID, err)
		return e.fail(res, err, metrics.ResultTransport)
	}
	e.logger.Debug("frame sent",
		zap.Int("worker_id", workerID),
		zap.Int("iteration", iteration),
		zap.Int("conn_id", conn.ID),
		zap.String("stan", req.STAN),
		zap.String("body", body))

	raw, resp, err := e.awaitResponse(conn, req.STAN, deadline)
	switch {
	case err == nil:
	case errors.Is(err, pool.ErrResponseTimeout):
		return e.fail(res, err, metrics.ResultResponseTimeout)
	case errors.Is(err, iso8583.ErrDecoding):
		res.ResponseMessage = raw
		return e.fail(res, err, metrics.ResultDecode)
	default:
		// Transport failure, or a framing error after which the stream cannot resync.
		e.pool.MarkDisconnected(conn.ID, err)
		if errors.Is(err, frame.ErrFraming) {
			return e.fail(res, err, metrics.ResultDecode)
		}
		return e.fail(res, err, metrics.ResultTransport)
	}

	conn.Complete()
	if resp.STAN == "" {
		res.ResponseMessage = raw
		res.ResponseFields = resp.FieldMap()
		return e.fail(res, fmt.Errorf("%w: code %q", ErrDeclined, resp.ResponseCode), metrics.ResultDeclined)
	}
	res.EndTime = time.Now()
	res.ResponseTimeMs = durationMs(res.EndTime.Sub(res.StartTime))
	res.Success = true
	res.ResponseMessage = raw
	res.ResponseFields = resp.FieldMap()

	e.logger.Debug("frame received",
		zap.Int("worker_id", workerID),
		zap.Int("iteration", iteration),
		zap.Int("conn_id", conn.ID),
		zap.String("mti", resp.MTI),
		zap.String("response_code", resp.ResponseCode),
		zap.Float64("response_ms", res.ResponseTimeMs))
	e.metrics.ObserveIteration(metrics.ResultSuccess, res.EndTime.Sub(res.StartTime))
	return res
}

// awaitResponse reads frames until one answers stan or carries no trace
// number at all. Responses carrying a different trace number arrived after an
// earlier iteration on this connection timed out and are dropped.
func (e *Executor) awaitResponse(conn *pool.Conn, stan string, deadline time.Time) (string, iso8583.Message, error) {
	for {
		body, err := conn.Receive(deadline)
		if err != nil {
			return "", iso8583.Message{}, err
		}
		raw := string(body)

		msg, err := iso8583.Decode(raw)
		if err != nil {
			e.logger.Error("failed to decode response", zap.Int("conn_id", conn.ID), zap.String("body", raw), zap.Error(err))
			return raw, iso8583.Message{}, err
		}
		if msg.STAN != "" && msg.STAN != stan {
			e.logger.Debug("discarding stale response",
				zap.Int("conn_id", conn.ID),
				zap.String("expected_stan", stan),
				zap.String("stan", msg.STAN))
			e.metrics.RecordStaleResponse()
			continue
		}
		return raw, msg, nil
	}
}

func (e *Executor) fail(res IterationResult, err error, result string) IterationResult {
	res.EndTime = time.Now()
	res.ResponseTimeMs = durationMs(res.EndTime.Sub(res.StartTime))
	res.Success = false
	res.Error = err.Error()

	if errors.Is(err, pool.ErrExhausted) {
		e.logger.Debug("iteration failed",
			zap.Int("worker_id", res.WorkerID),
			zap.Int("iteration", res.Iteration),
			zap.Error(err))
	} else {
		e.logger.Error("iteration failed",
			zap.Int("worker_id", res.WorkerID),
			zap.Int("iteration", res.Iteration),
			zap.Int("conn_id", res.ConnectionID),
			zap.Error(err))
	}
	e.metrics.ObserveIteration(result, 0)
	return res
}

func (e *Executor) publishPool() {
	s := e.pool.Stats()
	e.metrics.SetPool(s.Total, s.Connected, s.Busy)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
