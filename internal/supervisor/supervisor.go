// Package supervisor keeps a fixed number of server worker processes alive.
//
// Each worker occupies a slot 0..Workers-1. When a worker exits while the
// supervisor is running, its slot's crash count is incremented and the
// worker is relaunched into the same slot. A slot whose crash count exceeds
// MaxCrashes is abandoned. Crash counts are keyed by slot, not by process
// id, so the cap holds across restarts and is never reset.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/metrics"
)

const (
	DefaultMaxCrashes   = 5
	DefaultRestartDelay = 100 * time.Millisecond
	DefaultStopTimeout  = 10 * time.Second
)

// ErrAllWorkersFailed is returned by Run when every slot has been abandoned.
var ErrAllWorkersFailed = errors.New("all worker slots exceeded the crash limit")

// Process is a running worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits.
	Wait() error
}

// Launcher starts the worker for a slot.
type Launcher interface {
	Launch(ctx context.Context, slot int) (Process, error)
}

// Options configures a Supervisor.
type Options struct {
	Workers      int
	MaxCrashes   int
	RestartDelay time.Duration
	// StopTimeout bounds how long stopped workers get to exit before they
	// are killed.
	StopTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Supervisor
}

type exit struct {
	slot int
	pid  int
	err  error
}

// Supervisor launches one worker per slot and restarts them on exit.
type Supervisor struct {
	launcher Launcher
	opts     Options
	logger   *zap.Logger

	mu        sync.Mutex
	crashes   map[int]int
	running   map[int]Process
	abandoned map[int]bool

	stopD syncx.DoneChan
}

// New creates a Supervisor. Zero options take their defaults; Workers must
// be at least 1.
func New(launcher Launcher, opts Options) (*Supervisor, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", opts.Workers)
	}
	if opts.MaxCrashes <= 0 {
		opts.MaxCrashes = DefaultMaxCrashes
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Supervisor{
		launcher:  launcher,
		opts:      opts,
		logger:    opts.Logger,
		crashes:   make(map[int]int),
		running:   make(map[int]Process),
		abandoned: make(map[int]bool),
		stopD:     syncx.NewDoneChan(),
	}, nil
}

// StopD is signaled once Run has returned and every worker has exited.
func (s *Supervisor) StopD() syncx.DoneChanR {
	return s.stopD.R()
}

// Crashes returns the crash count recorded for slot.
func (s *Supervisor) Crashes(slot int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashes[slot]
}

// Running returns the number of live workers.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Run launches every slot and supervises the workers until ctx is done, at
// which point the workers are asked to stop and Run waits for them. Run
// fails if a worker cannot be launched initially or if every slot gets
// abandoned.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.stopD.SetDone()

	exits := make(chan exit, s.opts.Workers)
	restarts := make(chan int, s.opts.Workers)

	for slot := 0; slot < s.opts.Workers; slot++ {
		if err := s.launch(ctx, slot, exits); err != nil {
			s.stopAll(exits)
			return fmt.Errorf("failed to start worker %d: %w", slot, err)
		}
	}
	s.logger.Info("workers started", zap.Int("workers", s.opts.Workers))

	// Restart timers still pending when Run returns must not block.
	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping workers", zap.Int("running", s.Running()))
			s.stopAll(exits)
			return nil

		case e := <-exits:
			s.forget(e.slot)
			if ctx.Err() != nil {
				continue
			}

			crashes := s.recordCrash(e)
			if crashes > s.opts.MaxCrashes {
				s.logger.Error("worker exceeded crash limit, not restarting",
					zap.Int("slot", e.slot),
					zap.Int("crashes", crashes),
					zap.Int("max_crashes", s.opts.MaxCrashes))
				if s.allAbandoned() {
					return ErrAllWorkersFailed
				}
				continue
			}

			pending.Add(1)
			go func(slot int) {
				defer pending.Done()
				select {
				case <-time.After(s.opts.RestartDelay):
					restarts <- slot
				case <-ctx.Done():
				}
			}(e.slot)

		case slot := <-restarts:
			if ctx.Err() != nil {
				continue
			}
			if err := s.launch(ctx, slot, exits); err != nil {
				s.logger.Error("failed to restart worker", zap.Int("slot", slot), zap.Error(err))
				// A failed launch counts against the slot like a crash.
				go func() { exits <- exit{slot: slot, err: err} }()
				continue
			}
			s.opts.Metrics.Restart(slot)
		}
	}
}

func (s *Supervisor) launch(ctx context.Context, slot int, exits chan<- exit) error {
	proc, err := s.launcher.Launch(ctx, slot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.running[slot] = proc
	n := len(s.running)
	s.mu.Unlock()
	s.opts.Metrics.SetRunning(n)

	s.logger.Info("worker started", zap.Int("slot", slot), zap.Int("pid", proc.Pid()))

	go func() {
		err := proc.Wait()
		exits <- exit{slot: slot, pid: proc.Pid(), err: err}
	}()
	return nil
}

func (s *Supervisor) forget(slot int) {
	s.mu.Lock()
	delete(s.running, slot)
	n := len(s.running)
	s.mu.Unlock()
	s.opts.Metrics.SetRunning(n)
}

func (s *Supervisor) recordCrash(e exit) int {
	s.mu.Lock()
	s.crashes[e.slot]++
	crashes := s.crashes[e.slot]
	if crashes > s.opts.MaxCrashes {
		s.abandoned[e.slot] = true
	}
	s.mu.Unlock()

	s.opts.Metrics.Crash(e.slot)
	s.logger.Warn("worker exited",
		zap.Int("slot", e.slot),
		zap.Int("pid", e.pid),
		zap.Int("crashes", crashes),
		zap.Error(e.err))
	return crashes
}

func (s *Supervisor) allAbandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.abandoned) == s.opts.Workers
}

// stopAll sends SIGTERM to every live worker and waits for them to exit,
// killing those still alive after StopTimeout.
func (s *Supervisor) stopAll(exits <-chan exit) {
	s.mu.Lock()
	procs := make(map[int]Process, len(s.running))
	for slot, proc := range s.running {
		procs[slot] = proc
	}
	s.mu.Unlock()

	for slot, proc := range procs {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("failed to signal worker, killing", zap.Int("slot", slot), zap.Error(err))
			proc.Kill()
		}
	}

	timeout := time.NewTimer(s.opts.StopTimeout)
	defer timeout.Stop()
	for s.Running() > 0 {
		select {
		case e := <-exits:
			s.forget(e.slot)
			s.logger.Info("worker stopped", zap.Int("slot", e.slot), zap.Int("pid", e.pid))
		case <-timeout.C:
			s.mu.Lock()
			for slot, proc := range s.running {
				s.logger.Warn("worker did not stop in time, killing", zap.Int("slot", slot), zap.Int("pid", proc.Pid()))
				proc.Kill()
			}
			s.mu.Unlock()
			timeout.Reset(s.opts.StopTimeout)
		}
	}
}
