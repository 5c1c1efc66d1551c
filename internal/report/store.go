package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/studiowebux/echotest/internal/echotest"
)

// Store saves runs and their iteration results to the run history.
type Store struct {
	manager *echotest.Manager
	logger  *zap.Logger

	// RunID is the id of the last saved run.
	RunID int64
}

// NewStore creates a Store writing through manager.
func NewStore(manager *echotest.Manager, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{manager: manager, logger: logger}
}

// Report implements Sink.
func (s *Store) Report(_ context.Context, r *echotest.Report) error {
	run := echotest.NewRun(&r.Config, r.StartedAt)
	if err := s.manager.CreateRun(run); err != nil {
		return err
	}
	if err := s.manager.SaveResultsBatch(run.ID, r.Results); err != nil {
		run.Status = echotest.StatusFailed
		s.manager.UpdateRun(run)
		return fmt.Errorf("run %d: %w", run.ID, err)
	}

	run.Finish(r)
	if err := s.manager.UpdateRun(run); err != nil {
		return err
	}

	s.RunID = run.ID
	s.logger.Info("run saved", zap.Int64("run_id", run.ID), zap.Int("results", len(r.Results)))
	return nil
}
