// Package report hands finished echo test runs to their consumers: the
// terminal summary and the run history database.
package report

import (
	"context"
	"errors"

	"github.com/studiowebux/echotest/internal/echotest"
)

// Sink consumes the report of a finished run.
type Sink interface {
	Report(ctx context.Context, r *echotest.Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *echotest.Report) error

func (f SinkFunc) Report(ctx context.Context, r *echotest.Report) error {
	return f(ctx, r)
}

// Multi returns a Sink that feeds every sink in order. All sinks run even
// when one fails; the errors are joined.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, r *echotest.Report) error {
		var errs []error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Report(ctx, r); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
