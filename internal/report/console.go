package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/studiowebux/echotest/internal/echotest"
)

// Console prints run summaries to a terminal.
type Console struct {
	out io.Writer
	// Verbose adds one line per iteration with the decoded response fields.
	Verbose bool
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Report implements Sink.
func (c *Console) Report(_ context.Context, r *echotest.Report) error {
	var b strings.Builder

	if c.Verbose {
		b.WriteString(renderIterations(r.Results))
		b.WriteString("\n")
	}
	b.WriteString(RenderSummary(r))

	_, err := io.WriteString(c.out, b.String()+"\n")
	return err
}

// RenderSummary formats the figures of a finished run.
func RenderSummary(r *echotest.Report) string {
	var b strings.Builder
	s := r.Stats

	b.WriteString(styleTitle.Render("Echo Test "+r.Config.Target) + "  " + statusLabel(r.Status) + "\n\n")

	b.WriteString(styleTitle.Render("Run") + "\n")
	b.WriteString(fmt.Sprintf("Started:      %s\n", r.StartedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("Duration:     %s\n", formatDuration(r.Duration())))
	b.WriteString(fmt.Sprintf("Workers:      %d\n", r.Config.Workers))
	b.WriteString(fmt.Sprintf("Pool size:    %d\n", r.Config.PoolSize))
	b.WriteString(fmt.Sprintf("Delay:        %s\n", r.Config.Delay))
	b.WriteString("\n")

	b.WriteString(styleTitle.Render("Iterations") + "\n")
	b.WriteString(fmt.Sprintf("Requested:    %d\n", s.TotalIterations))
	b.WriteString(fmt.Sprintf("Completed:    %d\n", s.Completed))
	b.WriteString(fmt.Sprintf("Success:      %s\n", styleSuccess.Render(fmt.Sprint(s.SuccessCount))))
	b.WriteString(fmt.Sprintf("Errors:       %s\n", styleError.Render(fmt.Sprint(s.ErrorCount))))
	if s.Completed > 0 {
		rate := s.SuccessRate()
		b.WriteString(fmt.Sprintf("Success Rate: %s\n", rateStyle(rate).Render(fmt.Sprintf("%.1f%%", rate))))
	}
	b.WriteString("\n")

	if s.SuccessCount > 0 {
		b.WriteString(styleTitle.Render("Response Time") + "\n")
		b.WriteString(fmt.Sprintf("Average:    %.2fms\n", s.AvgDurationMs()))
		b.WriteString(fmt.Sprintf("Min:        %.2fms\n", s.Min()))
		b.WriteString(fmt.Sprintf("Max:        %.2fms\n", s.Max()))
		b.WriteString(fmt.Sprintf("P50:        %.2fms\n", s.P50()))
		b.WriteString(fmt.Sprintf("P95:        %.2fms\n", s.P95()))
		b.WriteString(fmt.Sprintf("P99:        %.2fms\n", s.P99()))
		b.WriteString("\n")
	}

	if len(s.Errors) > 0 {
		b.WriteString(styleTitle.Render("Errors") + "\n")
		b.WriteString(renderErrorCounts(sortedErrors(s.Errors)))
		b.WriteString("\n")
	}

	b.WriteString(styleTitle.Render("Connection Pool") + "\n")
	b.WriteString(fmt.Sprintf("Connections:  %d total, %d connected, %d busy\n", r.Pool.Total, r.Pool.Connected, r.Pool.Busy))
	b.WriteString(fmt.Sprintf("Transactions: %d\n", r.Pool.Transactions))

	return styleBox.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderRun formats a stored run with its error breakdown.
func RenderRun(run *echotest.Run, errs []echotest.ErrorCount) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render(fmt.Sprintf("Run #%d %s", run.ID, run.Target)) + "  " + statusLabel(run.Status) + "\n\n")

	b.WriteString(styleTitle.Render("Status") + "\n")
	b.WriteString(fmt.Sprintf("Status:     %s\n", run.Status))
	b.WriteString(fmt.Sprintf("Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	if run.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("Completed:  %s\n", run.CompletedAt.Format("2006-01-02 15:04:05")))
		b.WriteString(fmt.Sprintf("Duration:   %s\n", formatDuration(run.CompletedAt.Sub(run.StartedAt))))
	}
	b.WriteString("\n")

	b.WriteString(styleTitle.Render("Configuration") + "\n")
	b.WriteString(fmt.Sprintf("Iterations:       %d\n", run.Iterations))
	b.WriteString(fmt.Sprintf("Workers:          %d\n", run.Workers))
	b.WriteString(fmt.Sprintf("Pool size:        %d\n", run.PoolSize))
	b.WriteString(fmt.Sprintf("Response timeout: %s\n", time.Duration(run.ResponseTimeoutMs)*time.Millisecond))
	b.WriteString(fmt.Sprintf("Delay:            %s\n", time.Duration(run.DelayMs)*time.Millisecond))
	b.WriteString("\n")

	b.WriteString(styleTitle.Render("Iterations") + "\n")
	b.WriteString(fmt.Sprintf("Completed:    %d\n", run.TotalCompleted))
	b.WriteString(fmt.Sprintf("Success:      %d\n", run.TotalSuccess))
	b.WriteString(fmt.Sprintf("Errors:       %d\n", run.TotalErrors))
	if run.TotalCompleted > 0 {
		rate := float64(run.TotalSuccess) / float64(run.TotalCompleted) * 100
		b.WriteString(fmt.Sprintf("Success Rate: %s\n", rateStyle(rate).Render(fmt.Sprintf("%.1f%%", rate))))
	}
	b.WriteString("\n")

	if run.TotalSuccess > 0 {
		b.WriteString(styleTitle.Render("Response Time") + "\n")
		b.WriteString(fmt.Sprintf("Average:    %.2fms\n", run.AvgResponseMs))
		b.WriteString(fmt.Sprintf("Min:        %.2fms\n", run.MinResponseMs))
		b.WriteString(fmt.Sprintf("Max:        %.2fms\n", run.MaxResponseMs))
		b.WriteString(fmt.Sprintf("P50:        %.2fms\n", run.P50ResponseMs))
		b.WriteString(fmt.Sprintf("P95:        %.2fms\n", run.P95ResponseMs))
		b.WriteString(fmt.Sprintf("P99:        %.2fms\n", run.P99ResponseMs))
		b.WriteString("\n")
	}

	if len(errs) > 0 {
		b.WriteString(styleTitle.Render("Errors") + "\n")
		b.WriteString(renderErrorCounts(errs))
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Pool transactions: %d", run.PoolTransactions))
	return b.String()
}

// RenderRunList formats one line per run.
func RenderRunList(runs []*echotest.Run) string {
	if len(runs) == 0 {
		return "No echo test runs found.\n\nRun 'echotest client' to start one."
	}

	var b strings.Builder
	for _, run := range runs {
		line := fmt.Sprintf("%-4s #%-4d %s  %s | %d/%d ok",
			statusLabel(run.Status),
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Target,
			run.TotalSuccess,
			run.TotalCompleted)
		if run.AvgResponseMs > 0 {
			line += fmt.Sprintf(" | %.1fms avg", run.AvgResponseMs)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderIterations(results []echotest.IterationResult) string {
	var b strings.Builder
	for _, r := range results {
		status := styleSuccess.Render("OK ")
		detail := fmt.Sprintf("%.2fms", r.ResponseTimeMs)
		if !r.Success {
			status = styleError.Render("ERR")
			detail = r.Error
		} else if code := r.ResponseFields["39"]; code != "" {
			detail += " rc=" + code
		}
		b.WriteString(fmt.Sprintf("%s #%-5d w%-3d c%-3d %s\n", status, r.Iteration, r.WorkerID, r.ConnectionID, detail))
	}
	return b.String()
}

// sortedErrors orders an error map by descending count, then message.
func sortedErrors(m map[string]int) []echotest.ErrorCount {
	out := make([]echotest.ErrorCount, 0, len(m))
	for msg, n := range m {
		out = append(out, echotest.ErrorCount{Message: msg, Count: n})
	}
	slices.SortFunc(out, func(a, b echotest.ErrorCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Message, b.Message)
	})
	return out
}

func renderErrorCounts(errs []echotest.ErrorCount) string {
	var b strings.Builder
	for _, e := range errs {
		b.WriteString(fmt.Sprintf("%6d  %s\n", e.Count, styleError.Render(e.Message)))
	}
	return b.String()
}
