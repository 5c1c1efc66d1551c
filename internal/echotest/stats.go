package echotest

import (
	"sort"
)

// Stats holds aggregate statistics for an echo test
type Stats struct {
	TotalIterations int
	Completed       int
	SuccessCount    int
	ErrorCount      int
	Errors          map[string]int // error message -> occurrences
	Durations       []float64      // response times of successful iterations, for percentiles
	TotalDurationMs float64
	MinDurationMs   float64
	MaxDurationMs   float64
}

// NewStats creates a new Stats instance
func NewStats(totalIterations int) *Stats {
	return &Stats{
		TotalIterations: totalIterations,
		Errors:          make(map[string]int),
		Durations:       make([]float64, 0, totalIterations),
		MinDurationMs:   -1,
		MaxDurationMs:   -1,
	}
}

// AddResult adds an iteration result to the statistics. Response times only
// count towards latency figures when the iteration succeeded.
func (s *Stats) AddResult(r IterationResult) {
	s.Completed++
	if !r.Success {
		s.ErrorCount++
		s.Errors[r.Error]++
		return
	}

	s.SuccessCount++
	d := r.ResponseTimeMs
	s.TotalDurationMs += d
	s.Durations = append(s.Durations, d)

	if s.MinDurationMs == -1 || d < s.MinDurationMs {
		s.MinDurationMs = d
	}
	if s.MaxDurationMs == -1 || d > s.MaxDurationMs {
		s.MaxDurationMs = d
	}
}

// AvgDurationMs returns the average response time of successful iterations
func (s *Stats) AvgDurationMs() float64 {
	if s.SuccessCount == 0 {
		return 0
	}
	return s.TotalDurationMs / float64(s.SuccessCount)
}

// Min returns the minimum response time, or 0 if no results
func (s *Stats) Min() float64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum response time, or 0 if no results
func (s *Stats) Max() float64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) float64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]float64, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Float64s(sorted)

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// P50 returns the 50th percentile (median)
func (s *Stats) P50() float64 {
	return s.Percentile(50)
}

// P95 returns the 95th percentile
func (s *Stats) P95() float64 {
	return s.Percentile(95)
}

// P99 returns the 99th percentile
func (s *Stats) P99() float64 {
	return s.Percentile(99)
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.Completed) * 100
}

// ErrorRate returns the error rate as a percentage
func (s *Stats) ErrorRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Completed) * 100
}

// Progress returns the completion progress as a percentage
func (s *Stats) Progress() float64 {
	if s.TotalIterations == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.TotalIterations) * 100
}
