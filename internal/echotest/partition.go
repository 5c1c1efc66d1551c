package echotest

// Range is the contiguous, 1-based, inclusive block of iterations one worker
// runs in order.
type Range struct {
	Worker int
	First  int
	Last   int
}

// Len returns the number of iterations in r.
func (r Range) Len() int {
	return r.Last - r.First + 1
}

// Partition splits iterations into ceil(iterations/workers) sized blocks, the
// last possibly shorter. Workers that would get an empty block are left out,
// so fewer than workers ranges come back when iterations < workers or the
// division leaves the tail short.
func Partition(iterations, workers int) []Range {
	if iterations <= 0 || workers <= 0 {
		return nil
	}

	chunk := (iterations + workers - 1) / workers
	ranges := make([]Range, 0, workers)
	for w := 0; w < workers; w++ {
		first := w*chunk + 1
		if first > iterations {
			break
		}
		last := min(first+chunk-1, iterations)
		ranges = append(ranges, Range{Worker: w + 1, First: first, Last: last})
	}
	return ranges
}
