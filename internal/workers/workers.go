// Package workers sizes the bounded worker pools used inside library
// operations.
package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//
// The limit parameter caps the worker count; use 0 for no limit.
// Can be overridden with the WORKERS environment variable.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv("WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	available := runtime.GOMAXPROCS(0)
	count := int(float64(available) * multiplier)

	if count < 1 {
		count = 1
	}
	if limit > 0 && count > limit {
		count = limit
	}

	return count
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForStorage picks the pool size for file operations on the library
// volume. Network-attached storage degrades under parallel reads, so
// serial mode forces a single worker regardless of CPU count.
// configured > 0 is an explicit override.
func ForStorage(configured int, networkStorage bool) int {
	if networkStorage {
		return 1
	}
	if configured > 0 {
		return configured
	}
	return ForIO(8)
}
