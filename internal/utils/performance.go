package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultSlowThreshold is the duration above which OperationTimer warns
const DefaultSlowThreshold = 5 * time.Second

// OperationTimer provides a defer-friendly way to measure operation duration.
// The returned function logs at Debug, or at Warn when the operation took
// longer than threshold (DefaultSlowThreshold when zero).
//
// Usage:
//
//	defer utils.OperationTimer("list_trades", 0, log)()
func OperationTimer(operation string, threshold time.Duration, log zerolog.Logger) func() time.Duration {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	start := time.Now()

	return func() time.Duration {
		duration := time.Since(start)

		if duration > threshold {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Dur("threshold", threshold).
				Msg("Slow operation detected")
			return duration
		}

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("Operation completed")
		return duration
	}
}
