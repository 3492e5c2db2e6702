package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// SlowOperationThreshold is the duration past which OperationTimer logs a
// warning. Quote fan-outs routinely take a few seconds.
const SlowOperationThreshold = 20 * time.Second

// OperationTimer starts a timer and returns the func that stops it.
//
//	defer utils.OperationTimer("dust_convert", log)()
func OperationTimer(operation string, log zerolog.Logger) func() time.Duration {
	start := time.Now()

	return func() time.Duration {
		elapsed := time.Since(start)
		if elapsed > SlowOperationThreshold {
			log.Warn().Str("operation", operation).Dur("elapsed", elapsed).Msg("Slow operation")
			return elapsed
		}
		log.Debug().Str("operation", operation).Dur("elapsed", elapsed).Msg("Operation finished")
		return elapsed
	}
}
