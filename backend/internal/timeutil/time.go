/*
 * backend/internal/timeutil/time.go
 *
 * Epoch clock helpers shared by the monitor and its watchers.
 */

package timeutil

import (
	"k8s.io/utils/clock"
)

// EpochMillis returns elapsed milliseconds since the Unix epoch on c.
func EpochMillis(c clock.PassiveClock) uint64 {
	return uint64(c.Now().UnixMilli())
}

// EpochSeconds returns elapsed seconds since the Unix epoch on c.
func EpochSeconds(c clock.PassiveClock) uint64 {
	return uint64(c.Now().Unix())
}
