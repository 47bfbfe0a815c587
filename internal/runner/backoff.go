package runner

import (
	"math"
	"time"
)

// Backoff returns the wait before retry number retry (1-based):
// base * 2^(retry-1). There is no jitter and no cap; a result that would
// overflow time.Duration saturates at its maximum.
func Backoff(base time.Duration, retry int) time.Duration {
	if base <= 0 || retry < 1 {
		return 0
	}
	shift := uint(retry - 1)
	if shift >= 63 || base > time.Duration(math.MaxInt64)>>shift {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}
