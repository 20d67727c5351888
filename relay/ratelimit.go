package relay

import (
	"io"
	"time"

	"github.com/shazow/rateio"
)

// NewInputLimiter returns a constructor for per-connection limiters allowing
// up to amount bytes to be read every period.
func NewInputLimiter(amount int, period time.Duration) func() rateio.Limiter {
	return func() rateio.Limiter {
		return rateio.NewSimpleLimiter(amount, period)
	}
}

// limitReader wraps r with limiter, or returns r untouched without one.
func limitReader(r io.Reader, limiter rateio.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return rateio.NewReader(r, limiter)
}
