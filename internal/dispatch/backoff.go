package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

type backoffPolicy struct {
	base   time.Duration
	max    time.Duration
	jitter float64
}

// delay returns the wait before the given retry (1-based): base doubled per
// previous retry, capped at max, spread by jitter.
func (p backoffPolicy) delay(retry int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.Multiplier = 2
	b.MaxInterval = p.max
	if b.MaxInterval < p.base {
		b.MaxInterval = p.base
	}
	b.RandomizationFactor = p.jitter
	b.Reset()

	var next time.Duration
	for i := 0; i < retry; i++ {
		next = b.NextBackOff()
	}
	return next
}
