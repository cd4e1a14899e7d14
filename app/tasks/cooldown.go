package tasks

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	baseCooldown = 30 * time.Second
	maxCooldown  = time.Hour
)

// cooldown returns how long a feed rests after its n-th consecutive failed sweep.
func cooldown(failures int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseCooldown
	b.MaxInterval = maxCooldown
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}
