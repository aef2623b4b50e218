package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	numberAttempts   = 10
	numberRetryDelay = 2 * time.Millisecond
	numberRandRange  = 100000
)

// NumberGenerator produces unique human-readable booking numbers of the form
// BK-<millis>-<random>. Uniqueness is checked per candidate against the
// store, with bounded retries; concurrent creators that land on the same
// candidate are separated by the retry's fresh timestamp and random pair.
type NumberGenerator struct {
	exists  func(number string) (bool, error)
	randInt func(n int) int
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewNumberGenerator constructs a generator backed by a store uniqueness
// probe.
func NewNumberGenerator(exists func(number string) (bool, error)) *NumberGenerator {
	return &NumberGenerator{
		exists:  exists,
		randInt: rand.IntN,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Generate returns a booking number not currently present in the store.
// After the attempt budget it falls back to a longer composite with two
// independent random components, which is committed without a further probe.
func (g *NumberGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		candidate := fmt.Sprintf("BK-%d-%d", g.now().UnixMilli(), g.randInt(numberRandRange))
		taken, err := g.exists(candidate)
		if err != nil {
			return "", fmt.Errorf("check booking number: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		// Small delay so the next candidate gets a fresh timestamp.
		if err := g.sleep(ctx, numberRetryDelay); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("BK-%d-%d-%d", g.now().UnixMilli(), g.randInt(numberRandRange), g.randInt(numberRandRange)), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
