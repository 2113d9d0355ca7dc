package services

import (
	"context"
	"math/rand/v2"
	"time"
)

// Jitter delays work to spread bursts of simultaneous device responses.
type Jitter interface {
	Wait(ctx context.Context) error
}

// RandomJitter sleeps for a uniformly random duration in [0, Max).
type RandomJitter struct {
	Max  time.Duration
	rand func(n int64) int64
}

func NewRandomJitter(max time.Duration) *RandomJitter {
	return &RandomJitter{Max: max, rand: rand.Int64N}
}

func (j *RandomJitter) Wait(ctx context.Context) error {
	if j.Max <= 0 {
		return nil
	}
	d := time.Duration(j.rand(int64(j.Max)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoJitter never waits.
type NoJitter struct{}

func (NoJitter) Wait(context.Context) error { return nil }
