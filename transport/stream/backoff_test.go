package stream_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acp/transport/stream"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := stream.BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 10, want: time.Second},
	}

	for _, tt := range tests {
		if got := stream.NextBackoffDelay(cfg, tt.attempt, nil); got != tt.want {
			t.Errorf("NextBackoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextBackoffDelay_Jitter(t *testing.T) {
	cfg := stream.BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= 8; attempt++ {
		base := stream.NextBackoffDelay(stream.BackoffConfig{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
		}, attempt, nil)

		got := stream.NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base*3/2 {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, got, base/2, base*3/2)
		}
	}
}

func TestNextBackoffDelay_Disabled(t *testing.T) {
	if got := stream.NextBackoffDelay(stream.BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("NextBackoffDelay() = %v, want 0", got)
	}
}
