package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayWithRand(t *testing.T) {
	cfg := Providers()
	mid := func() float64 { return 0.5 } // zero jitter offset
	low := func() float64 { return 0.0 } // -Jitter
	hi := func() float64 { return 0.999999 }

	tests := []struct {
		name  string
		retry int
		rnd   func() float64
		want  time.Duration
		slack time.Duration
	}{
		{"first_mid", 1, mid, 1250 * time.Millisecond, 0},
		{"second_mid", 2, mid, 2500 * time.Millisecond, 0},
		{"third_mid", 3, mid, 5 * time.Second, 0},
		{"capped_mid", 7, mid, 20 * time.Second, 0},
		{"first_low", 1, low, 750 * time.Millisecond, 0},
		{"first_high", 1, hi, 1750 * time.Millisecond, time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DelayWithRand(cfg, tt.retry, tt.rnd)
			diff := got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.slack {
				t.Errorf("DelayWithRand(retry=%d) = %v, want %v (±%v)", tt.retry, got, tt.want, tt.slack)
			}
		})
	}
}

func TestDelayNeverNegative(t *testing.T) {
	cfg := Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2, Jitter: time.Second}
	got := DelayWithRand(cfg, 1, func() float64 { return 0 })
	if got < 0 {
		t.Fatalf("delay = %v, must not be negative", got)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 2}
	transient := errors.New("rate limited")

	calls := 0
	result := Do(context.Background(), cfg, func(err error) bool { return errors.Is(err, transient) }, func(int) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})

	if result.Err != nil {
		t.Fatalf("Do() error = %v, want nil", result.Err)
	}
	if calls != 3 {
		t.Errorf("op ran %d times, want 3", calls)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond}
	boom := errors.New("bad request")

	calls := 0
	result := Do(context.Background(), cfg, func(error) bool { return true }, func(int) error {
		calls++
		return Permanent(boom)
	})

	if calls != 1 {
		t.Errorf("op ran %d times, want 1", calls)
	}
	if !errors.Is(result.Err, boom) {
		t.Errorf("Do() error = %v, want wrapped %v", result.Err, boom)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialDelay: time.Millisecond}

	calls := 0
	result := Do(context.Background(), cfg, func(error) bool { return false }, func(int) error {
		calls++
		return errors.New("auth failed")
	})

	if calls != 1 {
		t.Errorf("op ran %d times, want 1", calls)
	}
	if result.Err == nil {
		t.Error("Do() error = nil, want non-nil")
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	cfg := Config{MaxRetries: 10, InitialDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() {
		done <- Do(ctx, cfg, func(error) bool { return true }, func(int) error {
			return errors.New("transient")
		})
	}()

	cancel()

	select {
	case result := <-done:
		if !errors.Is(result.Err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", result.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after cancel")
	}
}

func TestDoNeverRetriesCanceled(t *testing.T) {
	cfg := Config{MaxRetries: 8, InitialDelay: time.Millisecond}

	calls := 0
	result := Do(context.Background(), cfg, func(error) bool { return true }, func(int) error {
		calls++
		return context.Canceled
	})

	if calls != 1 {
		t.Errorf("op ran %d times, want 1 (aborts are not retried)", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", result.Err)
	}
}

func TestSleepCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}
