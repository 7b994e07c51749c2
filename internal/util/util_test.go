package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Retry error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryLinearRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryLinear(ctx, 5, time.Hour, func() error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryLinear error = %v, want context.Canceled", err)
	}
}

func TestJitterBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 20*time.Millisecond
	for i := 0; i < 100; i++ {
		d := Jitter(min, max)
		if d < min || d > max {
			t.Fatalf("Jitter returned %v, want within [%v, %v]", d, min, max)
		}
	}
	if d := Jitter(min, min); d != min {
		t.Errorf("Jitter with equal bounds = %v, want %v", d, min)
	}
}

func TestInTradingWindow(t *testing.T) {
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		t    time.Time
		want bool
	}{
		{at(9, 29), false},
		{at(9, 30), true},
		{at(9, 31), true},
		{at(11, 30), true},
		{at(12, 0), false},
		{at(12, 59), false},
		{at(13, 0), true},
		{at(15, 0), true},
		{at(15, 1), false},
	}
	for _, tt := range tests {
		if got := InTradingWindow(tt.t); got != tt.want {
			t.Errorf("InTradingWindow(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

func TestAfterClose(t *testing.T) {
	day := time.Date(2024, 6, 14, 15, 29, 0, 0, time.UTC)
	if AfterClose(day) {
		t.Error("15:29 should not be after close")
	}
	if !AfterClose(day.Add(time.Minute)) {
		t.Error("15:30 should be after close")
	}
}
