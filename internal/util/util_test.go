package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestNextWorkingDay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "weekday unchanged",
			in:   time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local), // Wednesday
			want: time.Date(2024, 5, 15, 10, 0, 0, 0, time.Local),
		},
		{
			name: "saturday to monday",
			in:   time.Date(2024, 5, 18, 4, 30, 0, 0, time.Local),
			want: time.Date(2024, 5, 20, 4, 30, 0, 0, time.Local),
		},
		{
			name: "sunday to monday",
			in:   time.Date(2024, 5, 19, 0, 0, 0, 0, time.Local),
			want: time.Date(2024, 5, 20, 0, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextWorkingDay(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("NextWorkingDay(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
