package state

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{500 * time.Millisecond, "0s"},
		{14 * time.Second, "14s"},
		{2*time.Minute + 14*time.Second, "2m 14s"},
		{3 * time.Minute, "3m"},
		{time.Hour + 5*time.Minute, "1h 5m"},
		{time.Hour + 5*time.Minute + 30*time.Second, "1h 5m"},
		{2 * time.Hour, "2h"},
		{27 * time.Hour, "1d 3h"},
		{48 * time.Hour, "2d"},
		{49*time.Hour + 10*time.Minute, "2d 1h"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.d); got != tc.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestFormatDurationMS(t *testing.T) {
	if got := FormatDurationMS(134_000); got != "2m 14s" {
		t.Errorf("FormatDurationMS(134000) = %q, want %q", got, "2m 14s")
	}
}
