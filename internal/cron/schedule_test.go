package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want Schedule
		ok   bool
	}{
		{"every:30s", Schedule{Period: 30 * time.Second}, true},
		{"every:5m", Schedule{Period: 5 * time.Minute}, true},
		{"every:1h", Schedule{Period: time.Hour}, true},
		{"daily@05:00Z", Schedule{Hour: 5}, true},
		{"daily@23:59Z", Schedule{Hour: 23, Minute: 59}, true},
		{"", Schedule{}, false},
		{"every:", Schedule{}, false},
		{"every:0m", Schedule{}, false},
		{"every:-5m", Schedule{}, false},
		{"every:5d", Schedule{}, false},
		{"every:xm", Schedule{}, false},
		{"daily@05:00", Schedule{}, false},
		{"daily@5Z", Schedule{}, false},
		{"daily@24:00Z", Schedule{}, false},
		{"daily@12:60Z", Schedule{}, false},
		{"hourly", Schedule{}, false},
	}
	for _, tc := range cases {
		got, err := Parse(tc.raw)
		if !tc.ok {
			require.Error(t, err, "Parse(%q)", tc.raw)
			continue
		}
		require.NoError(t, err, "Parse(%q)", tc.raw)
		require.Equal(t, tc.want, got, "Parse(%q)", tc.raw)
	}
}

func TestNextInterval(t *testing.T) {
	s := Schedule{Period: 30 * time.Minute}
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(30*time.Minute), s.Next(now))
}

func TestNextDaily(t *testing.T) {
	s := Schedule{Hour: 5, Minute: 0}

	before := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 24, 5, 0, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 25, 5, 0, 0, 0, time.UTC), s.Next(after))

	// Exactly on the mark counts as already fired today.
	exact := time.Date(2026, 8, 24, 5, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 8, 25, 5, 0, 0, 0, time.UTC), s.Next(exact))
}

func TestLockTTL(t *testing.T) {
	require.Equal(t, 5*time.Minute, Schedule{Period: time.Minute}.LockTTL())
	require.Equal(t, 5*24*time.Hour, Schedule{Hour: 5}.LockTTL())
}
