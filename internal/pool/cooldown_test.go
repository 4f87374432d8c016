package pool

import (
	"testing"
	"time"
)

func TestCooldownFor_StepFunction(t *testing.T) {
	base := 15 * time.Second
	mult := []float64{1, 2, 4, 8, 16}
	ceiling := 5 * time.Minute

	cases := []struct {
		errors int
		want   time.Duration
	}{
		{0, base},
		{1, base},
		{2, 30 * time.Second},
		{3, 60 * time.Second},
		{4, 120 * time.Second},
		{5, 240 * time.Second},
		{6, 240 * time.Second},  // past the table: reuse last multiplier
		{50, 240 * time.Second},
	}
	for _, tc := range cases {
		if got := cooldownFor(tc.errors, base, mult, ceiling); got != tc.want {
			t.Errorf("cooldownFor(%d) = %v, want %v", tc.errors, got, tc.want)
		}
	}
}

func TestCooldownFor_Monotonic(t *testing.T) {
	base := 10 * time.Second
	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := cooldownFor(n, base, nil, DefaultCooldownCeiling)
		if d < prev {
			t.Fatalf("cooldown decreased at errorCount=%d: %v < %v", n, d, prev)
		}
		prev = d
	}
}

func TestCooldownFor_Ceiling(t *testing.T) {
	d := cooldownFor(10, time.Minute, []float64{1, 100}, 5*time.Minute)
	if d != 5*time.Minute {
		t.Fatalf("cooldown must be capped at the ceiling, got %v", d)
	}
}

func TestCooldownFor_DefaultMultipliers(t *testing.T) {
	if got := cooldownFor(2, 10*time.Second, nil, time.Hour); got != 20*time.Second {
		t.Fatalf("default table: cooldownFor(2) = %v, want 20s", got)
	}
}
