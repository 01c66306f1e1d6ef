package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	available := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		want       int
	}{
		{"cpu bound", 1.0, 0, available},
		{"io bound", 2.0, 0, available * 2},
		{"limited", 2.0, 1, 1},
		{"tiny multiplier floors at one", 0.001, 0, 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(tt.multiplier, tt.limit); got != tt.want {
				t.Errorf("Count(%v, %d) = %d, want %d", tt.multiplier, tt.limit, got, tt.want)
			}
		})
	}
}

func TestCountEnvOverride(t *testing.T) {
	t.Setenv("WORKERS", "3")
	if got := Count(1.0, 0); got != 3 {
		t.Errorf("Count() with WORKERS=3 = %d, want 3", got)
	}
	if got := Count(1.0, 2); got != 2 {
		t.Errorf("Count() with WORKERS=3 and limit 2 = %d, want 2", got)
	}

	t.Setenv("WORKERS", "garbage")
	if got := Count(1.0, 0); got < 1 {
		t.Errorf("Count() with invalid WORKERS = %d, want >= 1", got)
	}
}

func TestForStorage(t *testing.T) {
	if got := ForStorage(4, true); got != 1 {
		t.Errorf("ForStorage(4, network) = %d, want 1", got)
	}
	if got := ForStorage(4, false); got != 4 {
		t.Errorf("ForStorage(4, local) = %d, want 4", got)
	}
	if got := ForStorage(0, false); got < 1 {
		t.Errorf("ForStorage(auto, local) = %d, want >= 1", got)
	}
}
