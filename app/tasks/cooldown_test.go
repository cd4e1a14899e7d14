package tasks

import (
	"testing"
	"time"
)

func TestCooldown(t *testing.T) {
	tests := []struct {
		failures int
		expected time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{20, time.Hour},
	}

	for _, tt := range tests {
		if got := cooldown(tt.failures); got != tt.expected {
			t.Errorf("Expected cooldown(%d) = %v, got %v", tt.failures, tt.expected, got)
		}
	}
}
