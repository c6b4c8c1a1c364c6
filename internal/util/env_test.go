package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"true", "true", false, true},
		{"yes", "YES", false, true},
		{"one", "1", false, true},
		{"off", "off", true, false},
		{"zero", "0", true, false},
		{"empty uses default", "", true, true},
		{"invalid uses default", "maybe", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "ZAPFLOW_TEST_BOOL"
			if tt.value != "" {
				t.Setenv(key, tt.value)
			}
			if got := ParseBoolEnv(key, tt.def); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	key := "ZAPFLOW_TEST_DURATION"
	t.Setenv(key, "45s")
	if got := ParseDurationEnv(key, time.Minute); got != 45*time.Second {
		t.Errorf("ParseDurationEnv = %v, want 45s", got)
	}
	t.Setenv(key, "nonsense")
	if got := ParseDurationEnv(key, time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv with invalid value = %v, want default", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	key := "ZAPFLOW_TEST_INT"
	t.Setenv(key, "42")
	if got := ParseIntEnv(key, 7); got != 42 {
		t.Errorf("ParseIntEnv = %d, want 42", got)
	}
	t.Setenv(key, "x")
	if got := ParseIntEnv(key, 7); got != 7 {
		t.Errorf("ParseIntEnv with invalid value = %d, want default", got)
	}
}
