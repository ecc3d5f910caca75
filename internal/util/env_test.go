package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes with spaces", "  yes ", false, true},
		{"on uppercase", "ON", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"off", "off", true, false},
		{"garbage uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_BOOL_ENV", tt.value)
			}
			if got := ParseBoolEnv("TEST_BOOL_ENV", tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "450")
	if got := ParseIntEnv("TEST_INT_ENV", 10); got != 450 {
		t.Errorf("ParseIntEnv() = %d, want 450", got)
	}
	t.Setenv("TEST_INT_ENV", "not a number")
	if got := ParseIntEnv("TEST_INT_ENV", 10); got != 10 {
		t.Errorf("ParseIntEnv() with invalid value = %d, want default 10", got)
	}
	if got := ParseIntEnv("TEST_INT_ENV_UNSET", 7); got != 7 {
		t.Errorf("ParseIntEnv() unset = %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR_ENV", "90s")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDurationEnv() = %v, want 90s", got)
	}
	t.Setenv("TEST_DUR_ENV", "soon")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv() with invalid value = %v, want default 1m", got)
	}
}
