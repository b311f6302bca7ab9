package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("LINEPILOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("LINEPILOT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	def := 20 * time.Second
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"45", 45 * time.Second},
		{"1m30s", 90 * time.Second},
		{"24h", 24 * time.Hour},
		{"-5s", def},
		{"soon", def},
	}
	for _, tt := range tests {
		t.Setenv("LINEPILOT_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("LINEPILOT_TEST_DURATION", def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("LINEPILOT_TEST_FLOAT", "2.5")
	if got := ParseFloatEnv("LINEPILOT_TEST_FLOAT", 10); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
	t.Setenv("LINEPILOT_TEST_FLOAT", "fast")
	if got := ParseFloatEnv("LINEPILOT_TEST_FLOAT", 10); got != 10 {
		t.Errorf("expected default for invalid value, got %v", got)
	}
}
