package util

import (
	"reflect"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("BR_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("BR_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", 15 * time.Minute},
		{"30s", 30 * time.Second},
		{"45", 45 * time.Second},
		{"-1m", 15 * time.Minute},
		{"soon", 15 * time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("BR_TEST_DUR", tt.val)
		if got := ParseDurationEnv("BR_TEST_DUR", 15*time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestParseInt64ListEnv(t *testing.T) {
	t.Setenv("BR_TEST_IDS", "123, 456;abc 789")
	got := ParseInt64ListEnv("BR_TEST_IDS")
	if want := []int64{123, 456, 789}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	t.Setenv("BR_TEST_IDS", "")
	if got := ParseInt64ListEnv("BR_TEST_IDS"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
