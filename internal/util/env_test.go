package util

import (
	"testing"
	"time"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("CHRONICLE_TEST_STRING", "value")
	t.Setenv("CHRONICLE_TEST_EMPTY", "")

	if got := GetEnvString("CHRONICLE_TEST_STRING", "default"); got != "value" {
		t.Fatalf("GetEnvString() = %q, want value", got)
	}
	if got := GetEnvString("CHRONICLE_TEST_EMPTY", "default"); got != "default" {
		t.Fatalf("GetEnvString() = %q, want default for empty value", got)
	}
	if got := GetEnvString("CHRONICLE_TEST_UNSET", "default"); got != "default" {
		t.Fatalf("GetEnvString() = %q, want default", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "number", value: "45", want: 45},
		{name: "padded", value: " 7 ", want: 7},
		{name: "invalid", value: "many", want: 30},
		{name: "float", value: "1.5", want: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHRONICLE_TEST_INT", tt.value)
			if got := GetEnvInt("CHRONICLE_TEST_INT", 30); got != tt.want {
				t.Fatalf("GetEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CHRONICLE_TEST_BOOL", "true")
	if !GetEnvBool("CHRONICLE_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CHRONICLE_TEST_BOOL", "yes")
	if GetEnvBool("CHRONICLE_TEST_BOOL", false) {
		t.Fatal("expected default for unrecognized value")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "90s", want: 90 * time.Second},
		{value: "2m", want: 2 * time.Minute},
		{value: "15", want: 15 * time.Second},
		{value: "soon", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("CHRONICLE_TEST_DURATION", tt.value)
			if got := GetEnvDuration("CHRONICLE_TEST_DURATION", time.Minute); got != tt.want {
				t.Fatalf("GetEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
