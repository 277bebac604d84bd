package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, c := range cases {
		t.Setenv("CALENDARPIPE_TEST_BOOL", c.value)
		if got := ParseBoolEnv("CALENDARPIPE_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("CALENDARPIPE_TEST_STR", "set")
	if got := GetEnvOrDefault("CALENDARPIPE_TEST_STR", "fallback"); got != "set" {
		t.Errorf("expected set value, got %q", got)
	}
	t.Setenv("CALENDARPIPE_TEST_STR", "  ")
	if got := GetEnvOrDefault("CALENDARPIPE_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for blank value, got %q", got)
	}
}
