package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/kokoro/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
	t.Setenv("TEST_STRING_BLANK", "   ")
	if got := environment.StringOr("TEST_STRING_BLANK", "default"); got != "default" {
		t.Errorf("blank value: expected default, got %q", got)
	}
}

func TestFirstOf(t *testing.T) {
	t.Setenv("TEST_FIRST_B", "b-value")
	v, name := environment.FirstOf("TEST_FIRST_A", "", "TEST_FIRST_B")
	if v != "b-value" || name != "TEST_FIRST_B" {
		t.Errorf("got (%q, %q), want (b-value, TEST_FIRST_B)", v, name)
	}
	v, name = environment.FirstOf("TEST_FIRST_NONE")
	if v != "" || name != "" {
		t.Errorf("expected empty result, got (%q, %q)", v, name)
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !environment.BoolOr("TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if !environment.BoolOr("TEST_BOOL_BAD", true) {
		t.Error("expected default for unparseable value")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := environment.IntOr("TEST_INT", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "forty-two")
	if got := environment.IntOr("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestFloatOr(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	if got := environment.FloatOr("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	if got := environment.FloatOr("TEST_FLOAT_MISSING", 1.5); got != 1.5 {
		t.Errorf("expected default 1.5, got %v", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := environment.DurationOr("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("TEST_DURATION_BAD", "soon")
	if got := environment.DurationOr("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("expected default, got %v", got)
	}
}
