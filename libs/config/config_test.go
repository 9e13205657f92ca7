package config

import (
	"testing"
	"time"
)

func TestStringFallback(t *testing.T) {
	if got := String("CLINICBOOK_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("CLINICBOOK_TEST_SET", "value")
	if got := String("CLINICBOOK_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := RequiredString("CLINICBOOK_TEST_MISSING"); err == nil {
		t.Fatal("expected error for missing required var")
	}
}

func TestIntInvalid(t *testing.T) {
	t.Setenv("CLINICBOOK_TEST_INT", "not-a-number")
	if got := Int("CLINICBOOK_TEST_INT", 30); got != 30 {
		t.Fatalf("expected fallback 30, got %d", got)
	}
}

func TestMinutes(t *testing.T) {
	t.Setenv("CLINICBOOK_TEST_MINS", "90")
	if got := Minutes("CLINICBOOK_TEST_MINS", time.Hour); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}
	t.Setenv("CLINICBOOK_TEST_MINS", "-5")
	if got := Minutes("CLINICBOOK_TEST_MINS", time.Hour); got != time.Hour {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("CLINICBOOK_TEST_PORT", "70000")
	if _, err := Port("CLINICBOOK_TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	t.Setenv("CLINICBOOK_TEST_PORT", "8084")
	p, err := Port("CLINICBOOK_TEST_PORT", "8080")
	if err != nil || p != "8084" {
		t.Fatalf("expected 8084, got %q err=%v", p, err)
	}
}
