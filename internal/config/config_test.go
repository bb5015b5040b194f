package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("Expected 30m session timeout, got %v", cfg.SessionTimeout)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("Expected 5m cleanup interval, got %v", cfg.CleanupInterval)
	}
	if cfg.WatchInterval != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s watch interval, got %v", cfg.WatchInterval)
	}
	if cfg.InitialPageSize != 100 {
		t.Errorf("Expected initial page size 100, got %d", cfg.InitialPageSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT", "10m")
	t.Setenv("INITIAL_PAGE_SIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Errorf("Expected 10m session timeout, got %v", cfg.SessionTimeout)
	}
	if cfg.InitialPageSize != 25 {
		t.Errorf("Expected initial page size 25, got %d", cfg.InitialPageSize)
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("Malformed timeout should fall back, got %v", cfg.SessionTimeout)
	}
}

func TestParseBackoff(t *testing.T) {
	schedule := ParseBackoff("500ms,1s", nil)
	if len(schedule) != 2 || schedule[0] != 500*time.Millisecond || schedule[1] != time.Second {
		t.Errorf("Unexpected schedule: %v", schedule)
	}

	if got := ParseBackoff("", DefaultRetryBackoff); len(got) != 5 {
		t.Errorf("Empty input should yield fallback, got %v", got)
	}
	if got := ParseBackoff("1s,banana", DefaultRetryBackoff); len(got) != 5 {
		t.Errorf("Malformed input should yield fallback, got %v", got)
	}
	if got := ParseBackoff("1s,-2s", DefaultRetryBackoff); len(got) != 5 {
		t.Errorf("Non-positive step should yield fallback, got %v", got)
	}
}
