package logger

import (
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWarnCountsByComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(discard{})

	before := atomic.LoadInt64(&warnsFeed)
	log.WithComponent("feed").Warn("stall")
	if got := atomic.LoadInt64(&warnsFeed); got != before+1 {
		t.Errorf("feed warn counter = %d, want %d", got, before+1)
	}

	beforeEngine := atomic.LoadInt64(&errorsEngine)
	log.WithComponent("engine").Error("boom")
	if got := atomic.LoadInt64(&errorsEngine); got != beforeEngine+1 {
		t.Errorf("engine error counter = %d, want %d", got, beforeEngine+1)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
