package logging

import "testing"

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger("DEBUG")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatalf("expected debug level to be enabled")
	}

	if _, err := NewLogger("chatty"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
