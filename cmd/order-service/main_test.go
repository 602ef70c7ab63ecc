package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	previous := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(previous) })

	setupLogger("debug")
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}

	setupLogger("loud")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}
