package logger

import "testing"

func TestLoggerIsSafeBeforeInitialize(t *testing.T) {
	// The package-level no-op logger must absorb calls made before Initialize.
	Infow("early message", "key", "value")
	Errorw("early error", "key", "value")
}

func TestInitializeJSON(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize(true) failed: %v", err)
	}
	if !JSONOutput {
		t.Error("JSONOutput flag not set")
	}
	if Logger == nil {
		t.Fatal("Logger is nil after Initialize")
	}
	Cleanup()
}

func TestInitializeConsole(t *testing.T) {
	if err := Initialize(false); err != nil {
		t.Fatalf("Initialize(false) failed: %v", err)
	}
	if JSONOutput {
		t.Error("JSONOutput flag should be false")
	}
	Cleanup()
}
