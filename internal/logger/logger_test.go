package logger

import "testing"

func TestNew(t *testing.T) {
	t.Run("Production", func(t *testing.T) {
		log, err := New("info", false)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if log.Core().Enabled(-1) {
			t.Error("Debug should be disabled at info level")
		}
	})

	t.Run("Development", func(t *testing.T) {
		log, err := New("debug", true)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !log.Core().Enabled(-1) {
			t.Error("Debug should be enabled at debug level")
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New("loud", false); err == nil {
			t.Error("Expected error for invalid level")
		}
	})
}
