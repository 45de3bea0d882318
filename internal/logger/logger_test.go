package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		Setup(c.level, "console")
		if Log == nil {
			t.Fatalf("level %q: Log not initialized", c.level)
		}
		if got := zerolog.GlobalLevel(); got != c.want {
			t.Errorf("level %q: global level = %v, want %v", c.level, got, c.want)
		}
	}
	Setup("info", "json")
	if Log == nil {
		t.Fatal("json format: Log not initialized")
	}
}

func TestVariadicFields(t *testing.T) {
	Setup("debug", "console")

	// Key-value pairs, odd arg counts and non-string keys must all be
	// tolerated without panicking.
	Log.Info("kv", "epoch", 3, "loss", 1.25, "done", false)
	Log.Debug("no fields")
	Log.Warn("odd args", "key", "value", "orphan")
	Log.Error("non-string key", 42, "value")
	Log.Info("nil value", "key", nil)
}
