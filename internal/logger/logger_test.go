package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitializeJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", &buf, true)
	t.Cleanup(func() { Initialize("off", &bytes.Buffer{}, true) })

	log := GetForComponent("orchestrator")
	log.Info().Str("op", "supply").Msg("plan received")
	log.Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"component":"orchestrator"`) || !strings.Contains(out, `"op":"supply"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" INFO ":  zerolog.InfoLevel,
		"":        zerolog.WarnLevel,
		"bogus":   zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"warning": zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
