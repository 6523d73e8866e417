package logging_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cscheib/fencewd/internal/logging"
	"github.com/matryer/is"
)

func TestSetup_DefaultsToInfoJSON(t *testing.T) {
	is := is.New(t)

	logger := logging.Setup("", "")
	is.True(logger != nil) // logger constructed
}

func TestSetup_LevelFiltering(t *testing.T) {
	is := is.New(t)

	logger := logging.Setup("warn", "json")
	is.True(!logger.Enabled(context.Background(), slog.LevelDebug)) // debug suppressed below warn level
	is.True(logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestSetup_TextFormat(t *testing.T) {
	is := is.New(t)

	logger := logging.Setup("debug", "text")
	is.True(logger != nil) // text handler constructed without panic
}
