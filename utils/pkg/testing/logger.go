package citylaketesting

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// NewLogger returns a test logger. DEBUG=1 shows info and DEBUG=2 shows debug; errors only
// otherwise.
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, NoColor: true}))
}
