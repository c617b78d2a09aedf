package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents log verbosity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects the slog handler used for output.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseLevel converts a string level name to Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat converts "text" or "json" to a Format. Anything else is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// ToSlogLevel converts our Level to slog.Level
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// Setup initializes the global slog logger writing to stderr.
func Setup(level Level, format Format) *slog.Logger {
	return SetupWithWriter(level, format, os.Stderr)
}

// SetupWithWriter initializes slog with a custom writer (useful for testing)
func SetupWithWriter(level Level, format Format, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level.ToSlogLevel(),
	}
	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
