// Package logging builds the zerolog loggers used by every binary.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level to output
	Level string

	// Format is json, console or auto (console on a terminal)
	Format string

	// Output is stderr, stdout, discard or a file path
	Output string

	NoColor bool

	// Writer overrides Output when set.
	Writer io.Writer
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  "auto",
		Output:  "stderr",
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

// New creates a logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := ParseLevel(cfg.Level)
	logger := zerolog.New(writer(cfg)).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

func writer(cfg *Config) io.Writer {
	output := cfg.Writer
	if output == nil {
		output = openOutput(cfg.Output)
	}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(output) {
			format = "console"
		}
	}

	switch format {
	case "console", "pretty":
		return zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	default:
		return output
	}
}

func openOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	case "discard", "none":
		return io.Discard
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			// Fall back to stderr
			return os.Stderr
		}
		return file
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ParseLevel parses a log level string, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "warning":
		return zerolog.WarnLevel
	case "none", "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
