package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"photorestore/internal/config"
)

func New(cfg config.LoggingConfig, environment string) zerolog.Logger {
	return NewWithWriter(os.Stdout, cfg, environment)
}

func NewWithWriter(out io.Writer, cfg config.LoggingConfig, environment string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    environment == "production" || !colorize(out),
	}

	logger := zerolog.New(output).With().
		Timestamp().
		Str("env", environment).
		Logger()

	zerolog.SetGlobalLevel(level(cfg, environment))
	return logger
}

func level(cfg config.LoggingConfig, environment string) zerolog.Level {
	if cfg.Debug {
		return zerolog.DebugLevel
	}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	if environment != "production" && cfg.Level == "" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// colorize reports whether out is an interactive terminal.
func colorize(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
