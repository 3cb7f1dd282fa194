package config

import (
	"log/slog"
	"os"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/term"
)

// LogOptions selects where logs go and how verbose they are.
type LogOptions struct {
	Path  string // optional log file, appended to
	Level string // debug, info, warn, error
}

// SetupLogging configures the global slog logger.
// Returns the log file handle (caller must close it) or nil if no file
func SetupLogging(opts LogOptions) (*os.File, error) {
	level := parseLogLevel(opts.Level)

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:   level,
			NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
		}),
	}

	var logFile *os.File
	if opts.Path != "" {
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFile = f
		fileOpts := &slog.HandlerOptions{Level: level}
		if level == slog.LevelDebug {
			fileOpts.AddSource = true
		}
		handlers = append(handlers, slog.NewTextHandler(f, fileOpts))
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
	return logFile, nil
}

// parseLogLevel converts string to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
