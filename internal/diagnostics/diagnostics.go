// Package diagnostics builds the structured logger a scan run reports
// non-fatal conditions through: unsupported objects, dropped relocations,
// and ambiguity. It always writes human-readable text to stderr, fanning
// out to an optional JSON file sink via slog-multi.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// New builds the run's logger. jsonPath is the optional JSON log file from
// internal/config's Logging.JSONFile; an empty string disables that sink.
// level parses as one of "debug", "info", "warn", "error" (default info).
func New(jsonPath string, level string) (*slog.Logger, io.Closer, error) {
	lvl := parseLevel(level)

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})

	if jsonPath == "" {
		return slog.New(textHandler), nopCloser{}, nil
	}

	f, err := os.OpenFile(jsonPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) // #nosec G304 -- user-supplied log path
	if err != nil {
		return nil, nil, fmt.Errorf("diagnostics: open %s: %w", jsonPath, err)
	}
	jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})

	fanout := slogmulti.Fanout(textHandler, jsonHandler)
	return slog.New(fanout), f, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// UnsupportedObject logs an object skipped for having .text absent,
// zero-sized, all-zero, or a relocation kind outside {J26, HI16, LO16}.
func UnsupportedObject(logger *slog.Logger, objectName string, reason error) {
	logger.Warn("unsupported object, skipping", "object", objectName, "reason", reason)
}

// RecoveryAnomaly logs a dropped relocation: an LO16 with no pending HI16,
// or an HI16 left unterminated.
func RecoveryAnomaly(logger *slog.Logger, objectName string, offset uint32, reason string) {
	logger.Warn("recovery anomaly, dropping relocation", "object", objectName, "offset", offset, "reason", reason)
}

// Ambiguity logs a non-fatal ambiguity: multiple precise hits for one
// object, or two objects claiming the same blob offset.
func Ambiguity(logger *slog.Logger, kind string, detail string) {
	logger.Info("ambiguity detected", "kind", kind, "detail", detail)
}
