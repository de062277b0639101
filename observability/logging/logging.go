// Package logging wires slog into the daemon: one JSON handler on stdout,
// service and environment attributes on every line, and the stdlib logger
// bridged into the same stream so packages that still call log.Printf do not
// bypass the structured output.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide JSON logger and returns it. The service
// name is always attached; env is attached when non-blank.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: renameCoreKeys,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	logger := slog.New(handler).With(args...)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

// renameCoreKeys maps slog's built-in keys onto the field names the log
// pipeline indexes: timestamp, severity, message.
func renameCoreKeys(groups []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
