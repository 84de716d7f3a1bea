// Package observability provides structured logging and Prometheus
// metrics for the HTTP server.
package observability

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nyumbani/backend/pkg/contextkeys"
)

// NewLogger creates the application logger. Production output is JSON;
// development keeps the human-readable text formatter.
func NewLogger(level string, development bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(parseLevel(level))

	if development {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithLogger stores a request-scoped log entry in the context.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return contextkeys.WithLogger(ctx, entry)
}

// FromContext returns the request-scoped log entry, or a discard-free
// default entry when none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(contextkeys.LoggerKey).(*logrus.Entry); ok {
		return entry
	}

	entry := logrus.NewEntry(logrus.StandardLogger())
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}
