// Package logging provides structured logging with trace and job ID support.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used to carry logging fields.
type ContextKey string

const (
	// TraceIDKey is the context key for a request/operation trace ID.
	TraceIDKey ContextKey = "trace_id"
	// JobIDKey is the context key for the active sync job ID.
	JobIDKey ContextKey = "job_id"
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey ContextKey = "tenant_id"
	// ConnectionIDKey is the context key for the sync connection ID.
	ConnectionIDKey ContextKey = "sync_connection_id"
)

// Logger wraps logrus.Logger with fields scoped to the owning component.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for component with the given level and format ("json" or "text").
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL / LOG_FORMAT environment variables,
// defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry annotated with whatever tracing fields are
// present on ctx (trace ID, job ID, tenant ID, connection ID).
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(JobIDKey); v != nil {
		entry = entry.WithField("job_id", v)
	}
	if v := ctx.Value(TenantIDKey); v != nil {
		entry = entry.WithField("tenant_id", v)
	}
	if v := ctx.Value(ConnectionIDKey); v != nil {
		entry = entry.WithField("sync_connection_id", v)
	}

	return entry
}

// WithJob returns an entry pre-populated with job and connection IDs, the
// shape every orchestrator log line needs.
func (l *Logger) WithJob(jobID, connectionID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component":          l.component,
		"job_id":             jobID,
		"sync_connection_id": connectionID,
	})
}

// ContextWithJob returns a context carrying job/connection IDs for later
// retrieval by WithContext.
func ContextWithJob(ctx context.Context, jobID, connectionID string) context.Context {
	ctx = context.WithValue(ctx, JobIDKey, jobID)
	ctx = context.WithValue(ctx, ConnectionIDKey, connectionID)
	return ctx
}
