package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldID        = "id"
	FieldDirection = "direction"
	FieldState     = "state"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Files and paths
	FieldPath    = "path"
	FieldRoot    = "root"
	FieldBinary  = "binary"
	FieldVersion = "version"
	FieldRID     = "rid"
	FieldURL     = "url"

	// Process
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
	FieldArgs     = "args"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Provisioner struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Provisioner {
//	    return &Provisioner{
//	        logger: logger.ComponentLogger("provision"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	sessionLogger := logger.ChildLogger(baseLogger, "pid", proc.PID())
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
