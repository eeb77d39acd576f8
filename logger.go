package conductor

// Logger defines the interface for structured logging used throughout the
// coordination core. All components accept this interface rather than a
// concrete logger so embedding applications control log output.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others.
//
// Example implementation using Go's standard log/slog:
//
//	type SlogLogger struct {
//	    logger *slog.Logger
//	}
//
//	func (l *SlogLogger) Info(msg string, args ...any) {
//	    l.logger.Info(msg, args...)
//	}
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal events like module startup or bus state changes.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	// Used for errors that should be noted but don't necessarily stop
	// the coordination core.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	// Used for detailed diagnostic information, typically disabled in
	// production.
	Debug(msg string, args ...any)
}
