// Package logger is the structured logging layer of jwtsecrets, built on
// zerolog. Loggers are scoped by a dotted module path and may write
// through a gate that holds output back until the server is ready.
package logger

// Logger is implemented by ZerologLogger and embedded in GatedLogger.
type Logger interface {
	Trace(msg string, fields ...TypedField)
	Debug(msg string, fields ...TypedField)
	Info(msg string, fields ...TypedField)
	Warn(msg string, fields ...TypedField)
	Error(msg string, fields ...TypedField)

	// WithSubsystem appends name to the module path ("server.storage").
	WithSubsystem(name string) Logger

	// WithSystem replaces the module path with name.
	WithSystem(name string) Logger

	WithFields(fields ...TypedField) Logger

	IsLevelEnabled(level LogLevel) bool

	Close() error
}
