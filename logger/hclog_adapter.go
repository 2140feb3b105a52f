package logger

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// HCLogAdapter exposes a GatedLogger as an hclog.Logger, for libraries
// that log through hclog (the Vault API client's retrying transport).
type HCLogAdapter struct {
	logger *GatedLogger
	name   string
	args   []interface{}
}

var _ hclog.Logger = (*HCLogAdapter)(nil)

// NewHCLogAdapter creates a new adapter for the given GatedLogger
func NewHCLogAdapter(logger *GatedLogger) hclog.Logger {
	return &HCLogAdapter{logger: logger}
}

func (a *HCLogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	fields := a.fields(args)
	switch level {
	case hclog.Trace:
		a.logger.Trace(msg, fields...)
	case hclog.Debug:
		a.logger.Debug(msg, fields...)
	case hclog.Warn:
		a.logger.Warn(msg, fields...)
	case hclog.Error:
		a.logger.Error(msg, fields...)
	default:
		a.logger.Info(msg, fields...)
	}
}

func (a *HCLogAdapter) Trace(msg string, args ...interface{}) { a.Log(hclog.Trace, msg, args...) }
func (a *HCLogAdapter) Debug(msg string, args ...interface{}) { a.Log(hclog.Debug, msg, args...) }
func (a *HCLogAdapter) Info(msg string, args ...interface{}) { a.Log(hclog.Info, msg, args...) }
func (a *HCLogAdapter) Warn(msg string, args ...interface{}) { a.Log(hclog.Warn, msg, args...) }
func (a *HCLogAdapter) Error(msg string, args ...interface{}) { a.Log(hclog.Error, msg, args...) }

// fields converts alternating key/value pairs, implied args first. Pairs
// with a non-string key and a trailing odd value are dropped.
func (a *HCLogAdapter) fields(args []interface{}) []TypedField {
	all := make([]interface{}, 0, len(a.args)+len(args))
	all = append(all, a.args...)
	all = append(all, args...)

	fields := make([]TypedField, 0, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		key, ok := all[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, Any(key, all[i+1]))
	}
	return fields
}

func (a *HCLogAdapter) Named(name string) hclog.Logger {
	full := name
	if a.name != "" {
		full = a.name + "." + name
	}
	return &HCLogAdapter{
		logger: a.logger.WithSubsystem(name),
		name:   full,
		args:   a.args,
	}
}

func (a *HCLogAdapter) ResetNamed(name string) hclog.Logger {
	return &HCLogAdapter{
		logger: a.logger.WithSystem(name),
		name:   name,
		args:   a.args,
	}
}

func (a *HCLogAdapter) With(args ...interface{}) hclog.Logger {
	merged := make([]interface{}, 0, len(a.args)+len(args))
	merged = append(merged, a.args...)
	merged = append(merged, args...)
	return &HCLogAdapter{
		logger: a.logger,
		name:   a.name,
		args:   merged,
	}
}

func (a *HCLogAdapter) Name() string { return a.name }
func (a *HCLogAdapter) ImpliedArgs() []interface{} { return a.args }
func (a *HCLogAdapter) IsTrace() bool { return a.logger.IsLevelEnabled(TraceLevel) }
func (a *HCLogAdapter) IsDebug() bool { return a.logger.IsLevelEnabled(DebugLevel) }
func (a *HCLogAdapter) IsInfo() bool { return a.logger.IsLevelEnabled(InfoLevel) }
func (a *HCLogAdapter) IsWarn() bool { return a.logger.IsLevelEnabled(WarnLevel) }
func (a *HCLogAdapter) IsError() bool { return a.logger.IsLevelEnabled(ErrorLevel) }
func (a *HCLogAdapter) SetLevel(level hclog.Level) {}

func (a *HCLogAdapter) GetLevel() hclog.Level {
	for _, l := range []struct {
		ours   LogLevel
		theirs hclog.Level
	}{
		{TraceLevel, hclog.Trace},
		{DebugLevel, hclog.Debug},
		{InfoLevel, hclog.Info},
		{WarnLevel, hclog.Warn},
		{ErrorLevel, hclog.Error},
	} {
		if a.logger.IsLevelEnabled(l.ours) {
			return l.theirs
		}
	}
	return hclog.Off
}

// StandardLogger returns a stdlib logger writing through the adapter.
func (a *HCLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(a.StandardWriter(opts), "", 0)
}

func (a *HCLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &stdWriter{adapter: a}
}

type stdWriter struct {
	adapter *HCLogAdapter
}

func (w *stdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.adapter.Info(msg)
	return len(p), nil
}
