package logger

import (
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel orders log severities from TraceLevel up.
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levels = []struct {
	name    string
	zerolog zerolog.Level
}{
	TraceLevel: {"trace", zerolog.TraceLevel},
	DebugLevel: {"debug", zerolog.DebugLevel},
	InfoLevel:  {"info", zerolog.InfoLevel},
	WarnLevel:  {"warn", zerolog.WarnLevel},
	ErrorLevel: {"error", zerolog.ErrorLevel},
	FatalLevel: {"fatal", zerolog.FatalLevel},
}

func (l LogLevel) valid() bool { return l >= TraceLevel && l <= FatalLevel }

func (l LogLevel) String() string {
	if !l.valid() {
		return "info"
	}
	return levels[l].name
}

func (l LogLevel) zerolog() zerolog.Level {
	if !l.valid() {
		return zerolog.InfoLevel
	}
	return levels[l].zerolog
}

// ParseLogLevel maps a level name to a LogLevel. "warning" and "err" are
// accepted as aliases; anything unknown is info.
func ParseLogLevel(level string) LogLevel {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "warning":
		return WarnLevel
	case "err":
		return ErrorLevel
	}
	for l := range levels {
		if levels[l].name == name {
			return LogLevel(l)
		}
	}
	return InfoLevel
}

// OutputFormat selects between JSON lines and a console format.
type OutputFormat int

const (
	JSONFormat OutputFormat = iota
	DefaultFormat
)

func (o OutputFormat) String() string {
	if o == JSONFormat {
		return "json"
	}
	return "default"
}

// ParseOutputFormat returns JSONFormat for "json" and DefaultFormat
// otherwise.
func ParseOutputFormat(format string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return JSONFormat
	}
	return DefaultFormat
}
