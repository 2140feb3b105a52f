package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const moduleField = "module"

// ZerologLogger is the zerolog implementation of Logger. Loggers derived
// from one root share its writers, so a rotating log file is opened once.
type ZerologLogger struct {
	zl     zerolog.Logger
	root   zerolog.Logger
	level  LogLevel
	module string
	file   *lumberjack.Logger
}

var _ Logger = (*ZerologLogger)(nil)

func NewZerologLogger(conf *Config) Logger {
	if conf == nil {
		conf = DefaultConfig()
	}

	file := openLogFile(conf.FileConfig)
	var writers []io.Writer
	if file != nil {
		writers = append(writers, file)
	}
	for _, out := range conf.Outputs {
		writers = append(writers, formatFor(conf.Format, out))
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(w).Level(conf.Level.zerolog()).With().Timestamp()
	if conf.EnableCaller {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}
	root := &ZerologLogger{root: ctx.Logger(), level: conf.Level, file: file}
	return root.scoped(conf.Subsystem)
}

// openLogFile returns a rotating writer for fc, or nil when no file is
// configured or its directory cannot be created.
func openLogFile(fc *FileConfig) *lumberjack.Logger {
	if fc == nil || fc.Filename == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fc.Filename), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		return nil
	}
	return &lumberjack.Logger{
		Filename:   fc.Filename,
		MaxSize:    fc.MaxSize,
		MaxAge:     fc.MaxAge,
		MaxBackups: fc.MaxBackups,
		Compress:   fc.Compress,
		LocalTime:  true,
	}
}

func formatFor(format OutputFormat, out io.Writer) io.Writer {
	if format == JSONFormat {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:           out,
		TimeFormat:    "15:04:05",
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, moduleField, zerolog.MessageFieldName},
		FieldsExclude: []string{moduleField},
	}
}

// scoped returns a logger tagged with module, dropping any fields added
// with WithFields.
func (l *ZerologLogger) scoped(module string) *ZerologLogger {
	zl := l.root
	if module != "" {
		zl = zl.With().Str(moduleField, module).Logger()
	}
	return &ZerologLogger{zl: zl, root: l.root, level: l.level, module: module, file: l.file}
}

func (l *ZerologLogger) Trace(msg string, fields ...TypedField) {
	addToEvent(l.zl.Trace(), fields).Msg(msg)
}

func (l *ZerologLogger) Debug(msg string, fields ...TypedField) {
	addToEvent(l.zl.Debug(), fields).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, fields ...TypedField) {
	addToEvent(l.zl.Info(), fields).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, fields ...TypedField) {
	addToEvent(l.zl.Warn(), fields).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, fields ...TypedField) {
	addToEvent(l.zl.Error(), fields).Msg(msg)
}

func (l *ZerologLogger) WithSubsystem(name string) Logger {
	if l.module != "" {
		name = l.module + "." + name
	}
	return l.scoped(name)
}

func (l *ZerologLogger) WithSystem(name string) Logger {
	return l.scoped(name)
}

func (l *ZerologLogger) WithFields(fields ...TypedField) Logger {
	out := *l
	out.zl = addToContext(l.zl.With(), fields).Logger()
	return &out
}

func (l *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= l.level
}

// Close closes the rotating log file, if any.
func (l *ZerologLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
