package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// TypedField is one structured key/value attached to a log line.
type TypedField struct {
	Key   string
	Value interface{}
}

func String(key, value string) TypedField { return TypedField{key, value} }

func Int(key string, value int) TypedField { return TypedField{key, value} }

func Bool(key string, value bool) TypedField { return TypedField{key, value} }

func Duration(key string, value time.Duration) TypedField { return TypedField{key, value} }

func Time(key string, value time.Time) TypedField { return TypedField{key, value} }

// Err attaches err under the "error" key.
func Err(err error) TypedField { return TypedField{"error", err} }

func Any(key string, value interface{}) TypedField { return TypedField{key, value} }

// fieldWriter holds the typed setters of a *zerolog.Event or a
// zerolog.Context.
type fieldWriter[T any] struct {
	str  func(string, string) T
	num  func(string, int) T
	flag func(string, bool) T
	dur  func(string, time.Duration) T
	at   func(string, time.Time) T
	err  func(string, error) T
	any  func(string, interface{}) T
}

func (w fieldWriter[T]) write(f TypedField) T {
	switch v := f.Value.(type) {
	case string:
		return w.str(f.Key, v)
	case int:
		return w.num(f.Key, v)
	case bool:
		return w.flag(f.Key, v)
	case time.Duration:
		return w.dur(f.Key, v)
	case time.Time:
		return w.at(f.Key, v)
	case error:
		return w.err(f.Key, v)
	default:
		return w.any(f.Key, v)
	}
}

func addToEvent(e *zerolog.Event, fields []TypedField) *zerolog.Event {
	for _, f := range fields {
		e = fieldWriter[*zerolog.Event]{e.Str, e.Int, e.Bool, e.Dur, e.Time, e.AnErr, e.Interface}.write(f)
	}
	return e
}

func addToContext(c zerolog.Context, fields []TypedField) zerolog.Context {
	for _, f := range fields {
		c = fieldWriter[zerolog.Context]{c.Str, c.Int, c.Bool, c.Dur, c.Time, c.AnErr, c.Interface}.write(f)
	}
	return c
}
