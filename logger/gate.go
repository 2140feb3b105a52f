package logger

import (
	"io"
	"sync"
)

// GateState is whether a GatedWriter passes writes through or holds them.
type GateState int

const (
	GateClosed GateState = iota
	GateOpen
)

// GatedWriterConfig configures a GatedWriter.
type GatedWriterConfig struct {
	Underlying   io.Writer
	InitialState GateState

	// MaxBufferSize caps the held bytes; the oldest writes are dropped
	// whole to make room. Zero means no cap.
	MaxBufferSize int
}

// GatedWriter holds writes while closed and replays them, in order, when
// the gate opens.
type GatedWriter struct {
	mu      sync.Mutex
	out     io.Writer
	open    bool
	held    [][]byte
	size    int
	maxSize int
}

func NewGatedWriter(conf GatedWriterConfig) *GatedWriter {
	out := conf.Underlying
	if out == nil {
		out = io.Discard
	}
	return &GatedWriter{
		out:     out,
		open:    conf.InitialState == GateOpen,
		maxSize: conf.MaxBufferSize,
	}
}

func (g *GatedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return g.out.Write(p)
	}

	// zerolog reuses its buffers after Write returns.
	line := append([]byte(nil), p...)
	g.held = append(g.held, line)
	g.size += len(line)
	for g.maxSize > 0 && g.size > g.maxSize && len(g.held) > 1 {
		g.size -= len(g.held[0])
		g.held = g.held[1:]
	}
	return len(p), nil
}

// flushLocked writes every held line. Lines that fail to write stay held.
func (g *GatedWriter) flushLocked() error {
	for len(g.held) > 0 {
		if _, err := g.out.Write(g.held[0]); err != nil {
			return err
		}
		g.size -= len(g.held[0])
		g.held = g.held[1:]
	}
	g.held = nil
	return nil
}

// OpenGate replays the held writes and lets later ones through.
func (g *GatedWriter) OpenGate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true
	return g.flushLocked()
}

// Flush replays the held writes and leaves the gate as it is.
func (g *GatedWriter) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flushLocked()
}

func (g *GatedWriter) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// BufferedSize is the number of bytes held.
func (g *GatedWriter) BufferedSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.size
}

// GatedLogger is a Logger whose output passes through a GatedWriter
// shared by every logger derived from it.
type GatedLogger struct {
	Logger
	gate *GatedWriter
}

// NewGatedLogger builds a zerolog logger for conf writing through a new
// gate. The gate writes to gateConf.Underlying, or to the first output of
// conf when that is unset.
func NewGatedLogger(conf *Config, gateConf GatedWriterConfig) (*GatedLogger, *GatedWriter) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if gateConf.Underlying == nil && len(conf.Outputs) > 0 {
		gateConf.Underlying = conf.Outputs[0]
	}
	gate := NewGatedWriter(gateConf)

	gated := *conf
	gated.Outputs = []io.Writer{gate}
	return &GatedLogger{Logger: NewZerologLogger(&gated), gate: gate}, gate
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *GatedLogger {
	l, _ := NewGatedLogger(&Config{
		Level:   ErrorLevel,
		Format:  JSONFormat,
		Outputs: []io.Writer{io.Discard},
	}, GatedWriterConfig{InitialState: GateOpen})
	return l
}

func (gl *GatedLogger) derive(l Logger) *GatedLogger {
	return &GatedLogger{Logger: l, gate: gl.gate}
}

func (gl *GatedLogger) WithSystem(name string) *GatedLogger {
	return gl.derive(gl.Logger.WithSystem(name))
}

func (gl *GatedLogger) WithSubsystem(name string) *GatedLogger {
	return gl.derive(gl.Logger.WithSubsystem(name))
}

func (gl *GatedLogger) WithFields(fields ...TypedField) *GatedLogger {
	return gl.derive(gl.Logger.WithFields(fields...))
}

func (gl *GatedLogger) OpenGate() error { return gl.gate.OpenGate() }

func (gl *GatedLogger) IsGateOpen() bool { return gl.gate.IsOpen() }

func (gl *GatedLogger) BufferedSize() int { return gl.gate.BufferedSize() }
