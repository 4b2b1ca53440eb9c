package diagnostics

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogTail is a zapcore.Core that keeps the last encoded log lines in memory
// so they can be attached to a failed task.
type LogTail struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	buf *ring
}

type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewLogTail returns a core keeping up to lines entries at or above level.
func NewLogTail(lines int, level zapcore.LevelEnabler) *LogTail {
	if lines <= 0 {
		lines = 500
	}
	if level == nil {
		level = zapcore.DebugLevel
	}
	return &LogTail{
		LevelEnabler: level,
		enc:          zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		buf:          &ring{lines: make([]string, lines)},
	}
}

func (t *LogTail) With(fields []zapcore.Field) zapcore.Core {
	clone := &LogTail{LevelEnabler: t.LevelEnabler, enc: t.enc.Clone(), buf: t.buf}
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return clone
}

func (t *LogTail) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return ce.AddCore(ent, t)
	}
	return ce
}

func (t *LogTail) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	b, err := t.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := strings.TrimRight(b.String(), "\n")
	b.Free()
	t.buf.add(line)
	return nil
}

func (t *LogTail) Sync() error { return nil }

// Lines returns the kept lines oldest first.
func (t *LogTail) Lines() []string {
	return t.buf.snapshot()
}

// Bytes returns the kept lines joined by newlines.
func (t *LogTail) Bytes() []byte {
	lines := t.Lines()
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Reset drops every kept line.
func (t *LogTail) Reset() {
	t.buf.mu.Lock()
	defer t.buf.mu.Unlock()
	clear(t.buf.lines)
	t.buf.next = 0
	t.buf.full = false
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
