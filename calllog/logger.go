// Package calllog keeps the append-only audit trail of outbound model calls.
//
// Entries are written one JSON object per line. Writes are serialized by a
// mutex and failures never reach the caller.
package calllog

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	CallsFile  = "api_calls.log"
	ErrorsFile = "api_errors.log"

	DefaultMaxBytes int64 = 10 * 1024 * 1024
	timestampFormat       = "2006-01-02 15:04:05"
	cliIP                 = "CLI"
)

// DefaultArchiveTimeout bounds one upload of a rotated file.
const DefaultArchiveTimeout = 2 * time.Minute

// CallAttempt is one outbound request and its outcome. It is not modified
// after it has been recorded.
type CallAttempt struct {
	RequestID string
	Service   string
	Attempt   int
	Request   any
	Response  any
	Err       error
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
}

// Archiver receives rotated, compressed log files.
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

type Options struct {
	Dir      string
	MaxBytes int64
	Enabled  bool
	Archiver Archiver

	// ArchiveTimeout bounds one upload. Defaults to DefaultArchiveTimeout.
	ArchiveTimeout time.Duration

	// Logger receives diagnostics about the audit log itself.
	Logger zerolog.Logger
}

type Logger struct {
	opts Options
	mu   sync.Mutex
	now  func() time.Time

	uploads sync.WaitGroup
}

func New(opts Options) *Logger {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join("storage", "logs")
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = DefaultArchiveTimeout
	}
	return &Logger{opts: opts, now: time.Now}
}

// Dir returns the directory the log files live in.
func (l *Logger) Dir() string {
	return l.opts.Dir
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address to ctx for the audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or "CLI".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return cliIP
}

// Record appends a call event.
func (l *Logger) Record(ctx context.Context, a CallAttempt) {
	if l == nil || !l.opts.Enabled {
		return
	}
	start := a.StartedAt
	if start.IsZero() {
		start = l.now()
	}

	response := a.Response
	if a.Err != nil && response == nil {
		response = map[string]any{"error": a.Err.Error()}
	}

	l.write(ctx, CallsFile, func(e *zerolog.Event) {
		e.Str("timestamp", start.Format(timestampFormat))
		if a.RequestID != "" {
			e.Str("request_id", a.RequestID)
		}
		e.Str("service", a.Service)
		if a.Attempt > 0 {
			e.Int("attempt", a.Attempt)
		}
		e.Bool("success", a.Success).
			Float64("duration", round(a.Duration.Seconds(), 3)).
			Interface("request", Redact(a.Request)).
			Interface("response", Redact(response)).
			Str("memory_usage", memoryUsage()).
			Str("ip", ClientIP(ctx))
	})
}

// RecordError appends an event to the error stream.
func (l *Logger) RecordError(ctx context.Context, service string, err error, details map[string]any) {
	if l == nil || !l.opts.Enabled {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	trace := callerTrace(3, 5)

	l.write(ctx, ErrorsFile, func(e *zerolog.Event) {
		e.Str("timestamp", l.now().Format(timestampFormat)).
			Str("service", service).
			Str("error", msg).
			Interface("context", Redact(details)).
			Strs("trace", trace).
			Str("ip", ClientIP(ctx))
	})
}

func (l *Logger) write(ctx context.Context, name string, fill func(e *zerolog.Event)) {
	if gz := l.appendLine(name, fill); gz != "" {
		l.archive(ctx, gz)
	}
}

// appendLine writes one entry under the lock and returns the compressed file
// when the write triggered a rotation.
func (l *Logger) appendLine(name string, fill func(e *zerolog.Event)) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.opts.Dir, 0o755); err != nil {
		l.opts.Logger.Warn().Err(err).Str("dir", l.opts.Dir).Msg("audit log directory unavailable")
		return ""
	}

	path := filepath.Join(l.opts.Dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.opts.Logger.Warn().Err(err).Str("file", path).Msg("failed to open audit log")
		return ""
	}

	w := &errWriter{w: f}
	zl := zerolog.New(w)
	ev := zl.Log()
	fill(ev)
	ev.Msg("")

	if cerr := f.Close(); w.err == nil {
		w.err = cerr
	}
	if w.err != nil {
		l.opts.Logger.Warn().Err(w.err).Str("file", path).Msg("failed to write audit log")
		return ""
	}

	if name != CallsFile {
		return ""
	}
	return l.rotateIfNeeded(path)
}

// errWriter remembers the first write error, which zerolog would otherwise
// only report on stderr.
type errWriter struct {
	w   *os.File
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

var memoryUnits = []string{"B", "KB", "MB", "GB"}

func memoryUsage() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return formatBytes(ms.Sys)
}

func formatBytes(n uint64) string {
	if n == 0 {
		return "0 B"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(memoryUnits)-1 {
		v /= 1024
		i++
	}
	return strconv.FormatFloat(round(v, 2), 'f', -1, 64) + " " + memoryUnits[i]
}

func callerTrace(skip, depth int) []string {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	trace := make([]string, 0, n)
	for {
		fr, more := frames.Next()
		trace = append(trace, fmt.Sprintf("%s %s:%d", fr.Function, filepath.Base(fr.File), fr.Line))
		if !more {
			break
		}
	}
	return trace
}
