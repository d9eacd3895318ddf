// Package build carries the logging plumbing shared by the actorctl binary:
// a fan-out handler that mirrors one record stream to several sinks, and a
// rotating file sink for the on-disk half of that fan-out.
package build

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
	"github.com/jrick/logrotate/rotator"
)

// MultiHandler mirrors every log record to each of its sinks, so one logger
// can feed the console and a rotating file at once. A record is considered
// enabled if any sink wants it; each sink then filters for itself inside
// Handle.
type MultiHandler struct {
	level btclog.Level
	sinks []btclogv2.Handler
}

// NewMultiHandler builds a MultiHandler over sinks, levelled at Info.
func NewMultiHandler(sinks ...btclogv2.Handler) *MultiHandler {
	m := &MultiHandler{sinks: sinks}
	m.SetLevel(btclog.LevelInfo)
	return m
}

// remap builds a new MultiHandler whose sinks are f applied to each of the
// receiver's sinks, preserving the level.
func (m *MultiHandler) remap(f func(btclogv2.Handler) btclogv2.Handler) *MultiHandler {
	next := &MultiHandler{
		level: m.level,
		sinks: make([]btclogv2.Handler, len(m.sinks)),
	}
	for i, sink := range m.sinks {
		next.sinks[i] = f(sink)
	}
	return next
}

// Enabled implements slog.Handler: a record is worth building if any sink
// would accept it.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range m.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler, dispatching record to every sink that
// accepts its level. All sinks are attempted even if one fails; the first
// error is returned.
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, sink := range m.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs implements slog.Handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fan := make(slogFanout, len(m.sinks))
	for i, sink := range m.sinks {
		fan[i] = sink.WithAttrs(attrs)
	}
	return fan
}

// WithGroup implements slog.Handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	fan := make(slogFanout, len(m.sinks))
	for i, sink := range m.sinks {
		fan[i] = sink.WithGroup(name)
	}
	return fan
}

// SubSystem implements btclog.Handler, tagging every sink.
func (m *MultiHandler) SubSystem(tag string) btclogv2.Handler {
	return m.remap(func(sink btclogv2.Handler) btclogv2.Handler {
		return sink.SubSystem(tag)
	})
}

// WithPrefix implements btclog.Handler, prefixing every sink.
func (m *MultiHandler) WithPrefix(prefix string) btclogv2.Handler {
	return m.remap(func(sink btclogv2.Handler) btclogv2.Handler {
		return sink.WithPrefix(prefix)
	})
}

// SetLevel implements btclog.Handler, lowering or raising every sink.
func (m *MultiHandler) SetLevel(level btclog.Level) {
	for _, sink := range m.sinks {
		sink.SetLevel(level)
	}
	m.level = level
}

// Level implements btclog.Handler.
func (m *MultiHandler) Level() btclog.Level {
	return m.level
}

var _ btclogv2.Handler = (*MultiHandler)(nil)

// slogFanout is the plain-slog shadow of MultiHandler, produced by
// WithAttrs/WithGroup, whose results are slog.Handlers rather than btclog
// ones.
type slogFanout []slog.Handler

// Enabled implements slog.Handler.
func (s slogFanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range s {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (s slogFanout) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, sink := range s {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs implements slog.Handler.
func (s slogFanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	fan := make(slogFanout, len(s))
	for i, sink := range s {
		fan[i] = sink.WithAttrs(attrs)
	}
	return fan
}

// WithGroup implements slog.Handler.
func (s slogFanout) WithGroup(name string) slog.Handler {
	fan := make(slogFanout, len(s))
	for i, sink := range s {
		fan[i] = sink.WithGroup(name)
	}
	return fan
}

var _ slog.Handler = (slogFanout)(nil)

const (
	// defaultMaxLogFiles is how many rotated files are kept before the
	// oldest is deleted.
	defaultMaxLogFiles = 10

	// defaultMaxFileSizeMB is the size at which the live log file is
	// rotated.
	defaultMaxFileSizeMB = 20

	// defaultLogFilename is the live log file's name within the log
	// directory.
	defaultLogFilename = "actorctl.log"
)

// rotatorOpts collects the tunables of a FileRotator.
type rotatorOpts struct {
	maxFiles   int
	maxSizeMB  int
	filename   string
	noCompress bool
}

// RotatorOption tunes NewFileRotator away from its defaults.
type RotatorOption func(*rotatorOpts)

// WithMaxLogFiles bounds how many rotated files are kept. Zero disables
// rotation entirely (one file, unbounded growth).
func WithMaxLogFiles(n int) RotatorOption {
	return func(o *rotatorOpts) { o.maxFiles = n }
}

// WithMaxFileSizeMB sets the rotation threshold in megabytes.
func WithMaxFileSizeMB(n int) RotatorOption {
	return func(o *rotatorOpts) { o.maxSizeMB = n }
}

// WithLogFilename overrides the live log file's name.
func WithLogFilename(name string) RotatorOption {
	return func(o *rotatorOpts) { o.filename = name }
}

// WithoutCompression keeps rotated files uncompressed.
func WithoutCompression() RotatorOption {
	return func(o *rotatorOpts) { o.noCompress = true }
}

// FileRotator is an io.WriteCloser feeding a size-rotated, optionally
// gzip-compressed log file under a fixed directory.
type FileRotator struct {
	pipe *io.PipeWriter
	rot  *rotator.Rotator
}

// NewFileRotator creates the log directory if needed and starts the rotator
// goroutine; the returned writer is ready for use immediately.
func NewFileRotator(logDir string, opts ...RotatorOption) (*FileRotator, error) {
	o := rotatorOpts{
		maxFiles:  defaultMaxLogFiles,
		maxSizeMB: defaultMaxFileSizeMB,
		filename:  defaultLogFilename,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logFile := filepath.Join(logDir, o.filename)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// The rotator takes its threshold in kilobytes.
	rot, err := rotator.New(
		logFile, int64(o.maxSizeMB*1024), false, o.maxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	if !o.noCompress {
		rot.SetCompressor(gzip.NewWriter(nil), ".gz")
	}

	// The rotator consumes from the read end of a pipe on its own
	// goroutine; writes land on the write end. A rotator failure is
	// reported to stderr, since the rotator itself is the log sink.
	pr, pw := io.Pipe()
	go func() {
		if err := rot.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr,
				"log rotator stopped: %v\n", err)
		}
	}()

	return &FileRotator{pipe: pw, rot: rot}, nil
}

// Write implements io.Writer.
func (f *FileRotator) Write(p []byte) (int, error) {
	return f.pipe.Write(p)
}

// Close implements io.Closer, flushing and stopping the rotator goroutine.
func (f *FileRotator) Close() error {
	return f.pipe.Close()
}
