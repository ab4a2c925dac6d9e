package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/config"
	"github.com/wippyai/tracehost/engine"
	"github.com/wippyai/tracehost/render"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	sink      render.Sink
	logger    *zap.Logger
	picker    func()
	engine    engine.Config
	chunkSize int
	strict    bool
}

// WithSink sets the draw-call sink. The default is a render.Recorder.
func WithSink(sink render.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger sets the logger used by the runtime and every instance.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFilePicker sets the callback run when the guest calls
// request_file_picker. The callback must not block; it is expected to post
// a LoadEvent once the user has chosen a file.
func WithFilePicker(fn func()) Option {
	return func(o *options) { o.picker = fn }
}

// WithThreads enables shared memory and the thread-spawn import.
func WithThreads(enabled bool) Option {
	return func(o *options) { o.engine.EnableThreads = enabled }
}

// WithStrictImports makes imports from unknown modules fail loading
// instead of binding to trap stubs.
func WithStrictImports(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithMemoryLimit caps guest memory in 64KiB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(o *options) { o.engine.MemoryLimitPages = pages }
}

// WithCompilationCache keeps compiled guests in dir across runs.
func WithCompilationCache(dir string) Option {
	return func(o *options) { o.engine.CacheDir = dir }
}

// WithChunkSize bounds the chunks the primary instance's loader delivers.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithConfig applies the runtime and loader sections of a configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.engine.EnableThreads = cfg.Runtime.Threads
		o.engine.MemoryLimitPages = cfg.Runtime.MemoryLimitPages
		o.engine.CacheDir = cfg.Runtime.CacheDir
		o.strict = cfg.Runtime.StrictImports
		o.chunkSize = cfg.Loader.ChunkSize
	}
}
