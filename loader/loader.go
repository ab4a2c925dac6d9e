package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/handle"
)

// DefaultChunkSize bounds decompressed chunks.
const DefaultChunkSize = 1 << 20

var gzipMagic = []byte{0x1f, 0x8b}

// Guest is the set of guest callbacks a session drives.
type Guest interface {
	ShouldLoadFile(ctx context.Context) (bool, error)
	OnLoadFileStart(ctx context.Context, total uint64, name handle.Handle) error
	OnLoadFileChunk(ctx context.Context, offset uint64, chunk handle.Handle, length uint32) error
	OnLoadFileDone(ctx context.Context) error
}

// ErrorReporter is implemented by guests that want to hear about sessions
// ending in an I/O, decompression or cancellation failure. The reason is a
// string handle owned by the guest.
type ErrorReporter interface {
	OnLoadFileError(ctx context.Context, reason handle.Handle) error
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithChunkSize bounds the size of decompressed chunks.
func WithChunkSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

// Loader runs loading sessions against one guest execution context.
type Loader struct {
	guest     Guest
	table     *handle.Table
	logger    *zap.Logger
	sess      *session
	progress  Progress
	chunkSize int
	state     atomic.Int32
	cancelled atomic.Bool
	mu        sync.Mutex
}

type session struct {
	src      Source
	raw      *chunkReader
	stage    io.Reader
	closer   io.Closer
	pending  []byte
	name     string
	encoding string
}

// New creates an idle loader delivering chunks through table.
func New(guest Guest, table *handle.Table, opts ...Option) *Loader {
	l := &Loader{
		guest:     guest,
		table:     table,
		logger:    zap.NewNop(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Active reports whether a session is in progress.
func (l *Loader) Active() bool {
	return l.State().Active()
}

// Progress returns a snapshot of the current or last session.
func (l *Loader) Progress() Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.progress
	p.State = l.State()
	return p
}

// Cancel aborts the active session at its next Step.
func (l *Loader) Cancel() {
	if l.Active() {
		l.cancelled.Store(true)
	}
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loader) update(fn func(p *Progress)) {
	l.mu.Lock()
	fn(&l.progress)
	l.mu.Unlock()
}

// Begin starts a session for src. The loader owns src from here on and
// closes it when the request is rejected or the session ends. A request
// made while a session is active is rejected with KindBusy and leaves that
// session untouched. If the guest declines, the source is never read.
func (l *Loader) Begin(ctx context.Context, src Source) error {
	if l.Active() {
		_ = src.Close()
		l.logger.Debug("load rejected, session active", zap.String("name", src.Name()))
		return errors.Busy(errors.PhaseLoad, "load session")
	}

	l.cancelled.Store(false)
	l.setState(StateAwaitingAccept)
	l.mu.Lock()
	l.progress = Progress{Name: src.Name(), Total: uint64(max(src.Size(), 0))}
	l.mu.Unlock()

	ok, err := l.guest.ShouldLoadFile(ctx)
	if err != nil {
		_ = src.Close()
		l.end(StateAborted, err)
		return err
	}
	if !ok {
		_ = src.Close()
		l.end(StateAborted, nil)
		l.logger.Debug("load declined by guest", zap.String("name", src.Name()))
		return errors.New(errors.PhaseLoad, errors.KindRejected).Detail("guest declined %q", src.Name()).Build()
	}

	name, err := l.table.StoreString(src.Name())
	if err != nil {
		_ = src.Close()
		l.end(StateAborted, err)
		return err
	}

	l.sess = &session{src: src, name: src.Name()}
	l.sess.raw = &chunkReader{src: src, onRead: l.addUnderlying}
	if es, ok := src.(EncodedSource); ok {
		l.sess.encoding = es.Encoding()
	}

	total := uint64(max(src.Size(), 0))
	if err := l.guest.OnLoadFileStart(ctx, total, name); err != nil {
		l.release(StateAborted, err)
		return err
	}

	l.setState(StateDetecting)
	l.logger.Info("load started", zap.String("name", src.Name()), zap.Uint64("total", total))
	return nil
}

func (l *Loader) addUnderlying(n int) {
	l.update(func(p *Progress) { p.Underlying += uint64(n) })
}

// Step advances the session by at most one chunk and returns the new state.
// A returned error means the session ended unsuccessfully; the loader is
// idle again and accepts a new Begin.
func (l *Loader) Step(ctx context.Context) (State, error) {
	state := l.State()
	if state < StateDetecting || state > StateDraining {
		return state, nil
	}

	if l.cancelled.Load() {
		return l.fail(ctx, errors.New(errors.PhaseLoad, errors.KindCancelled).Detail("load cancelled").Build())
	}
	if err := ctx.Err(); err != nil {
		return l.fail(ctx, errors.Wrap(errors.PhaseLoad, errors.KindCancelled, err, "load cancelled"))
	}

	ok, err := l.guest.ShouldLoadFile(ctx)
	if err != nil {
		l.release(StateAborted, err)
		return StateAborted, err
	}
	if !ok {
		l.logger.Debug("load discarded by guest", zap.String("name", l.sess.name))
		l.release(StateAborted, nil)
		return StateAborted, nil
	}

	l.sess.raw.ctx = ctx
	defer func() {
		if l.sess != nil {
			l.sess.raw.ctx = nil
		}
	}()

	if state == StateDetecting {
		if err := l.detect(); err != nil {
			return l.fail(ctx, err)
		}
		l.setState(StateStreaming)
	}

	if l.sess.stage == nil {
		return l.stepPassthrough(ctx)
	}
	return l.stepDecoded(ctx)
}

// detect reads until two bytes are buffered or the source ends, then
// chooses the decompression stage.
func (l *Loader) detect() error {
	s := l.sess
	var sniff []byte
	for len(sniff) < len(gzipMagic) {
		data, err := s.src.Next(s.raw.ctx)
		if len(data) > 0 {
			l.addUnderlying(len(data))
			sniff = append(sniff, data...)
		}
		if err == io.EOF {
			s.raw.eof = true
			break
		}
		if err != nil {
			return sourceError(err)
		}
	}

	switch {
	case bytes.HasPrefix(sniff, gzipMagic):
		s.raw.buf = sniff
		zr, err := gzip.NewReader(s.raw)
		if err != nil {
			return l.stageError(err, "gzip")
		}
		s.stage, s.closer, s.encoding = zr, zr, "gzip"
	case s.encoding == "br":
		s.raw.buf = sniff
		s.stage = brotli.NewReader(s.raw)
	default:
		s.pending = sniff
		s.encoding = ""
	}

	enc := s.encoding
	l.update(func(p *Progress) { p.Encoding = enc })
	if enc != "" {
		l.logger.Debug("decompression stage inserted", zap.String("encoding", enc))
	}
	return nil
}

func (l *Loader) stepPassthrough(ctx context.Context) (State, error) {
	s := l.sess
	data := s.pending
	s.pending = nil

	if len(data) == 0 {
		if s.raw.eof {
			return l.finish(ctx)
		}
		next, err := s.src.Next(ctx)
		if len(next) > 0 {
			l.addUnderlying(len(next))
			data = next
		}
		if err == io.EOF {
			s.raw.eof = true
		} else if err != nil {
			return l.fail(ctx, sourceError(err))
		}
	}

	if len(data) > 0 {
		if err := l.deliver(ctx, data); err != nil {
			l.release(StateAborted, err)
			return StateAborted, err
		}
	}
	if s.raw.eof && len(s.pending) == 0 {
		return l.finish(ctx)
	}
	return l.State(), nil
}

func (l *Loader) stepDecoded(ctx context.Context) (State, error) {
	s := l.sess
	buf := make([]byte, l.chunkSize)
	n, err := readChunk(s.stage, buf, s.raw.exhausted)
	if s.raw.eof && l.State() == StateStreaming {
		l.setState(StateDraining)
	}

	if n > 0 {
		if derr := l.deliver(ctx, buf[:n]); derr != nil {
			l.release(StateAborted, derr)
			return StateAborted, derr
		}
	}

	switch err {
	case nil:
		return l.State(), nil
	case io.EOF:
		return l.finish(ctx)
	default:
		return l.fail(ctx, l.stageError(err, s.encoding))
	}
}

// readChunk reads from r until it yields bytes or fails. It keeps filling
// buf only once the raw source is exhausted, since further reads can no
// longer block on it; this lets the final chunk and end of stream land in
// the same step.
func readChunk(r io.Reader, buf []byte, exhausted func() bool) (int, error) {
	var n int
	var err error
	for n == 0 && err == nil {
		n, err = r.Read(buf)
	}
	for err == nil && n < len(buf) && exhausted() {
		var m int
		m, err = r.Read(buf[n:])
		n += m
	}
	return n, err
}

func (l *Loader) stageError(err error, encoding string) error {
	if raw := l.sess.raw.err; raw != nil {
		return sourceError(raw)
	}
	return errors.Decompress(err, encoding)
}

func (l *Loader) deliver(ctx context.Context, data []byte) error {
	h, err := l.table.StoreBytes(data)
	if err != nil {
		return err
	}
	var offset uint64
	l.update(func(p *Progress) {
		offset = p.Logical
		p.Logical += uint64(len(data))
		p.Chunks++
	})
	return l.guest.OnLoadFileChunk(ctx, offset, h, uint32(len(data)))
}

func (l *Loader) finish(ctx context.Context) (State, error) {
	if err := l.guest.OnLoadFileDone(ctx); err != nil {
		l.release(StateAborted, err)
		return StateAborted, err
	}
	p := l.Progress()
	l.logger.Info("load done",
		zap.String("name", p.Name),
		zap.String("encoding", p.Encoding),
		zap.Uint64("raw_bytes", p.Underlying),
		zap.Uint64("bytes", p.Logical),
		zap.Int("chunks", p.Chunks))
	l.release(StateDone, nil)
	return StateDone, nil
}

// fail ends the session after a recoverable failure and tells the guest.
func (l *Loader) fail(ctx context.Context, cause error) (State, error) {
	l.logger.Warn("load failed", zap.String("name", l.sess.name), zap.Error(cause))
	l.release(StateAborted, cause)

	if reporter, ok := l.guest.(ErrorReporter); ok {
		reason, err := l.table.StoreString(cause.Error())
		if err == nil {
			if rerr := reporter.OnLoadFileError(ctx, reason); rerr != nil {
				return StateAborted, rerr
			}
		}
	}
	return StateAborted, cause
}

func (l *Loader) release(state State, cause error) {
	if s := l.sess; s != nil {
		if s.closer != nil {
			_ = s.closer.Close()
		}
		if err := s.src.Close(); err != nil {
			l.logger.Debug("source close", zap.Error(err))
		}
		l.sess = nil
	}
	l.end(state, cause)
}

func (l *Loader) end(state State, cause error) {
	l.update(func(p *Progress) { p.Err = cause })
	l.setState(state)
}

// Run steps the session until it ends.
func (l *Loader) Run(ctx context.Context) error {
	for {
		state, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if !state.Active() {
			return nil
		}
	}
}

// Load begins a session for src and runs it to the end.
func (l *Loader) Load(ctx context.Context, src Source) error {
	if err := l.Begin(ctx, src); err != nil {
		return err
	}
	return l.Run(ctx)
}

func sourceError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.PhaseLoad, errors.KindCancelled, err, "load cancelled")
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.IO(err, "read source")
}

// chunkReader presents a Source as an io.Reader for decompression stages.
type chunkReader struct {
	ctx    context.Context
	src    Source
	err    error
	onRead func(int)
	buf    []byte
	eof    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if r.err != nil {
			return 0, r.err
		}
		ctx := r.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		data, err := r.src.Next(ctx)
		if len(data) > 0 {
			r.onRead(len(data))
			r.buf = data
		}
		if err == io.EOF {
			r.eof = true
		} else if err != nil {
			r.err = err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// exhausted reports whether the source has nothing left to block on.
func (r *chunkReader) exhausted() bool {
	return r.eof || r.err != nil
}

// Close releases an active session without calling the guest.
func (l *Loader) Close() {
	if l.sess == nil {
		return
	}
	l.release(StateAborted, errors.New(errors.PhaseLoad, errors.KindCancelled).Detail("loader closed").Build())
}
