package runtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/abi"
	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/handle"
	"github.com/wippyai/tracehost/loader"
	"github.com/wippyai/tracehost/memory"
)

// instanceKey is the context key for the execution context making a call.
type instanceKey struct{}

// WithInstance returns a context carrying inst. Host imports resolve the
// calling execution context from it.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

// InstanceFromContext extracts the instance from context, or nil if not present.
func InstanceFromContext(ctx context.Context) *Instance {
	if inst, ok := ctx.Value(instanceKey{}).(*Instance); ok {
		return inst
	}
	return nil
}

// Instance is one execution context: an instantiation of the guest module
// with its own handle table and memory accessor. The primary instance also
// owns the streaming loader. An Instance must be called from one goroutine.
//
// The first failed call aborts the instance; every later call returns an
// error of kind aborted wrapping the original failure.
type Instance struct {
	rt       *Runtime
	mod      api.Module
	table    *handle.Table
	mem      *memory.Accessor
	loader   *loader.Loader
	logger   *zap.Logger
	handles  *handle.LogObserver
	abortErr atomic.Pointer[errors.Error]
	started  time.Time
	name     string
	appCtx   uint32
	tid      int32
	closeMu  sync.Mutex
	closed   bool
}

func newInstance(r *Runtime, mod api.Module, name string, tid int32) *Instance {
	logger := r.logger.With(zap.String("context", name), zap.Int32("tid", tid))
	i := &Instance{
		rt:      r,
		mod:     mod,
		table:   handle.NewTable(),
		mem:     memory.NewAccessor(mod.Memory()),
		logger:  logger,
		started: time.Now(),
		name:    name,
		tid:     tid,
	}
	i.handles = handle.NewLogObserver(logger)
	i.table.Subscribe(i.handles)

	if tid == 0 {
		i.loader = loader.New(i.loadGuest(), i.table,
			loader.WithLogger(logger.Named("loader")),
			loader.WithChunkSize(r.opts.chunkSize))
	}
	return i
}

// Name returns the module name of the context.
func (i *Instance) Name() string { return i.name }

// TID returns the thread id, 0 for the primary context.
func (i *Instance) TID() int32 { return i.tid }

// Worker reports whether the context was created by thread-spawn.
func (i *Instance) Worker() bool { return i.tid != 0 }

// Table returns the context's handle table.
func (i *Instance) Table() *handle.Table { return i.table }

// Memory returns the context's memory accessor.
func (i *Instance) Memory() *memory.Accessor { return i.mem }

// Loader returns the streaming loader, nil for workers.
func (i *Instance) Loader() *loader.Loader { return i.loader }

// AppContext returns the value init returned.
func (i *Instance) AppContext() uint32 { return i.appCtx }

// Err returns the error that aborted the instance, or nil.
func (i *Instance) Err() error {
	if e := i.abortErr.Load(); e != nil {
		return e
	}
	return nil
}

// Aborted reports whether a call has failed.
func (i *Instance) Aborted() bool {
	return i.abortErr.Load() != nil
}

func (i *Instance) abort(e *errors.Error) {
	if i.abortErr.CompareAndSwap(nil, e) {
		i.logger.Error("instance aborted",
			zap.String("kind", string(e.Kind)),
			zap.Bool("violation", e.Fatal()),
			zap.Error(e))
	}
}

func (i *Instance) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if e := i.abortErr.Load(); e != nil {
		return nil, errors.Aborted(i.name, e)
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	results, err := fn.Call(WithInstance(ctx, i), params...)
	if err != nil {
		var e *errors.Error
		if !stderrors.As(err, &e) {
			e = errors.Trap(name, err)
		}
		i.abort(e)
		return nil, e
	}
	return results, nil
}

func (i *Instance) has(export string) bool {
	return i.mod.ExportedFunction(export) != nil
}

func encodeBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Init stores the font bytes as a handle and calls init. The guest owns
// the font handle from then on.
func (i *Instance) Init(ctx context.Context, p InitParams) error {
	var font handle.Handle
	if len(p.Font) > 0 {
		h, err := i.table.StoreBytes(p.Font)
		if err != nil {
			return errors.Wrap(errors.PhaseHandle, errors.KindInvalidInput, err, "store font")
		}
		font = h
	}
	results, err := i.call(ctx, abi.Init,
		api.EncodeU32(p.Width),
		api.EncodeU32(p.Height),
		api.EncodeF32(p.PixelRatio),
		uint64(font),
		api.EncodeU32(uint32(len(p.Font))),
		api.EncodeF32(p.FontSize))
	if err != nil {
		return err
	}
	i.appCtx = api.DecodeU32(results[0])
	i.logger.Info("guest initialized",
		zap.Uint32("width", p.Width),
		zap.Uint32("height", p.Height),
		zap.Int("font_bytes", len(p.Font)))
	return nil
}

func (i *Instance) OnResize(ctx context.Context, w, h uint32) error {
	_, err := i.call(ctx, abi.OnResize, api.EncodeU32(i.appCtx), api.EncodeU32(w), api.EncodeU32(h))
	return err
}

func (i *Instance) OnMousePos(ctx context.Context, x, y float32) error {
	_, err := i.call(ctx, abi.OnMousePos, api.EncodeU32(i.appCtx), api.EncodeF32(x), api.EncodeF32(y))
	return err
}

func (i *Instance) OnMouseButton(ctx context.Context, button uint32, down bool) error {
	_, err := i.call(ctx, abi.OnMouseButton, api.EncodeU32(i.appCtx), api.EncodeU32(button), encodeBool(down))
	return err
}

func (i *Instance) OnMouseWheel(ctx context.Context, dx, dy float32) error {
	_, err := i.call(ctx, abi.OnMouseWheel, api.EncodeU32(i.appCtx), api.EncodeF32(dx), api.EncodeF32(dy))
	return err
}

func (i *Instance) OnKey(ctx context.Context, key uint32, down bool) error {
	_, err := i.call(ctx, abi.OnKey, api.EncodeU32(i.appCtx), api.EncodeU32(key), encodeBool(down))
	return err
}

func (i *Instance) OnFocus(ctx context.Context, focused bool) error {
	_, err := i.call(ctx, abi.OnFocus, api.EncodeU32(i.appCtx), encodeBool(focused))
	return err
}

// Update advances the guest by dt seconds.
func (i *Instance) Update(ctx context.Context, dt float32) error {
	_, err := i.call(ctx, abi.Update, api.EncodeU32(i.appCtx), api.EncodeF32(dt))
	return err
}

func (i *Instance) ShouldLoadFile(ctx context.Context) (bool, error) {
	results, err := i.call(ctx, abi.ShouldLoadFile, api.EncodeU32(i.appCtx))
	if err != nil {
		return false, err
	}
	return api.DecodeU32(results[0]) != 0, nil
}

func (i *Instance) OnLoadFileStart(ctx context.Context, total uint64, name handle.Handle) error {
	_, err := i.call(ctx, abi.OnLoadFileStart, api.EncodeU32(i.appCtx), total, uint64(name))
	return err
}

func (i *Instance) OnLoadFileChunk(ctx context.Context, offset uint64, chunk handle.Handle, length uint32) error {
	_, err := i.call(ctx, abi.OnLoadFileChunk, api.EncodeU32(i.appCtx), offset, uint64(chunk), api.EncodeU32(length))
	return err
}

func (i *Instance) OnLoadFileDone(ctx context.Context) error {
	_, err := i.call(ctx, abi.OnLoadFileDone, api.EncodeU32(i.appCtx))
	return err
}

// reportingInstance adds the optional load error callback.
type reportingInstance struct {
	*Instance
}

func (r reportingInstance) OnLoadFileError(ctx context.Context, reason handle.Handle) error {
	_, err := r.call(ctx, abi.OnLoadFileError, api.EncodeU32(r.appCtx), uint64(reason))
	return err
}

func (i *Instance) loadGuest() loader.Guest {
	if i.has(abi.OnLoadFileError) {
		return reportingInstance{i}
	}
	return i
}

// threadStart runs the worker entry point.
func (i *Instance) threadStart(ctx context.Context, arg uint32) error {
	_, err := i.call(ctx, abi.ThreadStart, api.EncodeI32(i.tid), api.EncodeU32(arg))
	return err
}

// Close releases the loader session, frees every live handle and closes
// the module. Shared memory outlives the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.closeMu.Lock()
	defer i.closeMu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	if i.loader != nil {
		i.loader.Close()
	}
	if n := i.table.Len(); n > 0 {
		i.logger.Debug("freeing live handles at close", zap.Int("live", n))
	}
	err := i.table.Close()
	err = multierr.Append(err, i.mod.Close(ctx))
	i.logger.Debug("instance closed",
		zap.Uint64("handles_stored", i.handles.Stored()),
		zap.Uint64("handles_freed", i.handles.Freed()))
	return err
}
