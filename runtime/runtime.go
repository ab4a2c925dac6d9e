package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/abi"
	"github.com/wippyai/tracehost/engine"
	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/render"
)

// PrimaryName is the module name of the primary execution context.
const PrimaryName = "main"

// Runtime hosts one compiled guest: its host import modules, the memory it
// imports, the primary execution context and any worker contexts.
type Runtime struct {
	engine  *engine.Engine
	guest   *engine.Guest
	plan    *abi.Plan
	memory  api.Module
	sink    render.Sink
	logger  *zap.Logger
	spawner *Spawner
	primary *Instance
	opts    options
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
}

// New compiles wasm, checks its exports and imports against the host ABI
// and instantiates the host modules. No guest code runs until Start.
func New(ctx context.Context, wasm []byte, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.sink == nil {
		o.sink = render.NewRecorder()
	}

	eng, err := engine.New(ctx, &o.engine, o.logger)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		engine:  eng,
		sink:    o.sink,
		logger:  o.logger,
		opts:    o,
		started: time.Now(),
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.spawner = newSpawner(r)

	if err := r.load(ctx, wasm); err != nil {
		r.cancel()
		return nil, multierr.Append(err, eng.Close(ctx))
	}
	return r, nil
}

func (r *Runtime) load(ctx context.Context, wasm []byte) error {
	guest, err := r.engine.Compile(ctx, wasm)
	if err != nil {
		return err
	}
	r.guest = guest

	if err := abi.ValidateExports(guest.Exports, abi.GuestExports, r.usesThreads()); err != nil {
		return err
	}

	plan, err := abi.Resolve(guest.Imports, r.opts.strict)
	if err != nil {
		return err
	}
	r.plan = plan

	if guest.ImportsMemory() {
		for _, module := range plan.Modules() {
			if module == guest.Memory.Module {
				return errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
					Path(module).
					Detail("module %q provides both memory and functions", module).
					Build()
			}
		}
		mem, err := r.engine.ProvideMemory(ctx, *guest.Memory)
		if err != nil {
			return err
		}
		r.memory = mem
	}

	return r.instantiateHosts(ctx)
}

// usesThreads reports whether the guest can spawn workers: threads are
// enabled and the guest imports thread-spawn.
func (r *Runtime) usesThreads() bool {
	if !r.engine.Config().EnableThreads {
		return false
	}
	for _, def := range r.guest.Imports {
		module, name, _ := def.Import()
		if module == abi.ModuleWASI && name == abi.ThreadSpawn {
			return true
		}
	}
	return false
}

// InitParams are passed to the guest's init export.
type InitParams struct {
	Font       []byte
	Width      uint32
	Height     uint32
	PixelRatio float32
	FontSize   float32
}

// Start instantiates the primary execution context and calls init.
func (r *Runtime) Start(ctx context.Context, params InitParams) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	if r.primary != nil {
		r.mu.Unlock()
		return errors.InvalidInput(errors.PhaseRuntime, "runtime already started")
	}
	r.mu.Unlock()

	inst, err := r.instantiate(ctx, PrimaryName, 0)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.primary = inst
	r.mu.Unlock()

	return inst.Init(ctx, params)
}

// Primary returns the primary execution context, or nil before Start.
func (r *Runtime) Primary() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// Spawner returns the thread-spawn bridge.
func (r *Runtime) Spawner() *Spawner {
	return r.spawner
}

// Sink returns the draw-call sink.
func (r *Runtime) Sink() render.Sink {
	return r.sink
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zap.Logger {
	return r.logger
}

// Stubs lists the guest imports bound to trap stubs.
func (r *Runtime) Stubs() []abi.Binding {
	return r.plan.Stubs()
}

// SharedMemory reports whether contexts share one host-provided memory.
func (r *Runtime) SharedMemory() bool {
	return r.memory != nil && r.engine.Config().EnableThreads
}

// instantiate creates an execution context. A tid of 0 marks the primary.
func (r *Runtime) instantiate(ctx context.Context, name string, tid int32) (*Instance, error) {
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()
	mod, err := r.engine.Runtime().InstantiateModule(ctx, r.guest.Compiled, cfg)
	if err != nil {
		return nil, errors.Instantiation(name, err)
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotFound(errors.PhaseInstantiate, "memory of", name)
	}
	return newInstance(r, mod, name, tid), nil
}

// Close stops all workers, closes the primary context and releases the
// engine. It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	primary := r.primary
	r.mu.Unlock()

	r.cancel()
	err := r.spawner.close(ctx)
	if primary != nil {
		err = multierr.Append(err, primary.Close(ctx))
	}
	err = multierr.Append(err, r.engine.Close(ctx))
	r.logger.Debug("runtime closed", zap.Error(err))
	return err
}
