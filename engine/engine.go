package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/abi"
	"github.com/wippyai/tracehost/errors"
)

// MaxPages is the largest memory a 32-bit guest can address.
const MaxPages = 65536

// Config holds configuration for engine creation
type Config struct {
	// CacheDir enables an on-disk compilation cache when set.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	// Guests that import their memory receive a shared memory and may spawn
	// worker contexts over it. Calls then also stop when their context is
	// done, so a runtime can shut down workers stuck in guest loops.
	EnableThreads bool
}

// Engine owns the wazero runtime shared by every execution context.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	logger  *zap.Logger
	cfg     Config
}

// New creates an engine. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	if cfg != nil {
		e.cfg = *cfg
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if e.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	if e.cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads).
			WithCloseOnContextDone(true)
	}
	if e.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidInput, err, "compilation cache")
		}
		e.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	logger.Debug("engine created",
		zap.Uint32("memory_limit_pages", e.cfg.MemoryLimitPages),
		zap.Bool("threads", e.cfg.EnableThreads),
		zap.String("cache_dir", e.cfg.CacheDir))
	return e, nil
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// Close closes the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		err = multierr.Append(err, e.cache.Close(ctx))
	}
	return err
}

// MemoryImport describes a guest memory import.
type MemoryImport struct {
	Module string
	Name   string
	Min    uint32
	Max    uint32
	HasMax bool
}

// Guest is a compiled guest module with the metadata the host needs.
type Guest struct {
	Compiled wazero.CompiledModule
	Exports  map[string]api.FunctionDefinition
	Imports  []api.FunctionDefinition
	Memory   *MemoryImport // nil when the guest defines its own memory
}

// ImportsMemory reports whether the guest expects the host to provide memory.
func (g *Guest) ImportsMemory() bool {
	return g.Memory != nil
}

// Compile compiles wasm and collects its import and export metadata.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Guest, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, "compile guest")
	}

	g := &Guest{
		Compiled: compiled,
		Exports:  compiled.ExportedFunctions(),
		Imports:  compiled.ImportedFunctions(),
	}
	for _, mem := range compiled.ImportedMemories() {
		module, name, _ := mem.Import()
		max, hasMax := mem.Max()
		g.Memory = &MemoryImport{Module: module, Name: name, Min: mem.Min(), Max: max, HasMax: hasMax}
	}

	e.logger.Debug("guest compiled",
		zap.Int("exports", len(g.Exports)),
		zap.Int("imports", len(g.Imports)),
		zap.Bool("imports_memory", g.ImportsMemory()))
	return g, nil
}

// ProvideMemory instantiates a module exporting memory under the module and
// name the guest imports. With threads enabled the memory is shared, so
// every context instantiated afterwards sees the same bytes.
func (e *Engine) ProvideMemory(ctx context.Context, imp MemoryImport) (api.Module, error) {
	if imp.Module == "" {
		imp.Module = abi.ModuleEnv
	}
	if imp.Name == "" {
		imp.Name = abi.MemoryName
	}

	max := imp.Max
	if !imp.HasMax {
		max = MaxPages
		if e.cfg.MemoryLimitPages > 0 {
			max = e.cfg.MemoryLimitPages
		}
	}
	if max < imp.Min {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidInput).
			Path(imp.Module, imp.Name).
			Detail("memory minimum %d pages exceeds limit %d", imp.Min, max).
			Build()
	}

	bin := MemoryModule(imp.Name, imp.Min, max, e.cfg.EnableThreads)
	cfg := wazero.NewModuleConfig().WithName(imp.Module)
	mod, err := e.runtime.InstantiateWithConfig(ctx, bin, cfg)
	if err != nil {
		return nil, errors.Instantiation(imp.Module, err)
	}
	e.logger.Debug("memory provided",
		zap.String("module", imp.Module),
		zap.Uint32("min_pages", imp.Min),
		zap.Uint32("max_pages", max),
		zap.Bool("shared", e.cfg.EnableThreads))
	return mod, nil
}
