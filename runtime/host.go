package runtime

import (
	"context"
	stderrors "errors"
	"slices"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/abi"
	"github.com/wippyai/tracehost/errors"
)

// hostFunc implements one import for the calling execution context.
type hostFunc func(ctx context.Context, inst *Instance, stack []uint64)

// implementations maps "module#name" to the host side of every import in
// abi.HostImports.
func implementations() map[string]hostFunc {
	return map[string]hostFunc{
		abi.ModuleHost + "#" + abi.Log:              hostLog,
		abi.ModuleHost + "#" + abi.FreeHandle:       hostFreeHandle,
		abi.ModuleHost + "#" + abi.CreateTexture:    renderOnly(hostCreateTexture),
		abi.ModuleHost + "#" + abi.UploadBuffers:    renderOnly(hostUploadBuffers),
		abi.ModuleHost + "#" + abi.Draw:             renderOnly(hostDraw),
		abi.ModuleHost + "#" + abi.FillRect:         renderOnly(hostFillRect),
		abi.ModuleHost + "#" + abi.StrokePath:       renderOnly(hostStrokePath),
		abi.ModuleHost + "#" + abi.Now:              hostNow,
		abi.ModuleHost + "#" + abi.RequestFilePick:  renderOnly(hostRequestFilePicker),
		abi.ModuleHost + "#" + abi.CopyHandleBytes:  hostCopyHandleBytes,
		abi.ModuleHost + "#" + abi.HandleByteLength: hostHandleByteLength,
		abi.ModuleWASI + "#" + abi.ThreadSpawn:      hostThreadSpawn,
		abi.ModuleWASIP1 + "#" + abi.ClockTimeGet:   hostClockTimeGet,
	}
}

// instantiateHosts builds one host module per import module the guest
// references. Host modules are shared by every execution context; each
// call finds its caller through the context value set by Instance.call.
func (r *Runtime) instantiateHosts(ctx context.Context) error {
	impls := implementations()
	for _, module := range r.plan.Modules() {
		builder := r.engine.Runtime().NewHostModuleBuilder(module)
		for _, b := range r.plan.Bindings(module) {
			var fn api.GoModuleFunc
			if b.Stub {
				fn = stub(b.Module, b.Name)
				r.logStub(b)
			} else {
				impl, ok := impls[b.Decl.Key()]
				if !ok {
					return errors.NotFound(errors.PhaseInstantiate, "host implementation", b.Decl.Key())
				}
				fn = dispatch(impl)
			}
			fb := builder.NewFunctionBuilder().
				WithGoModuleFunction(fn, b.Params, b.Results).
				WithName(b.Name)
			if names := b.Decl.ParamNames(); !b.Stub && len(names) > 0 {
				fb = fb.WithParameterNames(names...)
			}
			fb.Export(b.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Instantiation(module, err)
		}
		r.logger.Debug("host module instantiated",
			zap.String("module", module),
			zap.Int("functions", len(r.plan.Bindings(module))))
	}
	return nil
}

func (r *Runtime) logStub(b abi.Binding) {
	if b.Module == abi.ModuleWASIP1 && slices.Contains(abi.TrappedWASI, b.Name) {
		r.logger.Debug("import bound to trap", zap.String("module", b.Module), zap.String("name", b.Name))
		return
	}
	r.logger.Warn("guest imports a function this host does not implement",
		zap.String("module", b.Module),
		zap.String("name", b.Name),
		zap.String("signature", abi.FormatSignature(b.Params, b.Results)))
}

// dispatch resolves the calling instance and runs impl.
func dispatch(impl hostFunc) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		inst := InstanceFromContext(ctx)
		if inst == nil {
			errors.Raise(errors.NotInitialized(errors.PhaseDispatch, "execution context"))
		}
		impl(ctx, inst, stack)
	}
}

// stub raises unreachable when an unimplemented import is called.
func stub(module, name string) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, _ []uint64) {
		if inst := InstanceFromContext(ctx); inst != nil {
			inst.logger.Error("guest called unimplemented import",
				zap.String("module", module), zap.String("name", name))
		}
		errors.Raise(errors.Unreachable(module, name))
	}
}

// renderOnly rejects calls from worker contexts, which have no renderer.
func renderOnly(impl hostFunc) hostFunc {
	return func(ctx context.Context, inst *Instance, stack []uint64) {
		if inst.Worker() {
			errors.Raise(errors.New(errors.PhaseDispatch, errors.KindUnreachable).
				Path(inst.name).
				Detail("rendering and file picking are not available to worker contexts").
				Build())
		}
		impl(ctx, inst, stack)
	}
}

// must raises err as a violation.
func must(err error) {
	if err == nil {
		return
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.Wrap(errors.PhaseDispatch, errors.KindInvalidInput, err, "host call failed")
	}
	errors.Raise(e)
}
