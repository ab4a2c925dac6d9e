package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/handle"
	"github.com/wippyai/tracehost/render"
)

// Guest log levels.
const (
	logError = 0
	logWarn  = 1
	logInfo  = 2
	logDebug = 3
)

func hostLog(_ context.Context, inst *Instance, stack []uint64) {
	level := api.DecodeI32(stack[0])
	msg, err := inst.mem.ReadString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	must(err)

	logger := inst.logger.Named("guest")
	switch level {
	case logError:
		logger.Error(msg)
	case logWarn:
		logger.Warn(msg)
	case logInfo:
		logger.Info(msg)
	case logDebug:
		logger.Debug(msg)
	default:
		logger.Info(msg, zap.Int32("guest_level", level))
	}
}

func hostFreeHandle(_ context.Context, inst *Instance, stack []uint64) {
	inst.table.Free(handle.Handle(stack[0]))
}

// texture is the handle-table value for a sink texture. Freeing the handle
// deletes the texture.
type texture struct {
	sink          render.Sink
	id            render.TextureID
	width, height uint32
}

func (t *texture) Drop() {
	t.sink.DeleteTexture(t.id)
}

func hostCreateTexture(_ context.Context, inst *Instance, stack []uint64) {
	w, h := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	ptr := api.DecodeU32(stack[2])

	size := uint64(w) * uint64(h) * 4
	if size > uint64(inst.mem.Size()) {
		errors.Raise(errors.OutOfBounds(errors.PhaseDispatch, ptr, uint32(min(size, 1<<32-1)), inst.mem.Size()))
	}
	pixels, err := inst.mem.ReadBytes(ptr, uint32(size))
	must(err)

	sink := inst.rt.sink
	id, err := sink.CreateTexture(int(w), int(h), pixels)
	must(err)

	ref, err := inst.table.Store(handle.KindTexture, &texture{sink: sink, id: id, width: w, height: h})
	if err != nil {
		sink.DeleteTexture(id)
		must(err)
	}
	stack[0] = uint64(ref)
}

// loadTexture resolves a draw's texture handle. Handle 0 draws untextured.
func (i *Instance) loadTexture(ref uint64) render.TextureID {
	if ref == 0 {
		return 0
	}
	v, ok := i.table.LoadTyped(handle.Handle(ref), handle.KindTexture)
	if !ok {
		i.raiseMissing(ref, handle.KindTexture)
	}
	return v.(*texture).id
}

// bytesOf resolves a byte or string handle.
func (i *Instance) bytesOf(ref uint64) []byte {
	data, ok := i.table.Bytes(handle.Handle(ref))
	if !ok {
		i.raiseMissing(ref, handle.KindBytes)
	}
	return data
}

// raiseMissing reports a handle that did not resolve to the wanted kind:
// a type mismatch when it is live, stale otherwise.
func (i *Instance) raiseMissing(ref uint64, want handle.Kind) {
	if _, kind, live := i.table.LoadKind(handle.Handle(ref)); live {
		errors.Raise(errors.TypeMismatch(errors.PhaseHandle, ref, want.String(), kind.String()))
	}
	errors.Raise(errors.StaleHandle(errors.PhaseHandle, ref))
}

func hostUploadBuffers(_ context.Context, inst *Instance, stack []uint64) {
	vtx, err := inst.mem.ReadBytes(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	must(err)
	idx, err := inst.mem.ReadBytes(api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	must(err)

	vertices, err := render.DecodeVertices(vtx)
	must(err)
	indices, err := render.DecodeIndices(idx)
	must(err)
	inst.rt.sink.UploadBuffers(vertices, indices)
}

func hostDraw(_ context.Context, inst *Instance, stack []uint64) {
	clip := render.Rect{
		MinX: api.DecodeF32(stack[0]),
		MinY: api.DecodeF32(stack[1]),
		MaxX: api.DecodeF32(stack[2]),
		MaxY: api.DecodeF32(stack[3]),
	}
	tex := inst.loadTexture(stack[4])
	must(inst.rt.sink.Draw(clip, tex, api.DecodeU32(stack[5]), api.DecodeU32(stack[6])))
}

func hostFillRect(_ context.Context, inst *Instance, stack []uint64) {
	x, y := api.DecodeF32(stack[0]), api.DecodeF32(stack[1])
	w, h := api.DecodeF32(stack[2]), api.DecodeF32(stack[3])
	inst.rt.sink.FillRect(render.Rect{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}, render.Color(api.DecodeU32(stack[4])))
}

func hostStrokePath(_ context.Context, inst *Instance, stack []uint64) {
	ptr, count := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	if uint64(count)*2 > 1<<32-1 {
		errors.Raise(errors.OutOfBounds(errors.PhaseDispatch, ptr, 1<<32-1, inst.mem.Size()))
	}
	coords, err := inst.mem.ReadF32s(ptr, count*2)
	must(err)

	points := make([]render.Point, count)
	for n := range points {
		points[n] = render.Point{X: coords[2*n], Y: coords[2*n+1]}
	}
	inst.rt.sink.StrokePath(points, api.DecodeF32(stack[2]), render.Color(api.DecodeU32(stack[3])))
}

// hostNow returns milliseconds since the instance started.
func hostNow(_ context.Context, inst *Instance, stack []uint64) {
	elapsed := time.Since(inst.started)
	stack[0] = api.EncodeF64(float64(elapsed.Nanoseconds()) / 1e6)
}

// hostRequestFilePicker asks the front-end for a file. Requests made while
// a load is in progress are dropped.
func hostRequestFilePicker(_ context.Context, inst *Instance, _ []uint64) {
	if inst.loader != nil && inst.loader.Active() {
		inst.logger.Debug("file picker ignored: load in progress")
		return
	}
	picker := inst.rt.opts.picker
	if picker == nil {
		inst.logger.Info("guest requested a file picker but none is configured")
		return
	}
	picker()
}

func hostCopyHandleBytes(_ context.Context, inst *Instance, stack []uint64) {
	data := inst.bytesOf(stack[0])
	must(inst.mem.CopyIn(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]), data))
}

func hostHandleByteLength(_ context.Context, inst *Instance, stack []uint64) {
	n := len(inst.bytesOf(stack[0]))
	if uint64(n) > 1<<32-1 {
		must(fmt.Errorf("handle %#x holds %d bytes", stack[0], n))
	}
	stack[0] = api.EncodeU32(uint32(n))
}
