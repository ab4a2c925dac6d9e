package runtime

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// WASI clock ids and errno values used by clock_time_get.
const (
	clockRealtime  = 0
	clockMonotonic = 1

	errnoSuccess = 0
	errnoInval   = 28
)

// hostClockTimeGet writes the time in nanoseconds to out. The monotonic
// clock counts from runtime creation and is shared by all contexts.
func hostClockTimeGet(_ context.Context, inst *Instance, stack []uint64) {
	id := api.DecodeU32(stack[0])
	out := api.DecodeU32(stack[2])

	var ns uint64
	switch id {
	case clockRealtime:
		ns = uint64(time.Now().UnixNano())
	case clockMonotonic:
		ns = uint64(time.Since(inst.rt.started).Nanoseconds())
	default:
		stack[0] = api.EncodeU32(errnoInval)
		return
	}
	must(inst.mem.WriteU64(out, ns))
	stack[0] = api.EncodeU32(errnoSuccess)
}

// hostThreadSpawn starts a worker and returns its id, or -1 when the
// worker could not be created.
func hostThreadSpawn(ctx context.Context, inst *Instance, stack []uint64) {
	tid := inst.rt.spawner.Spawn(ctx, api.DecodeU32(stack[0]))
	stack[0] = api.EncodeI32(tid)
}
