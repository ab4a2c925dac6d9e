package runtime

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/tracehost/abi"
	"github.com/wippyai/tracehost/errors"
)

// resultBuffer bounds Results; reports beyond it are logged and dropped.
const resultBuffer = 64

// Result reports how a worker context ended.
type Result struct {
	Err      error
	Duration time.Duration
	TID      int32
	Arg      uint32
}

// Spawner is the thread-spawn bridge. Each spawn instantiates the guest
// module again over the shared memory and runs wasi_thread_start(tid, arg)
// on its own goroutine. Thread ids start at 1 and are never reused.
//
// Creation is synchronous so the guest learns about instantiation failures
// from a negative id. How a worker ended is visible only to the host, via
// Results and Wait.
type Spawner struct {
	rt      *Runtime
	results chan Result
	workers map[int32]*Instance
	errs    error
	wg      sync.WaitGroup
	next    atomic.Int32
	mu      sync.Mutex
	closed  bool
}

func newSpawner(r *Runtime) *Spawner {
	return &Spawner{
		rt:      r,
		results: make(chan Result, resultBuffer),
		workers: make(map[int32]*Instance),
	}
}

// Results delivers one Result per finished or failed worker.
func (s *Spawner) Results() <-chan Result {
	return s.results
}

// Running returns the number of live workers.
func (s *Spawner) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Spawn creates a worker context and starts it. It returns the new thread
// id, or -1 if the worker could not be created.
func (s *Spawner) Spawn(ctx context.Context, arg uint32) int32 {
	tid := s.next.Add(1)
	if tid <= 0 {
		s.next.Store(math.MaxInt32)
		s.fail(0, arg, errors.New(errors.PhaseSpawn, errors.KindInvalidInput).
			Detail("thread ids exhausted").Build())
		return -1
	}

	if err := s.check(); err != nil {
		s.fail(tid, arg, err)
		return -1
	}

	inst, err := s.rt.instantiate(ctx, fmt.Sprintf("thread-%d", tid), tid)
	if err != nil {
		s.fail(tid, arg, errors.Wrap(errors.PhaseSpawn, errors.KindInstantiation, err, "create worker"))
		return -1
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = inst.Close(ctx)
		s.fail(tid, arg, errors.NotInitialized(errors.PhaseSpawn, "runtime"))
		return -1
	}
	s.workers[tid] = inst
	s.wg.Add(1)
	s.mu.Unlock()

	inst.logger.Debug("worker spawned", zap.Uint32("arg", arg))
	go s.run(inst, arg)
	return tid
}

// check reports why workers cannot be created for this guest.
func (s *Spawner) check() error {
	r := s.rt
	switch {
	case !r.engine.Config().EnableThreads:
		return errors.New(errors.PhaseSpawn, errors.KindInvalidInput).
			Detail("threads are disabled").Build()
	case r.memory == nil:
		return errors.New(errors.PhaseSpawn, errors.KindInvalidInput).
			Detail("guest defines its own memory; workers need an imported shared memory").Build()
	case r.guest.Exports[abi.ThreadStart] == nil:
		return errors.NotFound(errors.PhaseSpawn, "export", abi.ThreadStart)
	}
	return nil
}

func (s *Spawner) run(inst *Instance, arg uint32) {
	defer s.wg.Done()
	start := time.Now()
	ctx := s.rt.ctx

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = errors.New(errors.PhaseSpawn, errors.KindTrap).
					Path(inst.name).
					Detail("worker panicked: %v", p).
					Build()
			}
		}()
		err = inst.threadStart(ctx, arg)
	}()

	closeErr := inst.Close(context.WithoutCancel(ctx))

	s.mu.Lock()
	delete(s.workers, inst.tid)
	s.mu.Unlock()

	res := Result{TID: inst.tid, Arg: arg, Err: multierr.Append(err, closeErr), Duration: time.Since(start)}
	if res.Err != nil {
		inst.logger.Warn("worker failed", zap.Duration("duration", res.Duration), zap.Error(res.Err))
	} else {
		inst.logger.Debug("worker finished", zap.Duration("duration", res.Duration))
	}
	s.report(res)
}

func (s *Spawner) fail(tid int32, arg uint32, err error) {
	s.rt.logger.Warn("thread spawn failed", zap.Int32("tid", tid), zap.Uint32("arg", arg), zap.Error(err))
	s.report(Result{TID: tid, Arg: arg, Err: err})
}

func (s *Spawner) report(res Result) {
	if res.Err != nil {
		s.mu.Lock()
		s.errs = multierr.Append(s.errs, fmt.Errorf("thread %d: %w", res.TID, res.Err))
		s.mu.Unlock()
	}
	select {
	case s.results <- res:
	default:
		s.rt.logger.Warn("spawn result dropped", zap.Int32("tid", res.TID))
	}
}

// Wait blocks until every running worker has finished or ctx is done, and
// returns the accumulated failures of all workers so far.
func (s *Spawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

// close refuses new workers and waits for the running ones. The runtime
// cancels their context first, so workers blocked in guest code stop.
func (s *Spawner) close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
