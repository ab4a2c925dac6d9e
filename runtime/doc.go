// Package runtime hosts a trace viewer guest on wazero.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, wasmBytes,
//	    runtime.WithSink(render.NewRecorder()),
//	    runtime.WithThreads(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if err := rt.Start(ctx, runtime.InitParams{Width: 1280, Height: 720, PixelRatio: 1}); err != nil {
//	    log.Fatal(err)
//	}
//
//	drv := runtime.NewDriver(rt.Primary(), 60)
//	drv.Post(runtime.ResizeEvent{Width: 1280, Height: 720})
//	err = drv.Run(ctx)
//
// # Imports
//
// New resolves every function the guest imports against the host ABI:
//
//	host                    log, handles, drawing, now, file picker
//	wasi                    thread-spawn
//	wasi_snapshot_preview1  clock_time_get; everything else traps
//	env                     memory, provided when the guest imports it
//
// Implemented imports must match their declared signature. Anything else
// is bound to a stub raising an unreachable violation when called, or,
// with WithStrictImports, fails New with a MissingImportsError.
//
// # Execution Contexts
//
// Each Instance is one instantiation of the guest module with its own
// handle table and memory accessor. Host modules are shared; a host call
// finds its caller through the context value set by the Instance making
// the call (see WithInstance).
//
// The primary instance is created by Start. Worker instances are created
// by the guest through thread-spawn and run wasi_thread_start on their own
// goroutine over the same shared memory. Workers cannot draw or open the
// file picker.
//
// # Violations
//
// Host functions raise contract violations by panicking with an
// *errors.Error. wazero returns the panic as the error of the export call,
// and the Instance aborts: every later call fails with kind aborted.
//
// # Driver
//
// Driver serializes guest calls for the primary instance. Events posted
// between frames are delivered in order, then one loader step runs, then
// update(dt).
package runtime
