// Package tracehost hosts a sandboxed WebAssembly trace viewer and supplies
// the capabilities the guest cannot provide itself: host object handles,
// drawing primitives, streamed file ingestion, timing and worker threads.
//
// The guest owns all domain logic (trace parsing, layout, geometry). The host
// only exposes a fixed import table and drives the guest's exports.
//
// # Architecture Overview
//
//	tracehost/           Root package with the raw Memory interface
//	├── errors/          Structured error types (phase + kind), fatal violations
//	├── memory/          Bounds-checked accessor over guest linear memory
//	├── handle/          Generation-checked table of host objects
//	├── loader/          Streaming loader state machine and byte sources
//	├── abi/             WIT-typed declaration of the guest/host boundary
//	├── engine/          wazero runtime, compiled guest, shared memory provider
//	├── render/          Draw-call sink interface and implementations
//	├── runtime/         Runtime, execution contexts, host imports, threads, driver
//	├── config/          YAML configuration
//	└── cmd/ztrace/      Command line and interactive terminal front-end
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, wasmBytes,
//	    runtime.WithSink(render.NewRecorder()),
//	    runtime.WithLogger(logger),
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
//	src, _ := loader.OpenFile("trace.json.gz", 0)
//	drv.Post(runtime.LoadEvent{Source: src})
//	drv.Run(ctx)
//
// # Thread Safety
//
// Runtime is safe for concurrent use. An Instance must only be called from one
// goroutine; Driver provides that serialization for the primary instance.
// Worker instances created by the guest run on their own goroutines and share
// the guest's memory, which the guest is responsible for synchronizing.
//
// # Failure Model
//
// Contract violations (out-of-bounds access, invalid UTF-8, stale handles,
// unimplemented imports) abort the instance that caused them. I/O and
// decompression failures end the current loading session and are reported
// to the guest, after which a new load may begin.
package tracehost
