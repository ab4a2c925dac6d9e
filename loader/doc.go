// Package loader streams a file into the guest in backpressure-controlled
// chunks.
//
// A Loader drives one loading session at a time through an explicit state
// machine:
//
//	Idle -> AwaitingAccept -> Detecting -> Streaming -> Draining -> Done
//	                \             \            \            \
//	                 `-------------`------------`------------`--> Aborted
//
// Begin asks the guest whether it accepts a load and announces the total
// size and a name handle. Each Step then polls the guest for permission,
// pulls one chunk from the Source, stores it in the handle table and
// delivers (logical offset, handle, length) to the guest. The first Step
// sniffs the gzip magic bytes and inserts a decompression stage; a source
// declaring the "br" encoding gets a brotli stage instead. With a stage
// present, completion waits for the decompressor's end of stream, not the
// raw source's.
//
// Sources are pull-based: Next blocks until a chunk or io.EOF is available,
// which is the only suspension point of a session. File, reader, HTTP and
// WebSocket sources are provided; Prefetch reads ahead on a goroutine.
//
// Begin and Step must be called from one goroutine. State, Progress and
// Cancel are safe from any goroutine.
package loader
