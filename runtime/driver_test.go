package runtime

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/loader"
)

func sliceSource(name string, data []byte) *loader.ReaderSource {
	return loader.NewReaderSource(name, int64(len(data)), bytes.NewReader(data), 1000)
}

// trackedSource records Close and can fail after a number of chunks.
type trackedSource struct {
	loader.Source
	failAfter int
	reads     int
	closed    atomic.Bool
}

func (s *trackedSource) Next(ctx context.Context) ([]byte, error) {
	if s.failAfter > 0 && s.reads >= s.failAfter {
		return nil, io.ErrUnexpectedEOF
	}
	s.reads++
	return s.Source.Next(ctx)
}

func (s *trackedSource) Close() error {
	s.closed.Store(true)
	return s.Source.Close()
}

func traceJSON(n int) []byte {
	var b strings.Builder
	b.WriteString(`{"traceEvents":[`)
	for i := 0; b.Len() < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"name":"span%d","ph":"X","ts":%d,"dur":10}`, i, i*10)
	}
	b.WriteString("]}")
	return []byte(b.String())
}

func newTestDriver(t *testing.T, o guestOptions, opts ...Option) (*Driver, *Instance) {
	t.Helper()
	_, inst, _ := startTestRuntime(t, o, opts...)
	return NewDriver(inst, 0), inst
}

func TestDriver_EventOrder(t *testing.T) {
	ctx := context.Background()
	_, inst, rec := startTestRuntime(t, guestOptions{})
	d := NewDriver(inst, 0)

	d.Post(ResizeEvent{Width: 1024, Height: 768})
	d.Post(MousePosEvent{X: 10, Y: 20})
	d.Post(MouseButtonEvent{Button: 0, Down: true})
	d.Post(MouseWheelEvent{DY: -1})
	d.Post(KeyEvent{Key: 65, Down: true})
	d.Post(FocusEvent{Focused: false})
	assert.Equal(t, 6, d.Pending())

	require.NoError(t, d.Frame(ctx, time.Now()))
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, uint64(1), d.Frames())

	assert.Equal(t, []uint32{evResize, evMousePos, evMouseButton, evMouseWheel, evKey, evFocus, evUpdate}, events(t, inst))
	assert.Equal(t, uint32(1024), readU32(t, inst, addrWidth))
	assert.Equal(t, uint32(65), readU32(t, inst, addrKey))
	assert.Equal(t, uint32(42), readU32(t, inst, addrCtx))
	assert.Equal(t, 1, rec.Stats().Frames)
}

func TestDriver_RunFrames(t *testing.T) {
	ctx := context.Background()
	_, inst, rec := startTestRuntime(t, guestOptions{})
	d := NewDriver(inst, 30)
	assert.Equal(t, time.Second/30, d.Interval())
	assert.Same(t, inst, d.Instance())

	require.NoError(t, d.RunFrames(ctx, 5))
	assert.Equal(t, uint64(5), d.Frames())
	assert.Equal(t, uint32(5), readU32(t, inst, addrUpdates))
	assert.Equal(t, 5, rec.Stats().Frames)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, d.RunFrames(cancelled, 5), context.Canceled)
	assert.Equal(t, uint64(5), d.Frames())
}

func TestDriver_Run(t *testing.T) {
	d, inst := newTestDriver(t, guestOptions{})
	assert.Equal(t, time.Second/DefaultFrameRate, d.Interval())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, d.Frames())
	assert.Equal(t, uint32(d.Frames()), readU32(t, inst, addrUpdates))
}

func TestDriver_PostConcurrent(t *testing.T) {
	d, inst := newTestDriver(t, guestOptions{})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				d.Post(MousePosEvent{X: 1, Y: 1})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, d.Frame(context.Background(), time.Now()))
	assert.Len(t, events(t, inst), 101)
}

func TestDriver_Load(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{reporter: true}, WithChunkSize(1000))
	data := traceJSON(2500)

	d.Post(LoadEvent{Source: sliceSource("trace.json", data)})
	require.NoError(t, d.RunFrames(ctx, 10))

	l := inst.Loader()
	p := l.Progress()
	assert.Equal(t, loader.StateDone, p.State)
	assert.False(t, l.Active())
	assert.Equal(t, uint64(len(data)), p.Logical)
	assert.Equal(t, "", p.Encoding)

	assert.Equal(t, uint64(len(data)), readU64(t, inst, addrTotal))
	assert.Equal(t, uint32(len("trace.json")), readU32(t, inst, addrNameLen))
	name, err := inst.Memory().ReadString(addrName, uint32(len("trace.json")))
	require.NoError(t, err)
	assert.Equal(t, "trace.json", name)

	assert.Equal(t, uint32(3), readU32(t, inst, addrChunks))
	assert.Equal(t, uint32(len(data)), readU32(t, inst, addrBytes))
	assert.Equal(t, uint32(1), readU32(t, inst, addrDone))
	assert.Equal(t, uint32(0), readU32(t, inst, addrErrors))

	got, err := inst.Memory().ReadBytes(addrPayload, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The guest freed every handle it was given.
	assert.Equal(t, 0, inst.Table().Len())
}

func TestDriver_LoadGzip(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{}, WithChunkSize(1024))
	data := traceJSON(6000)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	d.Post(LoadEvent{Source: sliceSource("trace.json.gz", buf.Bytes())})
	require.NoError(t, d.RunFrames(ctx, 20))

	p := inst.Loader().Progress()
	assert.Equal(t, loader.StateDone, p.State)
	assert.Equal(t, "gzip", p.Encoding)
	assert.Equal(t, uint64(buf.Len()), p.Underlying)
	assert.Equal(t, uint64(len(data)), p.Logical)

	// total is the declared raw size.
	assert.Equal(t, uint64(buf.Len()), readU64(t, inst, addrTotal))
	assert.Equal(t, uint32(len(data)), readU32(t, inst, addrBytes))
	assert.Equal(t, uint32(1), readU32(t, inst, addrDone))

	got, err := inst.Memory().ReadBytes(addrPayload, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDriver_LoadDeclined(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{})
	require.NoError(t, inst.Memory().WriteU32(addrDeny, 1))

	src := &trackedSource{Source: sliceSource("trace.json", []byte("{}"))}
	d.Post(LoadEvent{Source: src})
	require.NoError(t, d.Frame(ctx, time.Now()))

	assert.True(t, src.closed.Load())
	assert.Equal(t, 0, src.reads)
	assert.False(t, inst.Loader().Active())
	assert.Equal(t, uint64(0), readU64(t, inst, addrTotal))
}

func TestDriver_LoadWhileActive(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{}, WithChunkSize(1000))
	data := traceJSON(5000)

	first := &trackedSource{Source: sliceSource("first.json", data)}
	second := &trackedSource{Source: sliceSource("second.json", []byte("{}"))}
	d.Post(LoadEvent{Source: first})
	d.Post(LoadEvent{Source: second})
	require.NoError(t, d.Frame(ctx, time.Now()))

	assert.True(t, second.closed.Load())
	assert.Equal(t, 0, second.reads)
	assert.True(t, inst.Loader().Active())
	assert.Equal(t, "first.json", inst.Loader().Progress().Name)

	require.NoError(t, d.RunFrames(ctx, 10))
	assert.Equal(t, uint32(len(data)), readU32(t, inst, addrBytes))
	assert.True(t, first.closed.Load())
}

func TestDriver_CancelLoad(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{reporter: true}, WithChunkSize(1000))

	src := &trackedSource{Source: sliceSource("big.json", traceJSON(10000))}
	d.Post(LoadEvent{Source: src})
	require.NoError(t, d.Frame(ctx, time.Now()))
	require.True(t, inst.Loader().Active())
	delivered := readU32(t, inst, addrChunks)

	d.Post(CancelLoadEvent{})
	require.NoError(t, d.Frame(ctx, time.Now()))

	l := inst.Loader()
	assert.False(t, l.Active())
	assert.Equal(t, loader.StateAborted, l.State())
	assert.Equal(t, errors.KindCancelled, errors.KindOf(l.Progress().Err))
	assert.True(t, src.closed.Load())

	assert.Equal(t, delivered, readU32(t, inst, addrChunks))
	assert.Equal(t, uint32(0), readU32(t, inst, addrDone))
	assert.Equal(t, uint32(1), readU32(t, inst, addrErrors))
	reason, err := inst.Memory().ReadString(addrReason, readU32(t, inst, addrReasonLen))
	require.NoError(t, err)
	assert.Contains(t, reason, "cancelled")
	assert.False(t, inst.Aborted())

	// The loader accepts a new session afterwards.
	d.Post(LoadEvent{Source: sliceSource("small.json", []byte(`{"traceEvents":[]}`))})
	require.NoError(t, d.RunFrames(ctx, 3))
	assert.Equal(t, loader.StateDone, l.State())
	assert.Equal(t, uint32(1), readU32(t, inst, addrDone))
}

func TestDriver_LoadSourceError(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{reporter: true}, WithChunkSize(1000))

	src := &trackedSource{Source: sliceSource("flaky.json", traceJSON(5000)), failAfter: 2}
	d.Post(LoadEvent{Source: src})
	require.NoError(t, d.RunFrames(ctx, 10), "a failed session does not fail the frame")

	l := inst.Loader()
	assert.Equal(t, loader.StateAborted, l.State())
	assert.Equal(t, errors.KindIO, errors.KindOf(l.Progress().Err))
	assert.True(t, src.closed.Load())
	assert.Equal(t, uint32(2), readU32(t, inst, addrChunks))
	assert.Equal(t, uint32(0), readU32(t, inst, addrDone))
	assert.Equal(t, uint32(1), readU32(t, inst, addrErrors))
	assert.Equal(t, uint32(10), readU32(t, inst, addrUpdates))
}

func TestDriver_Aborted(t *testing.T) {
	ctx := context.Background()
	d, inst := newTestDriver(t, guestOptions{})

	_, err := inst.call(ctx, "test_trap")
	require.Error(t, err)

	src := &trackedSource{Source: sliceSource("trace.json", []byte("{}"))}
	d.Post(KeyEvent{Key: 1, Down: true})
	d.Post(LoadEvent{Source: src})

	err = d.Frame(ctx, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.KindAborted, errors.KindOf(err))
	assert.Equal(t, 0, d.Pending())
	assert.True(t, src.closed.Load())
	assert.Equal(t, uint64(0), d.Frames())
	assert.Empty(t, events(t, inst))
}

func TestDriver_AbortMidFrame(t *testing.T) {
	ctx := context.Background()
	_, inst, _ := startTestRuntime(t, guestOptions{})
	d := NewDriver(inst, 0)

	// A chunk larger than the guest's memory makes the copy fail.
	src := &trackedSource{Source: loader.NewReaderSource("huge.json", 0, bytes.NewReader(make([]byte, 200_000)), 200_000)}
	later := &trackedSource{Source: sliceSource("later.json", []byte("{}"))}
	d.Post(LoadEvent{Source: src})
	d.Post(LoadEvent{Source: later})

	err := d.Frame(ctx, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.KindOutOfBounds, errors.KindOf(err))
	assert.True(t, inst.Aborted())
	assert.True(t, src.closed.Load())
	assert.True(t, later.closed.Load())
}
