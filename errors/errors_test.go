package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDispatch,
				Kind:   KindOutOfBounds,
				Path:   []string{"host", "log", "ptr"},
				Detail: "read past end",
			},
			contains: []string{"[dispatch]", "out_of_bounds", "host.log.ptr", "read past end"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseHandle,
				Kind:  KindStaleHandle,
			},
			contains: []string{"[handle]", "stale_handle"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStream,
				Kind:   KindIO,
				Detail: "read chunk",
				Cause:  errors.New("connection reset"),
			},
			contains: []string{"[stream]", "io", "read chunk", "caused by", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseStream, KindDecompress, cause, "gzip")

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &Error{Phase: PhaseStream, Kind: KindDecompress}))
	assert.False(t, errors.Is(err, &Error{Phase: PhaseStream, Kind: KindIO}))

	wrapped := fmt.Errorf("outer: %w", err)
	var target *Error
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, KindDecompress, target.Kind)
	assert.Equal(t, KindDecompress, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(cause))
}

func TestFatal(t *testing.T) {
	fatal := []*Error{
		OutOfBounds(PhaseMemory, 10, 4, 12),
		InvalidUTF8(PhaseMemory, []byte{0xff}),
		StaleHandle(PhaseDispatch, 7),
		TypeMismatch(PhaseDispatch, 7, "texture", "bytes"),
		Unreachable("wasi_snapshot_preview1", "fd_write"),
		ABIMismatch("host", "log", "(i32,i32,i32)", "(i32)"),
	}
	for _, err := range fatal {
		assert.True(t, err.Fatal(), err.Error())
		assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", err)))
	}

	benign := []*Error{
		Busy(PhaseLoad, "load session"),
		IO(errors.New("eof"), "read"),
		Decompress(errors.New("bad header"), "gzip"),
		Aborted("primary", nil),
		InvalidInput(PhaseConfig, "width must be positive"),
	}
	for _, err := range benign {
		assert.False(t, err.Fatal(), err.Error())
	}
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestRaise(t *testing.T) {
	violation := StaleHandle(PhaseDispatch, 42)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*Error)
		require.True(t, ok)
		assert.Same(t, violation, err)
	}()
	Raise(violation)
}

func TestBuilder(t *testing.T) {
	cause := errors.New("underlying")
	err := New(PhaseMemory, KindOutOfBounds).
		Path("copy_handle_bytes", "dst").
		Value(uint32(100)).
		Cause(cause).
		Detail("need %d bytes, have %d", 8, 4).
		Build()

	assert.Equal(t, PhaseMemory, err.Phase)
	assert.Equal(t, KindOutOfBounds, err.Kind)
	assert.Equal(t, []string{"copy_handle_bytes", "dst"}, err.Path)
	assert.Equal(t, uint32(100), err.Value)
	assert.Equal(t, "need 8 bytes, have 4", err.Detail)
	assert.ErrorIs(t, err, cause)

	plain := New(PhaseLoad, KindRejected).Detail("guest declined").Build()
	assert.Equal(t, "guest declined", plain.Detail)

	pct := New(PhaseLoad, KindRejected).Detail("%s", "100%").Build()
	assert.Equal(t, "100%", pct.Detail)
}

func TestConvenienceConstructors(t *testing.T) {
	err := OutOfBounds(PhaseMemory, 65530, 10, 65536)
	assert.Equal(t, uint32(65530), err.Value)
	assert.Contains(t, err.Error(), "65536")

	long := make([]byte, 64)
	for i := range long {
		long[i] = 0xfe
	}
	assert.Contains(t, InvalidUTF8(PhaseMemory, long).Detail, "fefe")
	assert.LessOrEqual(t, len(InvalidUTF8(PhaseMemory, long).Detail), len("invalid UTF-8 sequence: ")+64)

	un := Unreachable("wasi_snapshot_preview1", "fd_write")
	assert.Contains(t, un.Error(), "wasi_snapshot_preview1.fd_write")

	assert.Contains(t, NotFound(PhaseABI, "export", "update").Error(), `export "update" not found`)
	assert.Contains(t, NotInitialized(PhaseRuntime, "primary instance").Error(), "primary instance not initialized")
	assert.Contains(t, Instantiation("thread-3", errors.New("boom")).Error(), "thread-3")
	assert.Contains(t, Trap("update", errors.New("wasm error: unreachable")).Error(), "update")
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{"gfx#draw", "gfx#clear", "audio#play", "bare"})

	require.Len(t, err.Imports, 4)
	assert.Equal(t, MissingImport{Namespace: "bare"}, err.Imports[3])

	msg := err.Error()
	assert.Contains(t, msg, "missing 4 host function(s)")
	assert.Contains(t, msg, "gfx:\n    - draw\n    - clear")
	assert.Contains(t, msg, "audio:\n    - play")
	assert.Less(t, strings.Index(msg, "gfx"), strings.Index(msg, "audio"))

	assert.True(t, errors.Is(err, &MissingImportsError{}))
	assert.Contains(t, (&MissingImportsError{}).Error(), "no imports")
}
