package memory

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/wippyai/tracehost"
	"github.com/wippyai/tracehost/errors"
)

// Accessor performs bounds-checked reads and writes over a guest memory.
type Accessor struct {
	mem   tracehost.Memory
	phase errors.Phase
}

// NewAccessor creates an accessor over mem.
func NewAccessor(mem tracehost.Memory) *Accessor {
	return &Accessor{mem: mem, phase: errors.PhaseMemory}
}

// Size returns the current memory size in bytes.
func (a *Accessor) Size() uint32 {
	if a.mem == nil {
		return 0
	}
	return a.mem.Size()
}

func (a *Accessor) check(ptr, length uint32) error {
	if a.mem == nil {
		return errors.NotInitialized(a.phase, "guest memory")
	}
	size := a.mem.Size()
	if uint64(ptr)+uint64(length) > uint64(size) {
		return errors.OutOfBounds(a.phase, ptr, length, size)
	}
	return nil
}

// ReadBytes copies length bytes starting at ptr.
func (a *Accessor) ReadBytes(ptr, length uint32) ([]byte, error) {
	if err := a.check(ptr, length); err != nil {
		return nil, err
	}
	view, ok := a.mem.Read(ptr, length)
	if !ok {
		return nil, errors.OutOfBounds(a.phase, ptr, length, a.mem.Size())
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// ReadString decodes length bytes at ptr as UTF-8.
func (a *Accessor) ReadString(ptr, length uint32) (string, error) {
	if err := a.check(ptr, length); err != nil {
		return "", err
	}
	view, ok := a.mem.Read(ptr, length)
	if !ok {
		return "", errors.OutOfBounds(a.phase, ptr, length, a.mem.Size())
	}
	if !utf8.Valid(view) {
		return "", errors.InvalidUTF8(a.phase, view)
	}
	return string(view), nil
}

// ReadU32 reads a little-endian uint32.
func (a *Accessor) ReadU32(ptr uint32) (uint32, error) {
	b, err := a.ReadBytes(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadF32s reads count little-endian float32 values starting at ptr.
func (a *Accessor) ReadF32s(ptr, count uint32) ([]float32, error) {
	if uint64(count)*4 > math.MaxUint32 {
		return nil, errors.OutOfBounds(a.phase, ptr, math.MaxUint32, a.Size())
	}
	b, err := a.ReadBytes(ptr, count*4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// WriteU32 writes a little-endian uint32 at ptr.
func (a *Accessor) WriteU32(ptr uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return a.write(ptr, b[:])
}

// WriteU64 writes a little-endian uint64 at ptr.
func (a *Accessor) WriteU64(ptr uint32, value uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	return a.write(ptr, b[:])
}

// CopyIn copies src into guest memory at dst. capacity is the destination
// size the guest reserved; src longer than capacity is a violation.
func (a *Accessor) CopyIn(dst, capacity uint32, src []byte) error {
	if uint64(len(src)) > uint64(capacity) {
		return errors.New(a.phase, errors.KindOutOfBounds).
			Value(dst).
			Detail("copy of %d bytes into %d-byte destination", len(src), capacity).
			Build()
	}
	return a.write(dst, src)
}

func (a *Accessor) write(ptr uint32, data []byte) error {
	if err := a.check(ptr, uint32(len(data))); err != nil {
		return err
	}
	if !a.mem.Write(ptr, data) {
		return errors.OutOfBounds(a.phase, ptr, uint32(len(data)), a.mem.Size())
	}
	return nil
}
