package render

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/tracehost/errors"
)

// VertexSize is the byte size of one packed vertex.
const VertexSize = 20

// TextureID identifies a texture inside a Sink. 0 means untextured.
type TextureID uint32

// Vertex is one vertex of guest geometry.
type Vertex struct {
	X, Y  float32
	U, V  float32
	Color [4]uint8
}

// Point is a 2D position.
type Point struct {
	X, Y float32
}

// Rect is an axis-aligned rectangle given by its corners.
type Rect struct {
	MinX, MinY float32
	MaxX, MaxY float32
}

// Contains reports whether (x, y) lies inside r.
func (r Rect) Contains(x, y float32) bool {
	return x >= r.MinX && x < r.MaxX && y >= r.MinY && y < r.MaxY
}

// Color is packed 0xRRGGBBAA.
type Color uint32

// RGBA unpacks the channels.
func (c Color) RGBA() (r, g, b, a uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// RGBA packs channels into a Color.
func RGBA(r, g, b, a uint8) Color {
	return Color(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | uint32(a))
}

// Sink receives the guest's drawing commands.
type Sink interface {
	CreateTexture(width, height int, pixels []byte) (TextureID, error)
	DeleteTexture(id TextureID)
	UploadBuffers(vertices []Vertex, indices []uint16)
	Draw(clip Rect, texture TextureID, indexCount, indexOffset uint32) error
	FillRect(r Rect, c Color)
	StrokePath(points []Point, width float32, c Color)
}

// FrameSink is implemented by sinks that care about frame boundaries.
type FrameSink interface {
	Sink
	BeginFrame()
	EndFrame()
}

// DecodeVertices parses packed vertices.
func DecodeVertices(b []byte) ([]Vertex, error) {
	if len(b)%VertexSize != 0 {
		return nil, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("vertex buffer of %d bytes is not a multiple of %d", len(b), VertexSize))
	}
	out := make([]Vertex, len(b)/VertexSize)
	for i := range out {
		v := b[i*VertexSize:]
		out[i] = Vertex{
			X: math.Float32frombits(binary.LittleEndian.Uint32(v[0:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(v[4:])),
			U: math.Float32frombits(binary.LittleEndian.Uint32(v[8:])),
			V: math.Float32frombits(binary.LittleEndian.Uint32(v[12:])),
		}
		copy(out[i].Color[:], v[16:20])
	}
	return out, nil
}

// EncodeVertices packs vertices in the guest layout.
func EncodeVertices(vs []Vertex) []byte {
	out := make([]byte, len(vs)*VertexSize)
	for i, v := range vs {
		b := out[i*VertexSize:]
		binary.LittleEndian.PutUint32(b[0:], math.Float32bits(v.X))
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v.Y))
		binary.LittleEndian.PutUint32(b[8:], math.Float32bits(v.U))
		binary.LittleEndian.PutUint32(b[12:], math.Float32bits(v.V))
		copy(b[16:20], v.Color[:])
	}
	return out
}

// DecodeIndices parses packed u16 indices.
func DecodeIndices(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, errors.InvalidInput(errors.PhaseDispatch,
			fmt.Sprintf("index buffer of %d bytes is not a multiple of 2", len(b)))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return out, nil
}

func checkRange(indices []uint16, vertices int, count, offset uint32) error {
	if uint64(offset)+uint64(count) > uint64(len(indices)) {
		return errors.New(errors.PhaseDispatch, errors.KindOutOfBounds).
			Path("draw").
			Detail("indices [%d, %d) outside uploaded %d", offset, uint64(offset)+uint64(count), len(indices)).
			Build()
	}
	for _, idx := range indices[offset : offset+count] {
		if int(idx) >= vertices {
			return errors.New(errors.PhaseDispatch, errors.KindOutOfBounds).
				Path("draw").
				Detail("index %d outside uploaded %d vertices", idx, vertices).
				Build()
		}
	}
	return nil
}
