package render

import (
	"sync"

	"github.com/wippyai/tracehost/errors"
)

// Op names a recorded command.
type Op string

const (
	OpCreateTexture Op = "create_texture"
	OpDeleteTexture Op = "delete_texture"
	OpUpload        Op = "upload_buffers"
	OpDraw          Op = "draw"
	OpFillRect      Op = "fill_rect"
	OpStrokePath    Op = "stroke_path"
)

// Command is one recorded sink call.
type Command struct {
	Op          Op
	Texture     TextureID
	Clip        Rect
	IndexCount  uint32
	IndexOffset uint32
	Vertices    int
	Indices     int
	Points      []Point
	Width       float32
	Color       Color
}

// Stats summarizes recorded commands.
type Stats struct {
	Frames        int
	Commands      int
	Draws         int
	Triangles     int
	Uploads       int
	LiveTextures  int
	TexturesTotal int
}

// Recorder is a Sink that keeps every command.
type Recorder struct {
	commands []Command
	textures map[TextureID][2]int
	vertices int
	indices  []uint16
	stats    Stats
	nextID   TextureID
	mu       sync.Mutex
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{textures: make(map[TextureID][2]int)}
}

func (r *Recorder) CreateTexture(width, height int, pixels []byte) (TextureID, error) {
	if width <= 0 || height <= 0 || len(pixels) != width*height*4 {
		return 0, errors.InvalidInput(errors.PhaseDispatch, "texture size does not match pixel data")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.textures[id] = [2]int{width, height}
	r.stats.TexturesTotal++
	r.record(Command{Op: OpCreateTexture, Texture: id})
	return id, nil
}

func (r *Recorder) DeleteTexture(id TextureID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.textures, id)
	r.record(Command{Op: OpDeleteTexture, Texture: id})
}

func (r *Recorder) UploadBuffers(vertices []Vertex, indices []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vertices = len(vertices)
	r.indices = append(r.indices[:0], indices...)
	r.stats.Uploads++
	r.record(Command{Op: OpUpload, Vertices: len(vertices), Indices: len(indices)})
}

func (r *Recorder) Draw(clip Rect, texture TextureID, indexCount, indexOffset uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if texture != 0 {
		if _, ok := r.textures[texture]; !ok {
			return errors.NotFound(errors.PhaseDispatch, "texture", "draw")
		}
	}
	if err := checkRange(r.indices, r.vertices, indexCount, indexOffset); err != nil {
		return err
	}
	r.stats.Draws++
	r.stats.Triangles += int(indexCount / 3)
	r.record(Command{Op: OpDraw, Clip: clip, Texture: texture, IndexCount: indexCount, IndexOffset: indexOffset})
	return nil
}

func (r *Recorder) FillRect(rect Rect, c Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Op: OpFillRect, Clip: rect, Color: c})
}

func (r *Recorder) StrokePath(points []Point, width float32, c Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Command{Op: OpStrokePath, Points: append([]Point(nil), points...), Width: width, Color: c})
}

func (r *Recorder) BeginFrame() {}

func (r *Recorder) EndFrame() {
	r.mu.Lock()
	r.stats.Frames++
	r.mu.Unlock()
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Count returns how many commands of op were recorded.
func (r *Recorder) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Stats returns summary counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Commands = len(r.commands)
	s.LiveTextures = len(r.textures)
	return s
}

// Reset drops recorded commands but keeps textures and buffers.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = r.commands[:0]
	r.mu.Unlock()
}

func (r *Recorder) record(c Command) {
	r.commands = append(r.commands, c)
}
