package render

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/tracehost/errors"
)

// Terminal cell size in guest pixels. Each cell shows two vertically
// stacked samples with the upper half block glyph.
const (
	CellWidth  = 8
	CellHeight = 16

	sampleHeight = CellHeight / 2
	halfBlock    = "▀"
)

type rgb [3]uint8

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

type texture struct {
	pixels []byte
	width  int
	height int
}

// Canvas rasterizes draw calls into a cell grid.
type Canvas struct {
	textures   map[TextureID]*texture
	samples    []rgb // rows*2 x cols
	vertices   []Vertex
	indices    []uint16
	background Color
	cols, rows int
	nextID     TextureID
	mu         sync.Mutex
}

// NewCanvas creates a canvas covering width x height guest pixels.
func NewCanvas(width, height int) *Canvas {
	c := &Canvas{
		textures:   make(map[TextureID]*texture),
		background: RGBA(0x1e, 0x1e, 0x2e, 0xff),
	}
	c.Resize(width, height)
	return c
}

// NewCanvasCells creates a canvas sized to a terminal of cols x rows cells.
func NewCanvasCells(cols, rows int) *Canvas {
	return NewCanvas(cols*CellWidth, rows*CellHeight)
}

// Resize changes the pixel size and clears the canvas.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cols = max(width/CellWidth, 1)
	c.rows = max(height/CellHeight, 1)
	c.samples = make([]rgb, c.cols*c.rows*2)
	c.clear()
}

// Size returns the canvas size in guest pixels.
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols * CellWidth, c.rows * CellHeight
}

// SetBackground sets the color used to clear each frame.
func (c *Canvas) SetBackground(col Color) {
	c.mu.Lock()
	c.background = col
	c.mu.Unlock()
}

func (c *Canvas) clear() {
	r, g, b, _ := c.background.RGBA()
	for i := range c.samples {
		c.samples[i] = rgb{r, g, b}
	}
}

func (c *Canvas) BeginFrame() {
	c.mu.Lock()
	c.clear()
	c.mu.Unlock()
}

func (c *Canvas) EndFrame() {}

func (c *Canvas) CreateTexture(width, height int, pixels []byte) (TextureID, error) {
	if width <= 0 || height <= 0 || len(pixels) != width*height*4 {
		return 0, errors.InvalidInput(errors.PhaseDispatch, "texture size does not match pixel data")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.textures[c.nextID] = &texture{pixels: append([]byte(nil), pixels...), width: width, height: height}
	return c.nextID, nil
}

func (c *Canvas) DeleteTexture(id TextureID) {
	c.mu.Lock()
	delete(c.textures, id)
	c.mu.Unlock()
}

func (c *Canvas) UploadBuffers(vertices []Vertex, indices []uint16) {
	c.mu.Lock()
	c.vertices = append(c.vertices[:0], vertices...)
	c.indices = append(c.indices[:0], indices...)
	c.mu.Unlock()
}

func (c *Canvas) Draw(clip Rect, id TextureID, indexCount, indexOffset uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tex *texture
	if id != 0 {
		t, ok := c.textures[id]
		if !ok {
			return errors.NotFound(errors.PhaseDispatch, "texture", fmt.Sprint(id))
		}
		tex = t
	}
	if err := checkRange(c.indices, len(c.vertices), indexCount, indexOffset); err != nil {
		return err
	}

	idx := c.indices[indexOffset : indexOffset+indexCount]
	for i := 0; i+2 < len(idx); i += 3 {
		c.triangle(clip, tex, c.vertices[idx[i]], c.vertices[idx[i+1]], c.vertices[idx[i+2]])
	}
	return nil
}

func (c *Canvas) FillRect(r Rect, col Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, cg, cb, ca := col.RGBA()
	c.eachSample(r, func(i int, _, _ float32) {
		c.blend(i, cr, cg, cb, ca)
	})
}

func (c *Canvas) StrokePath(points []Point, width float32, col Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, cg, cb, ca := col.RGBA()
	radius := width / 2

	plot := func(x, y float32) {
		if radius < sampleHeight/2 {
			if i, ok := c.sampleAt(x, y); ok {
				c.blend(i, cr, cg, cb, ca)
			}
			return
		}
		box := Rect{MinX: x - radius, MinY: y - radius, MaxX: x + radius, MaxY: y + radius}
		c.eachSample(box, func(i int, sx, sy float32) {
			if (sx-x)*(sx-x)+(sy-y)*(sy-y) <= radius*radius {
				c.blend(i, cr, cg, cb, ca)
			}
		})
	}

	if len(points) == 1 {
		plot(points[0].X, points[0].Y)
		return
	}
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		length := math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
		steps := max(int(length/2), 1)
		for s := 0; s <= steps; s++ {
			t := float32(s) / float32(steps)
			plot(a.X+(b.X-a.X)*t, a.Y+(b.Y-a.Y)*t)
		}
	}
}

// sampleAt returns the sample covering pixel (x, y).
func (c *Canvas) sampleAt(x, y float32) (int, bool) {
	if x < 0 || y < 0 {
		return 0, false
	}
	col := int(x) / CellWidth
	row := int(y) / sampleHeight
	if col >= c.cols || row >= c.rows*2 {
		return 0, false
	}
	return row*c.cols + col, true
}

// eachSample visits samples whose centers lie inside r.
func (c *Canvas) eachSample(r Rect, fn func(i int, x, y float32)) {
	minCol := max(int(math.Floor(float64(r.MinX)/CellWidth)), 0)
	maxCol := min(int(math.Ceil(float64(r.MaxX)/CellWidth)), c.cols)
	minRow := max(int(math.Floor(float64(r.MinY)/sampleHeight)), 0)
	maxRow := min(int(math.Ceil(float64(r.MaxY)/sampleHeight)), c.rows*2)
	for row := minRow; row < maxRow; row++ {
		sy := float32(row*sampleHeight) + sampleHeight/2
		for col := minCol; col < maxCol; col++ {
			sx := float32(col*CellWidth) + CellWidth/2
			if r.Contains(sx, sy) {
				fn(row*c.cols+col, sx, sy)
			}
		}
	}
}

func (c *Canvas) blend(i int, r, g, b, a uint8) {
	if a == 0 {
		return
	}
	dst := &c.samples[i]
	if a == 255 {
		*dst = rgb{r, g, b}
		return
	}
	mix := func(s, d uint8) uint8 {
		return uint8((uint32(s)*uint32(a) + uint32(d)*(255-uint32(a))) / 255)
	}
	*dst = rgb{mix(r, dst[0]), mix(g, dst[1]), mix(b, dst[2])}
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func (c *Canvas) triangle(clip Rect, tex *texture, v0, v1, v2 Vertex) {
	area := edge(v0.X, v0.Y, v1.X, v1.Y, v2.X, v2.Y)
	if area == 0 {
		return
	}
	box := Rect{
		MinX: max(min(v0.X, v1.X, v2.X), clip.MinX),
		MinY: max(min(v0.Y, v1.Y, v2.Y), clip.MinY),
		MaxX: min(max(v0.X, v1.X, v2.X), clip.MaxX),
		MaxY: min(max(v0.Y, v1.Y, v2.Y), clip.MaxY),
	}
	if box.MinX >= box.MaxX || box.MinY >= box.MaxY {
		return
	}

	c.eachSample(box, func(i int, x, y float32) {
		w0 := edge(v1.X, v1.Y, v2.X, v2.Y, x, y) / area
		w1 := edge(v2.X, v2.Y, v0.X, v0.Y, x, y) / area
		w2 := edge(v0.X, v0.Y, v1.X, v1.Y, x, y) / area
		if w0 < 0 || w1 < 0 || w2 < 0 {
			return
		}

		var col [4]float32
		for k := 0; k < 4; k++ {
			col[k] = w0*float32(v0.Color[k]) + w1*float32(v1.Color[k]) + w2*float32(v2.Color[k])
		}
		if tex != nil {
			u := w0*v0.U + w1*v1.U + w2*v2.U
			v := w0*v0.V + w1*v1.V + w2*v2.V
			texel := tex.sample(u, v)
			for k := 0; k < 4; k++ {
				col[k] = col[k] * float32(texel[k]) / 255
			}
		}
		c.blend(i, toByte(col[0]), toByte(col[1]), toByte(col[2]), toByte(col[3]))
	})
}

func toByte(f float32) uint8 {
	return uint8(min(max(f+0.5, 0), 255))
}

func (t *texture) sample(u, v float32) [4]uint8 {
	x := min(max(int(u*float32(t.width)), 0), t.width-1)
	y := min(max(int(v*float32(t.height)), 0), t.height-1)
	p := t.pixels[(y*t.width+x)*4:]
	return [4]uint8{p[0], p[1], p[2], p[3]}
}

// Pixel returns the color of the sample covering guest pixel (x, y).
func (c *Canvas) Pixel(x, y int) (Color, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.sampleAt(float32(x), float32(y))
	if !ok {
		return 0, false
	}
	s := c.samples[i]
	return RGBA(s[0], s[1], s[2], 0xff), true
}

// View renders the canvas as terminal text, one line per cell row.
func (c *Canvas) View() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	for row := 0; row < c.rows; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		top := c.samples[row*2*c.cols : (row*2+1)*c.cols]
		bottom := c.samples[(row*2+1)*c.cols : (row*2+2)*c.cols]

		start := 0
		for col := 1; col <= c.cols; col++ {
			if col < c.cols && top[col] == top[start] && bottom[col] == bottom[start] {
				continue
			}
			style := lipgloss.NewStyle().
				Foreground(lipgloss.Color(top[start].hex())).
				Background(lipgloss.Color(bottom[start].hex()))
			b.WriteString(style.Render(strings.Repeat(halfBlock, col-start)))
			start = col
		}
	}
	return b.String()
}
