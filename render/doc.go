// Package render defines the draw-call sink the guest renders into.
//
// The guest prepares all geometry itself. The host only receives finished
// vertex and index buffers, textures created from RGBA pixels, and draw
// calls that reference a texture and a range of the uploaded indices, plus
// the rectangle and path commands of the 2D canvas variant.
//
// Two sinks are provided: Recorder keeps every command for inspection and
// headless runs, Canvas rasterizes into a cell grid that is printed to a
// terminal with lipgloss.
//
// # Buffer Layout
//
//	vertex (20 bytes): x f32 | y f32 | u f32 | v f32 | r g b a u8
//	index  (2 bytes):  u16
//
// Colors passed as a single integer are packed 0xRRGGBBAA.
package render
