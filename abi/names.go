package abi

import "go.bytecodealliance.org/wit"

// Import module names.
const (
	ModuleHost   = "host"
	ModuleWASI   = "wasi"
	ModuleWASIP1 = "wasi_snapshot_preview1"
	ModuleEnv    = "env"

	MemoryName = "memory"
)

// Host import names.
const (
	Log              = "log"
	FreeHandle       = "free_handle"
	CreateTexture    = "create_texture"
	UploadBuffers    = "upload_buffers"
	Draw             = "draw"
	FillRect         = "fill_rect"
	StrokePath       = "stroke_path"
	Now              = "now"
	RequestFilePick  = "request_file_picker"
	CopyHandleBytes  = "copy_handle_bytes"
	HandleByteLength = "handle_byte_length"
	ThreadSpawn      = "thread-spawn"
	ClockTimeGet     = "clock_time_get"
)

// Guest export names.
const (
	Init            = "init"
	OnResize        = "on_resize"
	OnMousePos      = "on_mouse_pos"
	OnMouseButton   = "on_mouse_button"
	OnMouseWheel    = "on_mouse_wheel"
	OnKey           = "on_key"
	OnFocus         = "on_focus"
	Update          = "update"
	ShouldLoadFile  = "should_load_file"
	OnLoadFileStart = "on_load_file_start"
	OnLoadFileChunk = "on_load_file_chunk"
	OnLoadFileDone  = "on_load_file_done"
	OnLoadFileError = "on_load_file_error"
	ThreadStart     = "wasi_thread_start"
)

// HostImports declares every import the host implements.
var HostImports = []Func{
	{Module: ModuleHost, Name: Log, Params: []Param{p("level", wit.S32{}), p("ptr", wit.U32{}), p("len", wit.U32{})}},
	{Module: ModuleHost, Name: FreeHandle, Params: []Param{p("ref", wit.U64{})}},
	{Module: ModuleHost, Name: CreateTexture, Params: []Param{p("w", wit.U32{}), p("h", wit.U32{}), p("pixels", wit.U32{})}, Results: []wit.Type{wit.U64{}}},
	{Module: ModuleHost, Name: UploadBuffers, Params: []Param{p("vtx_ptr", wit.U32{}), p("vtx_len", wit.U32{}), p("idx_ptr", wit.U32{}), p("idx_len", wit.U32{})}},
	{Module: ModuleHost, Name: Draw, Params: []Param{
		p("min_x", wit.F32{}), p("min_y", wit.F32{}), p("max_x", wit.F32{}), p("max_y", wit.F32{}),
		p("texture", wit.U64{}), p("idx_count", wit.U32{}), p("idx_offset", wit.U32{}),
	}},
	{Module: ModuleHost, Name: FillRect, Params: []Param{p("x", wit.F32{}), p("y", wit.F32{}), p("w", wit.F32{}), p("h", wit.F32{}), p("rgba", wit.U32{})}},
	{Module: ModuleHost, Name: StrokePath, Params: []Param{p("points", wit.U32{}), p("count", wit.U32{}), p("width", wit.F32{}), p("rgba", wit.U32{})}},
	{Module: ModuleHost, Name: Now, Results: []wit.Type{wit.F64{}}},
	{Module: ModuleHost, Name: RequestFilePick},
	{Module: ModuleHost, Name: CopyHandleBytes, Params: []Param{p("ref", wit.U64{}), p("dst", wit.U32{}), p("len", wit.U32{})}},
	{Module: ModuleHost, Name: HandleByteLength, Params: []Param{p("ref", wit.U64{})}, Results: []wit.Type{wit.U32{}}},
	{Module: ModuleWASI, Name: ThreadSpawn, Params: []Param{p("arg", wit.U32{})}, Results: []wit.Type{wit.S32{}}},
	{Module: ModuleWASIP1, Name: ClockTimeGet, Params: []Param{p("id", wit.U32{}), p("precision", wit.U64{}), p("out", wit.U32{})}, Results: []wit.Type{wit.U32{}}},
}

// TrappedWASI lists preview1 functions deliberately bound to trap stubs.
// The guest toolchain links them but the viewer never needs them.
var TrappedWASI = []string{
	"args_get",
	"args_sizes_get",
	"fd_close",
	"fd_fdstat_get",
	"fd_fdstat_set_flags",
	"fd_prestat_get",
	"fd_prestat_dir_name",
	"fd_read",
	"fd_seek",
	"fd_write",
	"path_open",
	"proc_exit",
	"random_get",
}

// GuestExports declares the functions the host calls.
var GuestExports = []Func{
	{Name: Init, Params: []Param{
		p("w", wit.U32{}), p("h", wit.U32{}), p("pixel_ratio", wit.F32{}),
		p("font", wit.U64{}), p("font_len", wit.U32{}), p("font_size", wit.F32{}),
	}, Results: []wit.Type{wit.U32{}}},
	{Name: OnResize, Params: []Param{p("ctx", wit.U32{}), p("w", wit.U32{}), p("h", wit.U32{})}},
	{Name: OnMousePos, Params: []Param{p("ctx", wit.U32{}), p("x", wit.F32{}), p("y", wit.F32{})}},
	{Name: OnMouseButton, Params: []Param{p("ctx", wit.U32{}), p("button", wit.U32{}), p("down", wit.Bool{})}},
	{Name: OnMouseWheel, Params: []Param{p("ctx", wit.U32{}), p("dx", wit.F32{}), p("dy", wit.F32{})}},
	{Name: OnKey, Params: []Param{p("ctx", wit.U32{}), p("key", wit.U32{}), p("down", wit.Bool{})}},
	{Name: OnFocus, Params: []Param{p("ctx", wit.U32{}), p("focused", wit.Bool{})}},
	{Name: Update, Params: []Param{p("ctx", wit.U32{}), p("dt", wit.F32{})}},
	{Name: ShouldLoadFile, Params: []Param{p("ctx", wit.U32{})}, Results: []wit.Type{wit.Bool{}}},
	{Name: OnLoadFileStart, Params: []Param{p("ctx", wit.U32{}), p("total", wit.U64{}), p("name", wit.U64{})}},
	{Name: OnLoadFileChunk, Params: []Param{p("ctx", wit.U32{}), p("offset", wit.U64{}), p("chunk", wit.U64{}), p("len", wit.U32{})}},
	{Name: OnLoadFileDone, Params: []Param{p("ctx", wit.U32{})}},
	{Name: OnLoadFileError, Params: []Param{p("ctx", wit.U32{}), p("reason", wit.U64{})}, Optional: true},
	{Name: ThreadStart, Params: []Param{p("tid", wit.S32{}), p("arg", wit.U32{})}, Optional: true},
}

// Lookup returns the host import declaration for module and name.
func Lookup(module, name string) (Func, bool) {
	for _, f := range HostImports {
		if f.Module == module && f.Name == name {
			return f, true
		}
	}
	return Func{}, false
}

// Export returns the guest export declaration for name.
func Export(name string) (Func, bool) {
	for _, f := range GuestExports {
		if f.Name == name {
			return f, true
		}
	}
	return Func{}, false
}

// Owned reports whether the host owns the import module namespace.
func Owned(module string) bool {
	switch module {
	case ModuleHost, ModuleWASI, ModuleWASIP1:
		return true
	}
	return false
}
