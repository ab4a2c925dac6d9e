package runtime

import (
	"encoding/binary"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// moduleBuilder assembles small core wasm modules for tests.
type moduleBuilder struct {
	memImport *memoryLimits
	memory    *memoryLimits
	funcIndex map[string]uint32
	imports   []funcImport
	funcs     []funcDef
	data      []dataSegment
}

type memoryLimits struct {
	module, name string
	min, max     uint32
	shared       bool
}

type funcImport struct {
	module, name    string
	params, results []api.ValueType
}

type funcDef struct {
	export          string
	params, results []api.ValueType
	locals          []api.ValueType
	body            []byte
}

type dataSegment struct {
	bytes  []byte
	offset uint32
}

func newModule() *moduleBuilder {
	return &moduleBuilder{funcIndex: make(map[string]uint32)}
}

// importFunc adds a function import. All imports must be added before any
// function is defined.
func (b *moduleBuilder) importFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic("imports must precede function definitions")
	}
	idx := uint32(len(b.imports))
	b.imports = append(b.imports, funcImport{module: module, name: name, params: params, results: results})
	b.funcIndex[name] = idx
	return idx
}

func (b *moduleBuilder) importMemory(module, name string, min, max uint32, shared bool) {
	b.memImport = &memoryLimits{module: module, name: name, min: min, max: max, shared: shared}
}

func (b *moduleBuilder) defineMemory(min uint32) {
	b.memory = &memoryLimits{min: min}
}

func (b *moduleBuilder) addData(offset uint32, bytes []byte) {
	b.data = append(b.data, dataSegment{offset: offset, bytes: bytes})
}

// function defines and exports a function. Locals follow the parameters.
func (b *moduleBuilder) function(export string, params, results, locals []api.ValueType, code ...[]byte) uint32 {
	idx := uint32(len(b.imports) + len(b.funcs))
	var body []byte
	for _, c := range code {
		body = append(body, c...)
	}
	b.funcs = append(b.funcs, funcDef{export: export, params: params, results: results, locals: locals, body: body})
	b.funcIndex[export] = idx
	return idx
}

func (b *moduleBuilder) call(name string) []byte {
	idx, ok := b.funcIndex[name]
	if !ok {
		panic("unknown function " + name)
	}
	return append([]byte{0x10}, uleb(idx)...)
}

func (b *moduleBuilder) build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types []byte
	types = append(types, uleb(uint32(len(b.imports)+len(b.funcs)))...)
	for _, f := range b.imports {
		types = append(types, funcType(f.params, f.results)...)
	}
	for _, f := range b.funcs {
		types = append(types, funcType(f.params, f.results)...)
	}
	wasm = section(wasm, 0x01, types)

	n := len(b.imports)
	if b.memImport != nil {
		n++
	}
	if n > 0 {
		imports := uleb(uint32(n))
		for i, f := range b.imports {
			imports = append(imports, wasmName(f.module)...)
			imports = append(imports, wasmName(f.name)...)
			imports = append(imports, 0x00)
			imports = append(imports, uleb(uint32(i))...)
		}
		if m := b.memImport; m != nil {
			imports = append(imports, wasmName(m.module)...)
			imports = append(imports, wasmName(m.name)...)
			imports = append(imports, 0x02)
			imports = append(imports, limits(m)...)
		}
		wasm = section(wasm, 0x02, imports)
	}

	funcs := uleb(uint32(len(b.funcs)))
	for i := range b.funcs {
		funcs = append(funcs, uleb(uint32(len(b.imports)+i))...)
	}
	wasm = section(wasm, 0x03, funcs)

	if b.memory != nil {
		mem := uleb(1)
		mem = append(mem, limits(b.memory)...)
		wasm = section(wasm, 0x05, mem)
	}

	exports := uleb(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		exports = append(exports, wasmName(f.export)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(uint32(len(b.imports)+i))...)
	}
	wasm = section(wasm, 0x07, exports)

	code := uleb(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := uleb(uint32(len(f.locals)))
		for _, l := range f.locals {
			body = append(body, 0x01, byte(l))
		}
		body = append(body, f.body...)
		body = append(body, 0x0b)
		code = append(code, uleb(uint32(len(body)))...)
		code = append(code, body...)
	}
	wasm = section(wasm, 0x0a, code)

	if len(b.data) > 0 {
		data := uleb(uint32(len(b.data)))
		for _, d := range b.data {
			data = append(data, 0x00)
			data = append(data, i32Const(int32(d.offset))...)
			data = append(data, 0x0b)
			data = append(data, uleb(uint32(len(d.bytes)))...)
			data = append(data, d.bytes...)
		}
		wasm = section(wasm, 0x0b, data)
	}
	return wasm
}

func funcType(params, results []api.ValueType) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	for _, p := range params {
		out = append(out, byte(p))
	}
	out = append(out, uleb(uint32(len(results)))...)
	for _, r := range results {
		out = append(out, byte(r))
	}
	return out
}

func limits(m *memoryLimits) []byte {
	switch {
	case m.shared:
		return append(append([]byte{0x03}, uleb(m.min)...), uleb(m.max)...)
	case m.max > 0:
		return append(append([]byte{0x01}, uleb(m.min)...), uleb(m.max)...)
	default:
		return append([]byte{0x00}, uleb(m.min)...)
	}
}

func section(wasm []byte, id byte, content []byte) []byte {
	wasm = append(wasm, id)
	wasm = append(wasm, uleb(uint32(len(content)))...)
	return append(wasm, content...)
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Instructions.

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

func vt(types ...api.ValueType) []api.ValueType { return types }

func i32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }

func f32Const(v float32) []byte {
	out := []byte{0x43, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], math.Float32bits(v))
	return out
}

func localGet(i uint32) []byte { return append([]byte{0x20}, uleb(i)...) }
func localSet(i uint32) []byte { return append([]byte{0x21}, uleb(i)...) }

func i32Load(offset uint32) []byte  { return append([]byte{0x28, 0x02}, uleb(offset)...) }
func i32Store(offset uint32) []byte { return append([]byte{0x36, 0x02}, uleb(offset)...) }
func i64Store(offset uint32) []byte { return append([]byte{0x37, 0x03}, uleb(offset)...) }

var (
	opDrop        = []byte{0x1a}
	opUnreachable = []byte{0x00}
	opI32Add      = []byte{0x6a}
	opI32Mul      = []byte{0x6c}
	opI32Eq       = []byte{0x46}
	opI32Eqz      = []byte{0x45}
	opI32WrapI64  = []byte{0xa7}
	opIf          = []byte{0x04, 0x40}
	opEnd         = []byte{0x0b}
)

// storeI32 stores the value produced by value at addr.
func storeI32(addr int32, value ...[]byte) []byte {
	out := i32Const(addr)
	for _, v := range value {
		out = append(out, v...)
	}
	return append(out, i32Store(0)...)
}

// storeI64 stores the value produced by value at addr.
func storeI64(addr int32, value ...[]byte) []byte {
	out := i32Const(addr)
	for _, v := range value {
		out = append(out, v...)
	}
	return append(out, i64Store(0)...)
}

// addI32 adds the value produced by value to the i32 at addr.
func addI32(addr int32, value ...[]byte) []byte {
	out := i32Const(addr)
	out = append(out, i32Const(addr)...)
	out = append(out, i32Load(0)...)
	for _, v := range value {
		out = append(out, v...)
	}
	out = append(out, opI32Add...)
	return append(out, i32Store(0)...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
