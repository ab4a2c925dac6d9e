package abi

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
)

// Param is a named function parameter.
type Param struct {
	Type wit.Type
	Name string
}

// Func declares one function crossing the boundary.
type Func struct {
	Module   string // import module; empty for guest exports
	Name     string
	Params   []Param
	Results  []wit.Type
	Optional bool // guest export that may be absent
}

// Key returns "module#name" for imports and the bare name for exports.
func (f Func) Key() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "#" + f.Name
}

// ParamTypes returns the flattened core parameter types.
func (f Func) ParamTypes() []api.ValueType {
	var types []api.ValueType
	for _, p := range f.Params {
		types = append(types, Flatten(p.Type)...)
	}
	return types
}

// ResultTypes returns the flattened core result types.
func (f Func) ResultTypes() []api.ValueType {
	var types []api.ValueType
	for _, r := range f.Results {
		types = append(types, Flatten(r)...)
	}
	return types
}

// ParamNames returns parameter names, one per flattened core value.
func (f Func) ParamNames() []string {
	var names []string
	for _, p := range f.Params {
		n := len(Flatten(p.Type))
		if n == 1 {
			names = append(names, p.Name)
			continue
		}
		for i := 0; i < n; i++ {
			names = append(names, p.Name+"."+string(rune('0'+i)))
		}
	}
	return names
}

// Signature formats the core signature, e.g. "(i32, f32) -> (i64)".
func (f Func) Signature() string {
	return FormatSignature(f.ParamTypes(), f.ResultTypes())
}

// Flatten lowers a WIT primitive to its core WebAssembly value types.
func Flatten(t wit.Type) []api.ValueType {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	}
	return nil
}

// FormatSignature renders core parameter and result types.
func FormatSignature(params, results []api.ValueType) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(") -> (")
	for i, r := range results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func p(name string, t wit.Type) Param { return Param{Name: name, Type: t} }
