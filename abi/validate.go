package abi

import (
	"sort"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/tracehost/errors"
)

// Signature is the part of api.FunctionDefinition needed for checks.
type Signature interface {
	ParamTypes() []api.ValueType
	ResultTypes() []api.ValueType
}

// ImportDef is the part of api.FunctionDefinition describing an import.
type ImportDef interface {
	Signature
	Import() (moduleName, name string, isImport bool)
}

// ValidateExports checks that every required guest export exists with the
// declared signature. Optional exports are checked only when present;
// the thread entry point is required when threads is set.
func ValidateExports[D Signature](exports map[string]D, decls []Func, threads bool) error {
	for _, decl := range decls {
		def, ok := exports[decl.Name]
		if !ok {
			required := !decl.Optional || (threads && decl.Name == ThreadStart)
			if required {
				return errors.New(errors.PhaseABI, errors.KindNotFound).
					Path(decl.Name).
					Detail("guest does not export %s%s", decl.Name, decl.Signature()).
					Build()
			}
			continue
		}
		if err := checkSignature("", decl, def); err != nil {
			return err
		}
	}
	return nil
}

func checkSignature(module string, decl Func, def Signature) error {
	if sameTypes(decl.ParamTypes(), def.ParamTypes()) && sameTypes(decl.ResultTypes(), def.ResultTypes()) {
		return nil
	}
	return errors.ABIMismatch(module, decl.Name, decl.Signature(), FormatSignature(def.ParamTypes(), def.ResultTypes()))
}

// Binding is one guest import resolved against the host.
type Binding struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Decl    Func // zero for stubs
	Stub    bool
}

// Plan groups resolved imports by module.
type Plan struct {
	modules map[string][]Binding
}

// Modules returns the import module names in sorted order.
func (p *Plan) Modules() []string {
	names := make([]string, 0, len(p.modules))
	for name := range p.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bindings returns the resolved imports of module.
func (p *Plan) Bindings(module string) []Binding {
	return p.modules[module]
}

// Stubs returns every import bound to a trap stub.
func (p *Plan) Stubs() []Binding {
	var out []Binding
	for _, name := range p.Modules() {
		for _, b := range p.modules[name] {
			if b.Stub {
				out = append(out, b)
			}
		}
	}
	return out
}

func (p *Plan) add(b Binding) {
	for _, existing := range p.modules[b.Module] {
		if existing.Name == b.Name {
			return
		}
	}
	p.modules[b.Module] = append(p.modules[b.Module], b)
}

// Resolve classifies the guest's function imports. Implemented imports
// must match their declared signature. Everything else in an owned module
// becomes a trap stub; imports from foreign modules become stubs too unless
// strict is set, in which case they are reported as a MissingImportsError.
func Resolve[I ImportDef](imports []I, strict bool) (*Plan, error) {
	plan := &Plan{modules: make(map[string][]Binding)}
	var missing []string

	for _, imp := range imports {
		module, name, ok := imp.Import()
		if !ok {
			continue
		}
		b := Binding{
			Module:  module,
			Name:    name,
			Params:  imp.ParamTypes(),
			Results: imp.ResultTypes(),
		}

		if decl, ok := Lookup(module, name); ok {
			if err := checkSignature(module, decl, imp); err != nil {
				return nil, err
			}
			b.Decl = decl
			plan.add(b)
			continue
		}

		if !Owned(module) && strict {
			missing = append(missing, module+"#"+name)
			continue
		}
		b.Stub = true
		plan.add(b)
	}

	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}
	return plan, nil
}
