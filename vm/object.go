package vm

import "context"

// Builtin is a Go function that can be stored in a namespace or a global
// table and called from evaluated code.
type Builtin func(ctx context.Context, args ...any) (any, error)

// Module is a named bag of attributes. It is the value type used to stand in
// for an imported module: placing a Module in a call's namespace under the
// name of a global lets rewritten code resolve attribute access against the
// replacement instead of the function's real global binding.
type Module struct {
	name  string
	attrs map[string]any
}

// NewModule creates a module with the given name and attributes.
func NewModule(name string, attrs map[string]any) *Module {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Module{name: name, attrs: copied}
}

// Name returns the module's name.
func (m *Module) Name() string {
	return m.name
}

// Attr returns the named attribute and whether it exists.
func (m *Module) Attr(name string) (any, bool) {
	v, ok := m.attrs[name]
	return v, ok
}

// SetAttr binds the named attribute.
func (m *Module) SetAttr(name string, value any) {
	m.attrs[name] = value
}

// DeleteAttr removes the named attribute, reporting whether it existed.
func (m *Module) DeleteAttr(name string) bool {
	if _, ok := m.attrs[name]; !ok {
		return false
	}
	delete(m.attrs, name)
	return true
}

// String returns a string representation of the module.
func (m *Module) String() string {
	return "module(" + m.name + ")"
}
