package bytecode

import (
	"bytes"
	"fmt"
	"strings"
)

// Function represents a compiled function: a code object plus the values
// needed to call it. It is immutable after creation, with one deliberate
// exception: the globals map is held by reference, because it is the
// function's live global namespace rather than part of the function itself.
type Function struct {
	id            string
	name          string
	doc           string
	code          *Code
	defaults      []any
	globals       map[string]any
	captured      map[string]any
	requiredCount int
}

// FunctionParams contains parameters for creating a new Function.
type FunctionParams struct {
	ID   string
	Name string
	Doc  string
	Code *Code

	// Defaults are aligned with the trailing parameters: the last
	// len(Defaults) parameters take these values when unbound.
	Defaults []any

	// Globals is the function's global namespace, held by reference.
	Globals map[string]any

	// Captured maps free variable names to their captured cell values,
	// snapshot at function creation.
	Captured map[string]any
}

// NewFunction creates a new immutable Function from the given parameters.
// Input slices and the captured map are copied to ensure immutability.
func NewFunction(params FunctionParams) *Function {
	var captured map[string]any
	if len(params.Captured) > 0 {
		captured = make(map[string]any, len(params.Captured))
		for k, v := range params.Captured {
			captured[k] = v
		}
	}
	argCount := 0
	if params.Code != nil {
		argCount = params.Code.ArgCount()
	}
	return &Function{
		id:            params.ID,
		name:          params.Name,
		doc:           params.Doc,
		code:          params.Code,
		defaults:      copyAny(params.Defaults),
		globals:       params.Globals,
		captured:      captured,
		requiredCount: argCount - len(params.Defaults),
	}
}

// ID returns the unique identifier for this function.
func (f *Function) ID() string {
	return f.id
}

// Name returns the function name, or empty string for anonymous functions.
func (f *Function) Name() string {
	return f.name
}

// Doc returns the function's documentation string.
func (f *Function) Doc() string {
	return f.doc
}

// Code returns the compiled code for this function's body.
func (f *Function) Code() *Code {
	return f.code
}

// Parameters returns the declared positional parameter names.
func (f *Function) Parameters() []string {
	return f.code.Parameters()
}

// ParameterCount returns the number of declared positional parameters.
func (f *Function) ParameterCount() int {
	return f.code.ArgCount()
}

// DefaultCount returns the number of default parameter values.
func (f *Function) DefaultCount() int {
	return len(f.defaults)
}

// Default returns the default value at the given index. Index zero
// corresponds to the first parameter that has a default.
func (f *Function) Default(index int) any {
	return f.defaults[index]
}

// Defaults returns a copy of the default values.
func (f *Function) Defaults() []any {
	return copyAny(f.defaults)
}

// RequiredArgsCount returns the minimum number of positional arguments
// required when no keyword arguments are supplied.
func (f *Function) RequiredArgsCount() int {
	return f.requiredCount
}

// HasVarArgs returns true if the function collects excess positional
// arguments.
func (f *Function) HasVarArgs() bool {
	return f.code.Flags().Has(FlagVarArgs)
}

// HasVarKwargs returns true if the function collects excess keyword
// arguments.
func (f *Function) HasVarKwargs() bool {
	return f.code.Flags().Has(FlagVarKwargs)
}

// VarArgName returns the name of the positional collector parameter, or an
// empty string if the function does not declare one. The collector occupies
// the local variable slot immediately after the declared parameters.
func (f *Function) VarArgName() string {
	if !f.HasVarArgs() {
		return ""
	}
	return f.code.VarNameAt(f.code.ArgCount())
}

// KwargName returns the name of the keyword collector parameter, or an
// empty string if the function does not declare one.
func (f *Function) KwargName() string {
	if !f.HasVarKwargs() {
		return ""
	}
	index := f.code.ArgCount()
	if f.HasVarArgs() {
		index++
	}
	return f.code.VarNameAt(index)
}

// Globals returns the function's global namespace. The map is shared, not
// copied: writes through it are visible to the function, exactly as writes
// to a module namespace are visible to the functions defined in it.
func (f *Function) Globals() map[string]any {
	return f.globals
}

// Captured returns a copy of the function's captured free variable values.
func (f *Function) Captured() map[string]any {
	if f.captured == nil {
		return nil
	}
	captured := make(map[string]any, len(f.captured))
	for k, v := range f.captured {
		captured[k] = v
	}
	return captured
}

// String returns a string representation of the function signature.
func (f *Function) String() string {
	var out bytes.Buffer
	params := f.Parameters()
	firstDefault := len(params) - len(f.defaults)
	rendered := make([]string, 0, len(params)+2)
	for i, name := range params {
		if i >= firstDefault {
			name += "=" + fmt.Sprintf("%v", f.defaults[i-firstDefault])
		}
		rendered = append(rendered, name)
	}
	if f.HasVarArgs() {
		rendered = append(rendered, "*"+f.VarArgName())
	}
	if f.HasVarKwargs() {
		rendered = append(rendered, "**"+f.KwargName())
	}
	out.WriteString("func")
	if f.name != "" {
		out.WriteString(" " + f.name)
	}
	out.WriteString("(")
	out.WriteString(strings.Join(rendered, ", "))
	out.WriteString(")")
	return out.String()
}
