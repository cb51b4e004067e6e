// Package vm provides the evaluator that executes compiled code objects.
//
// The evaluator resolves named variable access (LOAD_NAME, STORE_NAME,
// DELETE_NAME) through a caller-supplied namespace, which is what makes
// rewritten code behave as if its local frame were a mapping object. Fast
// and cell access is also supported so unmodified code objects can run.
//
// Evaluation is synchronous and single-threaded. A code object is only read
// during evaluation, so the same code may be evaluated concurrently; the
// namespace passed to a given run is used without locking.
package vm

import (
	"context"
	"fmt"
	"strings"

	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/namespace"
	"github.com/xmorgan/codetools/op"
)

const (
	// MaxStackDepth is the hard limit on the operand stack of one frame.
	MaxStackDepth = 1024

	// MaxCallDepth is the maximum nesting of function calls.
	MaxCallDepth = 64

	// contextCheckInterval is the number of instructions between
	// deterministic checks of ctx.Done().
	contextCheckInterval = 1000

	defaultStackSize = 64
)

// unsetType marks a fast local slot that has no value bound.
type unsetType struct{}

var unset = unsetType{}

// Option configures a single evaluation.
type Option func(*machine)

// WithGlobals sets the global namespace for the evaluation. The map is used
// directly, not copied: global stores are visible to the caller.
func WithGlobals(globals map[string]any) Option {
	return func(m *machine) {
		m.globals = globals
	}
}

// WithLocals supplies the namespace used for named variable access. When no
// namespace is given, named access falls through to the globals map, which
// matches evaluating a module body.
func WithLocals(locals namespace.Namespace) Option {
	return func(m *machine) {
		m.locals = locals
	}
}

// WithCells seeds the cell storage used by LOAD_DEREF and STORE_DEREF,
// keyed by variable name.
func WithCells(cells map[string]any) Option {
	return func(m *machine) {
		for k, v := range cells {
			m.cells[k] = v
		}
	}
}

// WithArgs seeds the leading fast local slots, in order. This is how a code
// object that reads its parameters from fast slots receives its arguments.
func WithArgs(args []any) Option {
	return func(m *machine) {
		m.args = args
	}
}

type machine struct {
	code    *bytecode.Code
	stream  []byte
	globals map[string]any
	locals  namespace.Namespace
	cells   map[string]any
	fast    []any
	args    []any
	stack   []any
	sp      int
	ip      int
	depth   int
}

func newMachine(code *bytecode.Code) *machine {
	stackSize := code.StackSize()
	if stackSize <= 0 {
		stackSize = defaultStackSize
	}
	if stackSize > MaxStackDepth {
		stackSize = MaxStackDepth
	}
	m := &machine{
		code:   code,
		stream: code.Instructions(),
		cells:  map[string]any{},
		stack:  make([]any, stackSize),
		sp:     -1,
	}
	localCount := code.LocalCount()
	if localCount < code.VarNameCount() {
		localCount = code.VarNameCount()
	}
	m.fast = make([]any, localCount)
	for i := range m.fast {
		m.fast[i] = unset
	}
	return m
}

// Run evaluates a code object and returns the value produced by its
// RETURN_VALUE instruction, or nil if execution falls off the end.
func Run(ctx context.Context, code *bytecode.Code, opts ...Option) (result any, err error) {
	m := newMachine(code)
	m.globals = map[string]any{}
	for _, opt := range opts {
		opt(m)
	}
	for i, arg := range m.args {
		if i < len(m.fast) {
			m.fast[i] = arg
		}
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errz.New(errz.ErrRuntime, "panic: %v", r)
		}
	}()
	return m.eval(ctx)
}

func (m *machine) push(value any) {
	m.sp++
	if m.sp >= len(m.stack) {
		if len(m.stack) >= MaxStackDepth {
			panic("stack overflow")
		}
		grown := make([]any, len(m.stack)*2)
		copy(grown, m.stack)
		m.stack = grown
	}
	m.stack[m.sp] = value
}

func (m *machine) pop() any {
	if m.sp < 0 {
		panic("stack underflow")
	}
	value := m.stack[m.sp]
	m.stack[m.sp] = nil
	m.sp--
	return value
}

func (m *machine) eval(ctx context.Context) (any, error) {
	count := 0
	for m.ip < len(m.stream) {
		count++
		if count%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		offset := m.ip
		opcode := op.Code(m.stream[m.ip])
		info := op.GetInfo(opcode)
		if info.Name == "" {
			return nil, errz.New(errz.ErrUnrecognizedInstruction,
				"opcode %d at offset %d", opcode, offset)
		}
		m.ip++
		var operand int16
		if info.HasOperand {
			if m.ip+2 > len(m.stream) {
				return nil, errz.New(errz.ErrUnrecognizedInstruction,
					"truncated operand for %s at offset %d", info.Name, offset)
			}
			operand = int16(m.stream[m.ip]) | int16(m.stream[m.ip+1])<<8
			m.ip += 2
		}

		switch opcode {

		case op.Nop:

		case op.ReturnValue:
			return m.pop(), nil

		case op.Call:
			argc := int(operand)
			args := make([]any, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = m.pop()
			}
			callee := m.pop()
			result, err := m.call(ctx, callee, args)
			if err != nil {
				return nil, err
			}
			m.push(result)

		case op.Jump:
			if err := m.jump(operand); err != nil {
				return nil, err
			}

		case op.PopJumpIfFalse:
			if !Truthy(m.pop()) {
				if err := m.jump(operand); err != nil {
					return nil, err
				}
			}

		case op.PopJumpIfTrue:
			if Truthy(m.pop()) {
				if err := m.jump(operand); err != nil {
					return nil, err
				}
			}

		case op.LoadConst:
			if int(operand) >= m.code.ConstantCount() {
				return nil, errz.New(errz.ErrRuntime,
					"constant index %d out of range", operand)
			}
			m.push(m.code.ConstantAt(int(operand)))

		case op.Nil:
			m.push(nil)
		case op.True:
			m.push(true)
		case op.False:
			m.push(false)

		case op.LoadFast:
			value, err := m.loadFast(int(operand))
			if err != nil {
				return nil, err
			}
			m.push(value)
		case op.StoreFast:
			if err := m.checkFast(int(operand)); err != nil {
				return nil, err
			}
			m.fast[operand] = m.pop()
		case op.DeleteFast:
			if _, err := m.loadFast(int(operand)); err != nil {
				return nil, err
			}
			m.fast[operand] = unset

		case op.LoadDeref:
			name, err := m.derefName(int(operand))
			if err != nil {
				return nil, err
			}
			value, ok := m.cells[name]
			if !ok {
				return nil, errz.New(errz.ErrName,
					"free variable %q referenced before assignment", name)
			}
			m.push(value)
		case op.StoreDeref:
			name, err := m.derefName(int(operand))
			if err != nil {
				return nil, err
			}
			m.cells[name] = m.pop()

		case op.LoadClosure:
			return nil, errz.New(errz.ErrUnsupportedConstruct,
				"closures are not supported by this evaluator")

		case op.LoadGlobal:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			value, ok := m.globals[name]
			if !ok {
				return nil, errz.New(errz.ErrName, "global name %q is not defined", name)
			}
			m.push(value)
		case op.StoreGlobal:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			m.globals[name] = m.pop()
		case op.DeleteGlobal:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			if _, ok := m.globals[name]; !ok {
				return nil, errz.New(errz.ErrName, "global name %q is not defined", name)
			}
			delete(m.globals, name)

		case op.LoadName:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			value, err := m.loadName(name)
			if err != nil {
				return nil, err
			}
			m.push(value)
		case op.StoreName:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			m.storeName(name, m.pop())
		case op.DeleteName:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			if err := m.deleteName(name); err != nil {
				return nil, err
			}

		case op.LoadAttr:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			obj := m.pop()
			value, err := getAttr(obj, name)
			if err != nil {
				return nil, err
			}
			m.push(value)
		case op.StoreAttr:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			obj := m.pop()
			value := m.pop()
			if err := setAttr(obj, name, value); err != nil {
				return nil, err
			}
		case op.DeleteAttr:
			name, err := m.name(int(operand))
			if err != nil {
				return nil, err
			}
			obj := m.pop()
			if err := deleteAttr(obj, name); err != nil {
				return nil, err
			}

		case op.BinaryOp:
			right := m.pop()
			left := m.pop()
			result, err := binaryOp(op.BinaryOpType(operand), left, right)
			if err != nil {
				return nil, err
			}
			m.push(result)
		case op.CompareOp:
			right := m.pop()
			left := m.pop()
			result, err := compareOp(op.CompareOpType(operand), left, right)
			if err != nil {
				return nil, err
			}
			m.push(result)
		case op.UnaryNegative:
			value := m.pop()
			if i, ok := asInt(value); ok {
				m.push(-i)
			} else if f, ok := asFloat(value); ok {
				m.push(-f)
			} else {
				return nil, errz.New(errz.ErrType, "cannot negate %s", TypeName(value))
			}
		case op.UnaryNot:
			m.push(!Truthy(m.pop()))

		case op.BuildList, op.BuildTuple:
			// Tuples materialize as lists in this evaluator
			n := int(operand)
			items := make([]any, n)
			for i := n - 1; i >= 0; i-- {
				items[i] = m.pop()
			}
			m.push(items)
		case op.BuildMap:
			n := int(operand)
			built := make(map[string]any, n)
			for i := 0; i < n; i++ {
				value := m.pop()
				key, ok := m.pop().(string)
				if !ok {
					return nil, errz.New(errz.ErrType, "map keys must be strings")
				}
				built[key] = value
			}
			m.push(built)

		case op.BinarySubscr:
			key := m.pop()
			container := m.pop()
			value, err := getIndex(container, key)
			if err != nil {
				return nil, err
			}
			m.push(value)
		case op.StoreSubscr:
			key := m.pop()
			container := m.pop()
			value := m.pop()
			if err := setIndex(container, key, value); err != nil {
				return nil, err
			}
		case op.ContainsOp:
			container := m.pop()
			item := m.pop()
			found, err := contains(item, container)
			if err != nil {
				return nil, err
			}
			if operand == 1 {
				found = !found
			}
			m.push(found)
		case op.Length:
			value, err := length(m.pop())
			if err != nil {
				return nil, err
			}
			m.push(value)

		case op.Swap:
			depth := int(operand)
			if depth < 2 || m.sp-depth+1 < 0 {
				return nil, errz.New(errz.ErrRuntime, "invalid SWAP depth %d", depth)
			}
			m.stack[m.sp], m.stack[m.sp-depth+1] = m.stack[m.sp-depth+1], m.stack[m.sp]
		case op.Copy:
			depth := int(operand)
			if depth < 1 || m.sp-depth+1 < 0 {
				return nil, errz.New(errz.ErrRuntime, "invalid COPY depth %d", depth)
			}
			m.push(m.stack[m.sp-depth+1])
		case op.PopTop:
			m.pop()

		default:
			return nil, errz.New(errz.ErrUnrecognizedInstruction,
				"opcode %s is not executable", info.Name)
		}
	}
	return nil, nil
}

func (m *machine) jump(target int16) error {
	if target < 0 || int(target) > len(m.stream) {
		return errz.New(errz.ErrRuntime, "jump target %d out of range", target)
	}
	m.ip = int(target)
	return nil
}

func (m *machine) name(index int) (string, error) {
	if index < 0 || index >= m.code.NameCount() {
		return "", errz.New(errz.ErrRuntime, "name index %d out of range", index)
	}
	return m.code.NameAt(index), nil
}

func (m *machine) derefName(index int) (string, error) {
	names := m.code.CellAndFreeNames()
	if index < 0 || index >= len(names) {
		return "", errz.New(errz.ErrRuntime, "cell index %d out of range", index)
	}
	return names[index], nil
}

func (m *machine) checkFast(index int) error {
	if index < 0 || index >= len(m.fast) {
		return errz.New(errz.ErrRuntime, "local index %d out of range", index)
	}
	return nil
}

func (m *machine) loadFast(index int) (any, error) {
	if err := m.checkFast(index); err != nil {
		return nil, err
	}
	value := m.fast[index]
	if value == any(unset) {
		name := fmt.Sprintf("local_%d", index)
		if index < m.code.VarNameCount() {
			name = m.code.VarNameAt(index)
		}
		return nil, errz.New(errz.ErrName,
			"local variable %q referenced before assignment", name)
	}
	return value, nil
}

// loadName resolves a named variable: the call namespace first, then the
// globals. This is what lets a context override a global for one call.
func (m *machine) loadName(name string) (any, error) {
	if m.locals != nil {
		if value, ok := m.locals.Get(name); ok {
			return value, nil
		}
	}
	if value, ok := m.globals[name]; ok {
		return value, nil
	}
	return nil, errz.New(errz.ErrName, "name %q is not defined", name)
}

func (m *machine) storeName(name string, value any) {
	if m.locals != nil {
		m.locals.Set(name, value)
		return
	}
	m.globals[name] = value
}

func (m *machine) deleteName(name string) error {
	if m.locals != nil {
		if m.locals.Delete(name) {
			return nil
		}
		return errz.New(errz.ErrName, "name %q is not defined", name)
	}
	if _, ok := m.globals[name]; !ok {
		return errz.New(errz.ErrName, "name %q is not defined", name)
	}
	delete(m.globals, name)
	return nil
}

func (m *machine) call(ctx context.Context, callee any, args []any) (any, error) {
	switch fn := callee.(type) {
	case Builtin:
		return fn(ctx, args...)
	case func(ctx context.Context, args ...any) (any, error):
		return fn(ctx, args...)
	case *bytecode.Function:
		return m.callFunction(ctx, fn, args)
	default:
		return nil, errz.New(errz.ErrType, "%s is not callable", TypeName(callee))
	}
}

// callFunction evaluates a compiled function with positionally bound
// arguments in a fresh frame. Instruction-level calls are positional only;
// keyword binding is the calling-convention emulator's concern.
func (m *machine) callFunction(ctx context.Context, fn *bytecode.Function, args []any) (any, error) {
	if m.depth+1 >= MaxCallDepth {
		return nil, errz.New(errz.ErrRuntime, "max call depth of %d exceeded", MaxCallDepth)
	}
	child := newMachine(fn.Code())
	child.globals = fn.Globals()
	if child.globals == nil {
		child.globals = map[string]any{}
	}
	for name, value := range fn.Captured() {
		child.cells[name] = value
	}
	child.depth = m.depth + 1
	if err := bindPositional(fn, args, child.fast); err != nil {
		return nil, err
	}
	return child.eval(ctx)
}

// bindPositional fills a frame's fast slots from positional arguments,
// applying defaults and collecting excess arguments when the function
// declares a collector.
func bindPositional(fn *bytecode.Function, args []any, fast []any) error {
	paramCount := fn.ParameterCount()
	if len(args) > paramCount && !fn.HasVarArgs() {
		return errz.New(errz.ErrTooManyArguments,
			"%s takes %d arguments but %d were given", fn.Name(), paramCount, len(args))
	}

	bound := len(args)
	if bound > paramCount {
		bound = paramCount
	}
	copy(fast[:bound], args[:bound])

	firstDefault := paramCount - fn.DefaultCount()
	for i := bound; i < paramCount; i++ {
		if i < firstDefault {
			return errz.New(errz.ErrMissingArgument,
				"%s missing required argument %q", fn.Name(), fn.Code().VarNameAt(i))
		}
		fast[i] = fn.Default(i - firstDefault)
	}

	slot := paramCount
	if fn.HasVarArgs() {
		rest := []any{}
		if len(args) > paramCount {
			rest = append(rest, args[paramCount:]...)
		}
		fast[slot] = rest
		slot++
	}
	if fn.HasVarKwargs() {
		fast[slot] = map[string]any{}
	}
	return nil
}

func getAttr(obj any, name string) (any, error) {
	switch o := obj.(type) {
	case *Module:
		if value, ok := o.Attr(name); ok {
			return value, nil
		}
		return nil, errz.New(errz.ErrName, "module %q has no attribute %q", o.Name(), name)
	case map[string]any:
		if value, ok := o[name]; ok {
			return value, nil
		}
		return nil, errz.New(errz.ErrName, "map has no attribute %q", name)
	case namespace.Namespace:
		if value, ok := o.Get(name); ok {
			return value, nil
		}
		return nil, errz.New(errz.ErrName, "namespace has no attribute %q", name)
	default:
		return nil, errz.New(errz.ErrType, "%s has no attributes", TypeName(obj))
	}
}

func setAttr(obj any, name string, value any) error {
	switch o := obj.(type) {
	case *Module:
		o.SetAttr(name, value)
	case map[string]any:
		o[name] = value
	case namespace.Namespace:
		o.Set(name, value)
	default:
		return errz.New(errz.ErrType, "%s has no attributes", TypeName(obj))
	}
	return nil
}

func deleteAttr(obj any, name string) error {
	switch o := obj.(type) {
	case *Module:
		if !o.DeleteAttr(name) {
			return errz.New(errz.ErrName, "module %q has no attribute %q", o.Name(), name)
		}
	case map[string]any:
		if _, ok := o[name]; !ok {
			return errz.New(errz.ErrName, "map has no attribute %q", name)
		}
		delete(o, name)
	case namespace.Namespace:
		if !o.Delete(name) {
			return errz.New(errz.ErrName, "namespace has no attribute %q", name)
		}
	default:
		return errz.New(errz.ErrType, "%s has no attributes", TypeName(obj))
	}
	return nil
}

func getIndex(container, key any) (any, error) {
	switch c := container.(type) {
	case []any:
		idx, ok := asInt(key)
		if !ok {
			return nil, errz.New(errz.ErrType, "list index must be an int, got %s", TypeName(key))
		}
		if idx < 0 {
			idx += int64(len(c))
		}
		if idx < 0 || idx >= int64(len(c)) {
			return nil, errz.New(errz.ErrRuntime, "list index %d out of range", idx)
		}
		return c[idx], nil
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, errz.New(errz.ErrType, "map key must be a string, got %s", TypeName(key))
		}
		value, found := c[k]
		if !found {
			return nil, errz.New(errz.ErrRuntime, "key %q not found", k)
		}
		return value, nil
	case namespace.Namespace:
		k, ok := key.(string)
		if !ok {
			return nil, errz.New(errz.ErrType, "namespace key must be a string, got %s", TypeName(key))
		}
		value, found := c.Get(k)
		if !found {
			return nil, errz.New(errz.ErrRuntime, "key %q not found", k)
		}
		return value, nil
	case string:
		idx, ok := asInt(key)
		if !ok {
			return nil, errz.New(errz.ErrType, "string index must be an int, got %s", TypeName(key))
		}
		if idx < 0 {
			idx += int64(len(c))
		}
		if idx < 0 || idx >= int64(len(c)) {
			return nil, errz.New(errz.ErrRuntime, "string index %d out of range", idx)
		}
		return string(c[idx]), nil
	default:
		return nil, errz.New(errz.ErrType, "%s is not subscriptable", TypeName(container))
	}
}

func setIndex(container, key, value any) error {
	switch c := container.(type) {
	case []any:
		idx, ok := asInt(key)
		if !ok {
			return errz.New(errz.ErrType, "list index must be an int, got %s", TypeName(key))
		}
		if idx < 0 {
			idx += int64(len(c))
		}
		if idx < 0 || idx >= int64(len(c)) {
			return errz.New(errz.ErrRuntime, "list index %d out of range", idx)
		}
		c[idx] = value
		return nil
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return errz.New(errz.ErrType, "map key must be a string, got %s", TypeName(key))
		}
		c[k] = value
		return nil
	case namespace.Namespace:
		k, ok := key.(string)
		if !ok {
			return errz.New(errz.ErrType, "namespace key must be a string, got %s", TypeName(key))
		}
		c.Set(k, value)
		return nil
	default:
		return errz.New(errz.ErrType, "%s does not support item assignment", TypeName(container))
	}
}

func contains(item, container any) (bool, error) {
	switch c := container.(type) {
	case []any:
		for _, candidate := range c {
			if equals(item, candidate) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[k]
		return found, nil
	case namespace.Namespace:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		return c.Contains(k), nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, errz.New(errz.ErrType, "cannot search for %s in string", TypeName(item))
		}
		return strings.Contains(c, s), nil
	default:
		return false, errz.New(errz.ErrType, "%s is not a container", TypeName(container))
	}
}

func length(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return int64(len(v)), nil
	case []any:
		return int64(len(v)), nil
	case map[string]any:
		return int64(len(v)), nil
	case namespace.Namespace:
		return int64(v.Len()), nil
	default:
		return nil, errz.New(errz.ErrType, "%s has no length", TypeName(value))
	}
}
