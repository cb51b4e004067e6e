// Package asm assembles code objects for the codetools engine, either
// programmatically through a Builder or from a textual listing via Parse.
package asm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/op"
)

// Builder accumulates instructions and name tables and produces an
// immutable code object. Jump targets are expressed as labels and resolved
// to byte offsets when the code is built.
type Builder struct {
	name      string
	stream    []byte
	constants []any
	names     []string
	cellVars  []string
	freeVars  []string
	varNames  []string
	argCount  int
	flags     bytecode.Flags
	filename  string
	firstLine int
	line      int
	lines     []bytecode.LineEntry
	labels    map[string]int
	fixups    []fixup
	err       error
}

type fixup struct {
	pos   int // byte position of the operand
	label string
}

// NewBuilder creates a Builder for a code object with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		flags:  bytecode.FlagOptimized | bytecode.FlagNewLocals,
		labels: map[string]int{},
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// SetFilename records the source filename for the code object.
func (b *Builder) SetFilename(filename string) *Builder {
	b.filename = filename
	return b
}

// SetFirstLine records the 1-based line where the code begins.
func (b *Builder) SetFirstLine(line int) *Builder {
	b.firstLine = line
	return b
}

// SetLine sets the current source line; subsequent instructions are
// attributed to it.
func (b *Builder) SetLine(line int) *Builder {
	b.line = line
	return b
}

// Param declares a positional parameter. Parameters must be declared before
// any other local variables.
func (b *Builder) Param(name string) *Builder {
	if b.argCount != len(b.varNames) {
		b.fail("parameter %q declared after other locals", name)
		return b
	}
	b.varNames = append(b.varNames, name)
	b.argCount++
	return b
}

// VarArg declares the collector for excess positional arguments. It must
// follow the declared parameters.
func (b *Builder) VarArg(name string) *Builder {
	if b.flags.Has(bytecode.FlagVarArgs) {
		b.fail("duplicate vararg collector %q", name)
		return b
	}
	if b.argCount != len(b.varNames) {
		b.fail("vararg collector %q declared after other locals", name)
		return b
	}
	b.varNames = append(b.varNames, name)
	b.flags |= bytecode.FlagVarArgs
	return b
}

// VarKwarg declares the collector for excess keyword arguments.
func (b *Builder) VarKwarg(name string) *Builder {
	if b.flags.Has(bytecode.FlagVarKwargs) {
		b.fail("duplicate kwarg collector %q", name)
		return b
	}
	expect := b.argCount
	if b.flags.Has(bytecode.FlagVarArgs) {
		expect++
	}
	if expect != len(b.varNames) {
		b.fail("kwarg collector %q declared after other locals", name)
		return b
	}
	b.varNames = append(b.varNames, name)
	b.flags |= bytecode.FlagVarKwargs
	return b
}

// Local interns a local variable name and returns its index.
func (b *Builder) Local(name string) int {
	return intern(&b.varNames, name)
}

// Name interns an identifier in the names zone (globals and attribute
// names) and returns its index.
func (b *Builder) Name(name string) int {
	return intern(&b.names, name)
}

// CellVar interns a cell variable name and returns its index into the
// cellvars-then-freevars table. Cells must all be declared before the first
// free variable: free variable indices follow the cells, so a cell added
// later would invalidate every index FreeVar has already handed out.
func (b *Builder) CellVar(name string) int {
	for i, existing := range b.cellVars {
		if existing == name {
			return i
		}
	}
	if len(b.freeVars) > 0 {
		b.fail("cell variable %q declared after free variables", name)
	}
	b.cellVars = append(b.cellVars, name)
	return len(b.cellVars) - 1
}

// FreeVar interns a free variable name and returns its index into the
// cellvars-then-freevars table.
func (b *Builder) FreeVar(name string) int {
	return len(b.cellVars) + intern(&b.freeVars, name)
}

// Constant interns a constant and returns its pool index. Comparable values
// are deduplicated; others are appended.
func (b *Builder) Constant(value any) int {
	if isComparable(value) {
		for i, existing := range b.constants {
			if isComparable(existing) && existing == value {
				return i
			}
		}
	}
	b.constants = append(b.constants, value)
	return len(b.constants) - 1
}

// Offset returns the current byte offset in the instruction stream.
func (b *Builder) Offset() int {
	return len(b.stream)
}

// Emit appends an instruction. For opcodes that carry an operand, exactly
// one operand must be supplied.
func (b *Builder) Emit(opcode op.Code, operands ...int) *Builder {
	info := op.GetInfo(opcode)
	if info.Name == "" {
		b.fail("cannot emit invalid opcode %d", opcode)
		return b
	}
	if info.HasOperand != (len(operands) == 1) {
		b.fail("opcode %s expects %d operands, got %d",
			info.Name, operandCount(info), len(operands))
		return b
	}
	if b.line > 0 {
		n := len(b.lines)
		if n == 0 || b.lines[n-1].Line != b.line {
			b.lines = append(b.lines, bytecode.LineEntry{Offset: len(b.stream), Line: b.line})
		}
	}
	b.stream = append(b.stream, byte(opcode))
	if info.HasOperand {
		operand := operands[0]
		if operand < -32768 || operand > 32767 {
			b.fail("operand %d for %s out of int16 range", operand, info.Name)
			return b
		}
		b.stream = append(b.stream, byte(uint16(operand)), byte(uint16(operand)>>8))
	}
	return b
}

// Label defines a jump target at the current offset.
func (b *Builder) Label(name string) *Builder {
	if _, exists := b.labels[name]; exists {
		b.fail("duplicate label %q", name)
		return b
	}
	b.labels[name] = len(b.stream)
	return b
}

// EmitJump appends a jump instruction whose operand is resolved to the
// label's byte offset at build time. Labels may be defined after use.
func (b *Builder) EmitJump(opcode op.Code, label string) *Builder {
	switch opcode {
	case op.Jump, op.PopJumpIfFalse, op.PopJumpIfTrue:
	default:
		b.fail("opcode %s is not a jump", op.GetInfo(opcode).Name)
		return b
	}
	b.stream = append(b.stream, byte(opcode))
	b.fixups = append(b.fixups, fixup{pos: len(b.stream), label: label})
	b.stream = append(b.stream, 0, 0)
	return b
}

// Build resolves labels and returns the finished code object.
func (b *Builder) Build() (*bytecode.Code, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, fix := range b.fixups {
		target, ok := b.labels[fix.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", fix.label)
		}
		b.stream[fix.pos] = byte(uint16(target))
		b.stream[fix.pos+1] = byte(uint16(target) >> 8)
	}
	return bytecode.NewCode(bytecode.CodeParams{
		ID:           uuid.New().String(),
		Name:         b.name,
		Instructions: b.stream,
		Constants:    b.constants,
		Names:        b.names,
		CellVars:     b.cellVars,
		FreeVars:     b.freeVars,
		VarNames:     b.varNames,
		ArgCount:     b.argCount,
		LocalCount:   len(b.varNames),
		Flags:        b.flags,
		StackSize:    b.estimateStackSize(),
		Filename:     b.filename,
		FirstLine:    b.firstLine,
		Lines:        b.lines,
	}), nil
}

// BuildFunction builds the code object and wraps it in a Function.
func (b *Builder) BuildFunction(params FunctionParams) (*bytecode.Function, error) {
	code, err := b.Build()
	if err != nil {
		return nil, err
	}
	if len(params.Defaults) > b.argCount {
		return nil, fmt.Errorf("%d defaults for %d parameters", len(params.Defaults), b.argCount)
	}
	return bytecode.NewFunction(bytecode.FunctionParams{
		ID:       uuid.New().String(),
		Name:     b.name,
		Doc:      params.Doc,
		Code:     code,
		Defaults: params.Defaults,
		Globals:  params.Globals,
		Captured: params.Captured,
	}), nil
}

// FunctionParams carries the per-function values that accompany a built
// code object.
type FunctionParams struct {
	Doc      string
	Defaults []any
	Globals  map[string]any
	Captured map[string]any
}

// estimateStackSize scans the stream linearly, accumulating per-opcode
// stack effects. Control flow is ignored, which overestimates for some
// shapes; the evaluator treats the result as a hint, not a limit.
func (b *Builder) estimateStackSize() int {
	depth, max := 0, 0
	instrs, err := bytecode.Decode(b.stream)
	if err != nil {
		return 0
	}
	for _, instr := range instrs {
		depth += stackEffect(instr)
		if depth > max {
			max = depth
		}
		if depth < 0 {
			depth = 0
		}
	}
	if max < 16 {
		max = 16
	}
	return max
}

func stackEffect(instr bytecode.Instruction) int {
	n := int(instr.Operand)
	switch instr.Opcode {
	case op.LoadConst, op.LoadFast, op.LoadDeref, op.LoadGlobal, op.LoadName,
		op.Nil, op.True, op.False, op.Copy:
		return 1
	case op.StoreFast, op.StoreDeref, op.StoreGlobal, op.StoreName, op.PopTop,
		op.PopJumpIfFalse, op.PopJumpIfTrue, op.ReturnValue, op.StoreAttr:
		return -1
	case op.BinaryOp, op.CompareOp, op.BinarySubscr, op.ContainsOp:
		return -1
	case op.StoreSubscr:
		return -3
	case op.Call:
		return -n
	case op.BuildList, op.BuildTuple:
		return 1 - n
	case op.BuildMap:
		return 1 - 2*n
	default:
		return 0
	}
}

func intern(table *[]string, name string) int {
	for i, existing := range *table {
		if existing == name {
			return i
		}
	}
	*table = append(*table, name)
	return len(*table) - 1
}

func isComparable(value any) bool {
	switch value.(type) {
	case nil, bool, int, int64, float64, string:
		return true
	}
	return false
}

func operandCount(info op.Info) int {
	if info.HasOperand {
		return 1
	}
	return 0
}
