// Package bytecode defines the instruction codec and the immutable code and
// function objects that the rewriter and evaluator operate on.
package bytecode

import "sort"

// Flags describe properties of a code object. The low bits mirror the
// calling-convention markers that the rewriter clears when it rebuilds a
// function body for namespace-based variable access.
type Flags uint32

const (
	// FlagOptimized marks code whose local variables live in fast slots.
	FlagOptimized Flags = 1 << 0
	// FlagNewLocals marks code that allocates a fresh local frame per call.
	FlagNewLocals Flags = 1 << 1
	// FlagVarArgs marks code that collects excess positional arguments.
	FlagVarArgs Flags = 1 << 2
	// FlagVarKwargs marks code that collects excess keyword arguments.
	FlagVarKwargs Flags = 1 << 3

	// CallingConventionFlags are the flag bits cleared by the rewriter: the
	// rebuilt code is evaluated against a namespace, not called directly.
	CallingConventionFlags = FlagOptimized | FlagNewLocals | FlagVarArgs | FlagVarKwargs
)

// Has returns true if all the given flag bits are set.
func (f Flags) Has(bits Flags) bool {
	return f&bits == bits
}

// LineEntry associates a byte offset in the instruction stream with a
// 1-based source line number. Entries are sorted by offset and each one
// applies from its offset up to the next entry.
type LineEntry struct {
	Offset int
	Line   int
}

// Code represents a compiled code block: an encoded instruction stream plus
// the tables its operands index. It is immutable after creation and safe for
// concurrent use.
//
// Name tables are partitioned into four zones: names (globals and attribute
// names), cell variables, free variables, and local variable names with
// parameter names first. The rewriter concatenates these zones into a single
// names table when it retargets variable access at a namespace.
type Code struct {
	id           string
	name         string
	instructions []byte
	constants    []any
	names        []string
	cellVars     []string
	freeVars     []string
	varNames     []string
	argCount     int
	localCount   int
	flags        Flags
	stackSize    int
	filename     string
	firstLine    int
	lines        []LineEntry
}

// CodeParams contains parameters for creating a new Code.
type CodeParams struct {
	ID           string
	Name         string
	Instructions []byte
	Constants    []any
	Names        []string
	CellVars     []string
	FreeVars     []string
	VarNames     []string
	ArgCount     int
	LocalCount   int
	Flags        Flags
	StackSize    int
	Filename     string
	FirstLine    int
	Lines        []LineEntry
}

// NewCode creates a new immutable Code from the given parameters.
// Input slices are copied to ensure immutability.
func NewCode(params CodeParams) *Code {
	return &Code{
		id:           params.ID,
		name:         params.Name,
		instructions: copyBytes(params.Instructions),
		constants:    copyAny(params.Constants),
		names:        copyStrings(params.Names),
		cellVars:     copyStrings(params.CellVars),
		freeVars:     copyStrings(params.FreeVars),
		varNames:     copyStrings(params.VarNames),
		argCount:     params.ArgCount,
		localCount:   params.LocalCount,
		flags:        params.Flags,
		stackSize:    params.StackSize,
		filename:     params.Filename,
		firstLine:    params.FirstLine,
		lines:        copyLines(params.Lines),
	}
}

// ID returns the unique identifier for this code block.
func (c *Code) ID() string {
	return c.id
}

// Name returns the name of this code block.
func (c *Code) Name() string {
	return c.name
}

// Instructions returns a copy of the encoded instruction stream.
func (c *Code) Instructions() []byte {
	return copyBytes(c.instructions)
}

// InstructionSize returns the length of the encoded stream in bytes.
func (c *Code) InstructionSize() int {
	return len(c.instructions)
}

// ConstantCount returns the number of constants.
func (c *Code) ConstantCount() int {
	return len(c.constants)
}

// ConstantAt returns the constant at the given index.
func (c *Code) ConstantAt(index int) any {
	return c.constants[index]
}

// Constants returns a copy of the constant pool.
func (c *Code) Constants() []any {
	return copyAny(c.constants)
}

// NameCount returns the number of entries in the names zone (global
// variables and attribute names).
func (c *Code) NameCount() int {
	return len(c.names)
}

// NameAt returns the name at the given index in the names zone.
func (c *Code) NameAt(index int) string {
	return c.names[index]
}

// Names returns a copy of the names zone.
func (c *Code) Names() []string {
	return copyStrings(c.names)
}

// CellVarCount returns the number of cell variables.
func (c *Code) CellVarCount() int {
	return len(c.cellVars)
}

// CellVarAt returns the cell variable name at the given index.
func (c *Code) CellVarAt(index int) string {
	return c.cellVars[index]
}

// FreeVarCount returns the number of free variables.
func (c *Code) FreeVarCount() int {
	return len(c.freeVars)
}

// FreeVarAt returns the free variable name at the given index.
func (c *Code) FreeVarAt(index int) string {
	return c.freeVars[index]
}

// FreeVars returns a copy of the free variable names.
func (c *Code) FreeVars() []string {
	return copyStrings(c.freeVars)
}

// CellAndFreeNames returns the cell variable names followed by the free
// variable names: the table indexed by LOAD_DEREF and STORE_DEREF operands.
func (c *Code) CellAndFreeNames() []string {
	names := make([]string, 0, len(c.cellVars)+len(c.freeVars))
	names = append(names, c.cellVars...)
	names = append(names, c.freeVars...)
	return names
}

// VarNameCount returns the number of local variable names.
func (c *Code) VarNameCount() int {
	return len(c.varNames)
}

// VarNameAt returns the local variable name at the given index. Parameter
// names come first, followed by the other locals.
func (c *Code) VarNameAt(index int) string {
	return c.varNames[index]
}

// VarNames returns a copy of the local variable names.
func (c *Code) VarNames() []string {
	return copyStrings(c.varNames)
}

// ArgCount returns the number of declared positional parameters.
func (c *Code) ArgCount() int {
	return c.argCount
}

// Parameters returns the declared positional parameter names, which occupy
// the front of the local variable name table.
func (c *Code) Parameters() []string {
	return copyStrings(c.varNames[:c.argCount])
}

// LocalCount returns the number of fast local slots the code uses. It is
// zero for rewritten code, whose variable access goes through a namespace.
func (c *Code) LocalCount() int {
	return c.localCount
}

// Flags returns the code object's flags.
func (c *Code) Flags() Flags {
	return c.flags
}

// StackSize returns the operand stack size hint.
func (c *Code) StackSize() int {
	return c.stackSize
}

// Filename returns the source filename.
func (c *Code) Filename() string {
	return c.filename
}

// FirstLine returns the 1-based line number where the code begins.
func (c *Code) FirstLine() int {
	return c.firstLine
}

// LineFor returns the source line for the given byte offset into the
// instruction stream, or the first line if no entry covers the offset.
func (c *Code) LineFor(offset int) int {
	line := c.firstLine
	idx := sort.Search(len(c.lines), func(i int) bool {
		return c.lines[i].Offset > offset
	})
	if idx > 0 {
		line = c.lines[idx-1].Line
	}
	return line
}

// Lines returns a copy of the offset-to-line table.
func (c *Code) Lines() []LineEntry {
	return copyLines(c.lines)
}
