// Package op defines the opcodes understood by the codetools instruction
// codec, rewriter and evaluator.
//
// The instruction set is closed and versioned: every opcode is registered in
// a static table along with its symbolic name and whether it carries an
// operand. Operands are fixed-width little-endian int16 values, so rewriting
// an operand never changes the byte length of an instruction and jump
// targets (which are byte offsets into the encoded stream) stay valid.
package op

// Code is a one-byte opcode that indicates an operation to execute.
type Code uint8

const (
	Invalid Code = 0

	// Execution
	Nop         Code = 1
	Call        Code = 3 // Operand is the argument count
	ReturnValue Code = 4

	// Jump (operands are absolute byte offsets into the encoded stream)
	Jump           Code = 10
	PopJumpIfFalse Code = 12
	PopJumpIfTrue  Code = 13

	// Load
	LoadAttr    Code = 20 // Operand indexes the names table
	LoadFast    Code = 21 // Operand indexes the local variables
	LoadDeref   Code = 22 // Operand indexes cellvars-then-freevars
	LoadGlobal  Code = 23 // Operand indexes the names table
	LoadConst   Code = 24 // Operand indexes the constant pool
	LoadName    Code = 25 // Operand indexes the names table
	LoadClosure Code = 26 // Operand indexes cellvars-then-freevars

	// Store
	StoreAttr   Code = 30
	StoreFast   Code = 31
	StoreDeref  Code = 32
	StoreGlobal Code = 33
	StoreName   Code = 34

	// Delete
	DeleteFast   Code = 36
	DeleteGlobal Code = 37
	DeleteName   Code = 38
	DeleteAttr   Code = 39

	// Operations
	BinaryOp      Code = 40 // Operand is a BinaryOpType
	CompareOp     Code = 41 // Operand is a CompareOpType
	UnaryNegative Code = 42
	UnaryNot      Code = 43

	// Build
	BuildList  Code = 50 // Operand is the element count
	BuildMap   Code = 51 // Operand is the key/value pair count
	BuildTuple Code = 52 // Operand is the element count

	// Containers
	BinarySubscr Code = 60
	StoreSubscr  Code = 61
	ContainsOp   Code = 62 // Operand 1 inverts the test
	Length       Code = 63

	// Stack
	Swap   Code = 70 // Swap TOS with the item at the given depth
	Copy   Code = 71 // Push a copy of the item at the given depth
	PopTop Code = 72

	// Push constants
	Nil   Code = 80
	False Code = 81
	True  Code = 82
)

// BinaryOpType describes a type of binary operation, as in an operation that
// takes two operands. For example, addition, subtraction, multiplication, etc.
type BinaryOpType int16

const (
	Add      BinaryOpType = 1
	Subtract BinaryOpType = 2
	Multiply BinaryOpType = 3
	Divide   BinaryOpType = 4
	Modulo   BinaryOpType = 5
	Power    BinaryOpType = 6
)

// String returns a string representation of the binary operation.
// For example "+" for addition.
func (bop BinaryOpType) String() string {
	switch bop {
	case Add:
		return "+"
	case Subtract:
		return "-"
	case Multiply:
		return "*"
	case Divide:
		return "/"
	case Modulo:
		return "%"
	case Power:
		return "**"
	default:
		return ""
	}
}

// CompareOpType describes a type of comparison operation. For example, less
// than, greater than, equal, etc.
type CompareOpType int16

const (
	LessThan           CompareOpType = 1
	LessThanOrEqual    CompareOpType = 2
	Equal              CompareOpType = 3
	NotEqual           CompareOpType = 4
	GreaterThan        CompareOpType = 5
	GreaterThanOrEqual CompareOpType = 6
)

// String returns a string representation of the comparison operation.
// For example "<" for less than.
func (cop CompareOpType) String() string {
	switch cop {
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case Equal:
		return "=="
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	default:
		return ""
	}
}

// Info contains information about an opcode.
type Info struct {
	Code       Code
	Name       string
	HasOperand bool
}

var (
	infos  = make([]Info, 256)
	byName = make(map[string]Info)
)

func init() {
	type opInfo struct {
		op      Code
		name    string
		operand bool
	}
	ops := []opInfo{
		{BinaryOp, "BINARY_OP", true},
		{BinarySubscr, "BINARY_SUBSCR", false},
		{BuildList, "BUILD_LIST", true},
		{BuildMap, "BUILD_MAP", true},
		{BuildTuple, "BUILD_TUPLE", true},
		{Call, "CALL", true},
		{CompareOp, "COMPARE_OP", true},
		{ContainsOp, "CONTAINS_OP", true},
		{Copy, "COPY", true},
		{DeleteAttr, "DELETE_ATTR", true},
		{DeleteFast, "DELETE_FAST", true},
		{DeleteGlobal, "DELETE_GLOBAL", true},
		{DeleteName, "DELETE_NAME", true},
		{False, "FALSE", false},
		{Jump, "JUMP", true},
		{Length, "LENGTH", false},
		{LoadAttr, "LOAD_ATTR", true},
		{LoadClosure, "LOAD_CLOSURE", true},
		{LoadConst, "LOAD_CONST", true},
		{LoadDeref, "LOAD_DEREF", true},
		{LoadFast, "LOAD_FAST", true},
		{LoadGlobal, "LOAD_GLOBAL", true},
		{LoadName, "LOAD_NAME", true},
		{Nil, "NIL", false},
		{Nop, "NOP", false},
		{PopJumpIfFalse, "POP_JUMP_IF_FALSE", true},
		{PopJumpIfTrue, "POP_JUMP_IF_TRUE", true},
		{PopTop, "POP_TOP", false},
		{ReturnValue, "RETURN_VALUE", false},
		{StoreAttr, "STORE_ATTR", true},
		{StoreDeref, "STORE_DEREF", true},
		{StoreFast, "STORE_FAST", true},
		{StoreGlobal, "STORE_GLOBAL", true},
		{StoreName, "STORE_NAME", true},
		{StoreSubscr, "STORE_SUBSCR", false},
		{Swap, "SWAP", true},
		{True, "TRUE", false},
		{UnaryNegative, "UNARY_NEGATIVE", false},
		{UnaryNot, "UNARY_NOT", false},
	}
	for _, o := range ops {
		info := Info{
			Code:       o.op,
			Name:       o.name,
			HasOperand: o.operand,
		}
		infos[o.op] = info
		byName[o.name] = info
	}
}

// GetInfo returns information about the given opcode. The returned Info has
// an empty Name if the opcode is not part of the instruction set.
func GetInfo(code Code) Info {
	return infos[code]
}

// IsValid returns true if the given opcode is part of the instruction set.
func IsValid(code Code) bool {
	return infos[code].Name != ""
}

// ByName looks up an opcode by its symbolic name, e.g. "LOAD_FAST".
func ByName(name string) (Info, bool) {
	info, ok := byName[name]
	return info, ok
}

// HasNameOperand returns true if the opcode's operand indexes the names
// table of a code object, as opposed to the local variables, the cell
// variables, the constant pool, or a raw value.
func HasNameOperand(code Code) bool {
	switch code {
	case LoadAttr, StoreAttr, DeleteAttr,
		LoadGlobal, StoreGlobal, DeleteGlobal,
		LoadName, StoreName, DeleteName:
		return true
	}
	return false
}
