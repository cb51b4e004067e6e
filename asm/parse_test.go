package asm

import (
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/op"
)

func TestParseFunction(t *testing.T) {
	asm, err := Parse(`
; add two numbers
func add(a, b=2)
    LOAD_FAST a
    LOAD_FAST b
    BINARY_OP +
    RETURN_VALUE
`)
	assert.Nil(t, err)
	assert.Equal(t, asm.Name, "add")
	assert.Equal(t, asm.Defaults, []any{int64(2)})
	assert.Equal(t, asm.Code.ArgCount(), 2)

	instrs, err := bytecode.Decode(asm.Code.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs, []bytecode.Instruction{
		{Opcode: op.LoadFast, Operand: 0},
		{Opcode: op.LoadFast, Operand: 1},
		{Opcode: op.BinaryOp, Operand: int16(op.Add)},
		{Opcode: op.ReturnValue},
	})
}

func TestParseLabelsAndJumps(t *testing.T) {
	asm, err := Parse(`
func pick(flag)
    LOAD_FAST flag
    POP_JUMP_IF_FALSE no
    LOAD_CONST "yes"
    JUMP done
no:
    LOAD_CONST "no"
done:
    RETURN_VALUE
`)
	assert.Nil(t, err)
	instrs, err := bytecode.Decode(asm.Code.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs[1].Opcode, op.PopJumpIfFalse)
	assert.Equal(t, instrs[1].Operand, int16(12))
	assert.Equal(t, instrs[3].Opcode, op.Jump)
	assert.Equal(t, instrs[3].Operand, int16(15))
}

func TestParseDirectives(t *testing.T) {
	asm, err := Parse(`
func spread(a)
.vararg rest
.kwarg extras
.free bias
.file spread.ct
.line 7
    LOAD_DEREF bias
    LOAD_FAST rest
    LOAD_FAST extras
    BUILD_LIST 3
    RETURN_VALUE
`)
	assert.Nil(t, err)
	code := asm.Code
	assert.True(t, code.Flags().Has(bytecode.FlagVarArgs))
	assert.True(t, code.Flags().Has(bytecode.FlagVarKwargs))
	assert.Equal(t, code.VarNames(), []string{"a", "rest", "extras"})
	assert.Equal(t, code.FreeVars(), []string{"bias"})
	assert.Equal(t, code.Filename(), "spread.ct")
	assert.Equal(t, code.FirstLine(), 7)
	assert.Equal(t, code.LineFor(0), 7)
}

func TestParseDerefIndices(t *testing.T) {
	asm, err := Parse(`
func closure()
.cell counter
.free bias
    LOAD_DEREF bias
    LOAD_DEREF counter
    BINARY_OP +
    RETURN_VALUE
`)
	assert.Nil(t, err)
	instrs, err := bytecode.Decode(asm.Code.Instructions())
	assert.Nil(t, err)
	names := asm.Code.CellAndFreeNames()
	assert.Equal(t, names[instrs[0].Operand], "bias")
	assert.Equal(t, names[instrs[1].Operand], "counter")
}

func TestParseLiterals(t *testing.T) {
	asm, err := Parse(`
    LOAD_CONST 42
    LOAD_CONST -3
    LOAD_CONST 2.5
    LOAD_CONST "hi there"
    LOAD_CONST true
    LOAD_CONST false
    LOAD_CONST nil
    BUILD_LIST 7
    RETURN_VALUE
`)
	assert.Nil(t, err)
	assert.Equal(t, asm.Code.Constants(),
		[]any{int64(42), int64(-3), 2.5, "hi there", true, false, nil})
}

func TestParseOperatorSymbols(t *testing.T) {
	asm, err := Parse(`
func cmp(a, b)
    LOAD_FAST a
    LOAD_FAST b
    COMPARE_OP <=
    RETURN_VALUE
`)
	assert.Nil(t, err)
	instrs, err := bytecode.Decode(asm.Code.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs[2].Operand, int16(op.LessThanOrEqual))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"unknown instruction", "FROBNICATE 1", "unknown instruction"},
		{"missing operand", "LOAD_CONST", "needs an operand"},
		{"unexpected operand", "RETURN_VALUE 1", "takes no operand"},
		{"undeclared cell", "LOAD_DEREF total", "undeclared cell"},
		{"unknown directive", ".frob x", "unknown directive"},
		{"bad literal", "LOAD_CONST @!", "invalid literal"},
		{"undefined label", "JUMP nowhere\nRETURN_VALUE", "nowhere"},
		{"default ordering", "func f(a=1, b)\nRETURN_VALUE", "without a default"},
		{"late header", "NIL\nfunc f()", "must precede"},
		{"cell after free", ".free bias\n.cell counter\nRETURN_VALUE", "after free variables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.source)
			assert.NotNil(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsedFunctionBinding(t *testing.T) {
	asm, err := Parse(`
func greet(name, greeting="hello")
    LOAD_FAST greeting
    LOAD_FAST name
    BINARY_OP +
    RETURN_VALUE
`)
	assert.Nil(t, err)
	fn := asm.Function(map[string]any{})
	assert.Equal(t, fn.Name(), "greet")
	assert.Equal(t, fn.RequiredArgsCount(), 1)
	assert.Equal(t, fn.Defaults(), []any{"hello"})
}
