package asm

import (
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/op"
)

func TestBuilderSimpleFunction(t *testing.T) {
	b := NewBuilder("add")
	b.Param("a")
	b.Param("b")
	b.Emit(op.LoadFast, b.Local("a"))
	b.Emit(op.LoadFast, b.Local("b"))
	b.Emit(op.BinaryOp, int(op.Add))
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, code.Name(), "add")
	assert.Equal(t, code.ArgCount(), 2)
	assert.Equal(t, code.VarNames(), []string{"a", "b"})
	assert.True(t, code.Flags().Has(bytecode.FlagOptimized))
	assert.True(t, code.Flags().Has(bytecode.FlagNewLocals))

	instrs, err := bytecode.Decode(code.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs, []bytecode.Instruction{
		{Opcode: op.LoadFast, Operand: 0},
		{Opcode: op.LoadFast, Operand: 1},
		{Opcode: op.BinaryOp, Operand: int16(op.Add)},
		{Opcode: op.ReturnValue},
	})
}

func TestBuilderInterning(t *testing.T) {
	b := NewBuilder("interning")
	assert.Equal(t, b.Constant(int64(1)), 0)
	assert.Equal(t, b.Constant("x"), 1)
	assert.Equal(t, b.Constant(int64(1)), 0)
	assert.Equal(t, b.Name("print"), 0)
	assert.Equal(t, b.Name("print"), 0)
	assert.Equal(t, b.Local("tmp"), 0)
	assert.Equal(t, b.Local("tmp"), 0)
}

// Free variable indices continue after the cell variables, matching the
// combined cellvars-then-freevars table used by deref instructions.
func TestBuilderCellAndFreeIndices(t *testing.T) {
	b := NewBuilder("cells")
	assert.Equal(t, b.CellVar("a"), 0)
	assert.Equal(t, b.CellVar("b"), 1)
	assert.Equal(t, b.FreeVar("c"), 2)
	assert.Equal(t, b.FreeVar("c"), 2)
	b.Emit(op.LoadDeref, 2)
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, code.CellAndFreeNames(), []string{"a", "b", "c"})
}

func TestBuilderCellAfterFreeVar(t *testing.T) {
	b := NewBuilder("broken")
	b.FreeVar("bias")
	b.CellVar("counter")
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "after free variables")
}

func TestBuilderCellReinternAfterFreeVar(t *testing.T) {
	b := NewBuilder("cells")
	assert.Equal(t, b.CellVar("counter"), 0)
	assert.Equal(t, b.FreeVar("bias"), 1)
	assert.Equal(t, b.CellVar("counter"), 0)
	b.Emit(op.LoadDeref, 1)
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, code.CellAndFreeNames(), []string{"counter", "bias"})
}

func TestBuilderForwardJump(t *testing.T) {
	b := NewBuilder("branch")
	b.Param("flag")
	b.Emit(op.LoadFast, 0)
	b.EmitJump(op.PopJumpIfFalse, "no")
	b.Emit(op.LoadConst, b.Constant("yes"))
	b.EmitJump(op.Jump, "done")
	b.Label("no")
	b.Emit(op.LoadConst, b.Constant("no"))
	b.Label("done")
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	instrs, err := bytecode.Decode(code.Instructions())
	assert.Nil(t, err)
	// 0: LOAD_FAST / 3: POP_JUMP_IF_FALSE / 6: LOAD_CONST / 9: JUMP
	// 12: LOAD_CONST / 15: RETURN_VALUE
	assert.Equal(t, instrs[1].Operand, int16(12))
	assert.Equal(t, instrs[3].Operand, int16(15))
}

func TestBuilderUndefinedLabel(t *testing.T) {
	b := NewBuilder("broken")
	b.EmitJump(op.Jump, "nowhere")
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestBuilderParamAfterLocal(t *testing.T) {
	b := NewBuilder("broken")
	b.Local("tmp")
	b.Param("a")
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "declared after other locals")
}

func TestBuilderOperandArity(t *testing.T) {
	b := NewBuilder("broken")
	b.Emit(op.LoadConst)
	_, err := b.Build()
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "LOAD_CONST")
}

func TestBuilderCollectorFlags(t *testing.T) {
	b := NewBuilder("variadic")
	b.Param("a")
	b.VarArg("rest")
	b.VarKwarg("extras")
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)

	fn, err := b.BuildFunction(FunctionParams{})
	assert.Nil(t, err)
	assert.True(t, fn.HasVarArgs())
	assert.True(t, fn.HasVarKwargs())
	assert.Equal(t, fn.VarArgName(), "rest")
	assert.Equal(t, fn.KwargName(), "extras")
	assert.Equal(t, fn.Code().VarNames(), []string{"a", "rest", "extras"})
}

func TestBuilderLineTable(t *testing.T) {
	b := NewBuilder("lines")
	b.SetFilename("sample.ct").SetFirstLine(10)
	b.SetLine(10)
	b.Emit(op.Nil)
	b.Emit(op.Nil)
	b.SetLine(11)
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	assert.Equal(t, code.Filename(), "sample.ct")
	assert.Equal(t, code.FirstLine(), 10)
	assert.Equal(t, code.LineFor(0), 10)
	assert.Equal(t, code.LineFor(1), 10)
	assert.Equal(t, code.LineFor(2), 11)
}

func TestBuilderStackSizeHint(t *testing.T) {
	b := NewBuilder("deep")
	for i := 0; i < 20; i++ {
		b.Emit(op.LoadConst, b.Constant(int64(i)))
	}
	b.Emit(op.BuildList, 20)
	b.Emit(op.ReturnValue)

	code, err := b.Build()
	assert.Nil(t, err)
	assert.True(t, code.StackSize() >= 20)
}
