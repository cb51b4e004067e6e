package rewrite

import (
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/op"
)

// A function-like code object used across the tests:
//
//	names:    helper
//	cellvars: (none)
//	freevars: free
//	varnames: a, b, tmp   (a and b are parameters)
func sampleCode(instructions []bytecode.Instruction) *bytecode.Code {
	return bytecode.NewCode(bytecode.CodeParams{
		ID:           "sample",
		Name:         "sample",
		Instructions: bytecode.Encode(instructions),
		Constants:    []any{int64(42)},
		Names:        []string{"helper"},
		FreeVars:     []string{"free"},
		VarNames:     []string{"a", "b", "tmp"},
		ArgCount:     2,
		LocalCount:   3,
		Flags:        bytecode.FlagOptimized | bytecode.FlagNewLocals,
		StackSize:    4,
		Filename:     "sample.ct",
		FirstLine:    3,
		Lines:        []bytecode.LineEntry{{Offset: 0, Line: 4}},
	})
}

func TestPatchFastAccess(t *testing.T) {
	patched, err := PatchInstructions([]bytecode.Instruction{
		{Opcode: op.LoadFast, Operand: 2},
		{Opcode: op.StoreFast, Operand: 0},
		{Opcode: op.DeleteFast, Operand: 1},
	}, 2, 1, 1)
	assert.Nil(t, err)
	assert.Equal(t, patched, []bytecode.Instruction{
		{Opcode: op.LoadName, Operand: 4},
		{Opcode: op.StoreName, Operand: 2},
		{Opcode: op.DeleteName, Operand: 3},
	})
}

func TestPatchGlobalAccess(t *testing.T) {
	patched, err := PatchInstructions([]bytecode.Instruction{
		{Opcode: op.LoadGlobal, Operand: 0},
		{Opcode: op.StoreGlobal, Operand: 1},
		{Opcode: op.DeleteGlobal, Operand: 0},
	}, 2, 5, 3)
	assert.Nil(t, err)
	assert.Equal(t, patched, []bytecode.Instruction{
		{Opcode: op.LoadName, Operand: 0},
		{Opcode: op.StoreName, Operand: 1},
		{Opcode: op.DeleteName, Operand: 0},
	})
}

func TestPatchDerefAccess(t *testing.T) {
	patched, err := PatchInstructions([]bytecode.Instruction{
		{Opcode: op.LoadDeref, Operand: 0},
		{Opcode: op.StoreDeref, Operand: 1},
	}, 0, 3, 2)
	assert.Nil(t, err)
	assert.Equal(t, patched, []bytecode.Instruction{
		{Opcode: op.LoadName, Operand: 3},
		{Opcode: op.StoreName, Operand: 4},
	})
}

func TestPatchRejectsClosure(t *testing.T) {
	_, err := PatchInstructions([]bytecode.Instruction{
		{Opcode: op.LoadClosure, Operand: 0},
	}, 0, 0, 1)
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrUnsupportedConstruct))
}

// Operands of non-name-indexed instructions (jumps, constants, argument
// counts) must be byte-for-byte untouched by the rewrite.
func TestPatchLeavesOtherOperandsUntouched(t *testing.T) {
	instructions := []bytecode.Instruction{
		{Opcode: op.LoadConst, Operand: 7},
		{Opcode: op.Jump, Operand: 12},
		{Opcode: op.PopJumpIfFalse, Operand: 9},
		{Opcode: op.Call, Operand: 3},
		{Opcode: op.BinaryOp, Operand: int16(op.Add)},
		{Opcode: op.BuildList, Operand: 2},
		{Opcode: op.LoadAttr, Operand: 1},
		{Opcode: op.ReturnValue},
	}
	patched, err := PatchInstructions(instructions, 4, 9, 2)
	assert.Nil(t, err)
	assert.Equal(t, patched, instructions)
}

func TestForContextNameTableLayout(t *testing.T) {
	code := sampleCode([]bytecode.Instruction{
		{Opcode: op.LoadGlobal, Operand: 0}, // helper
		{Opcode: op.LoadDeref, Operand: 0},  // free
		{Opcode: op.LoadFast, Operand: 0},   // a
		{Opcode: op.LoadFast, Operand: 2},   // tmp
		{Opcode: op.ReturnValue},
	})
	rebuilt, err := ForContext(code)
	assert.Nil(t, err)

	assert.Equal(t, rebuilt.Names(), []string{"helper", "free", "a", "b", "tmp"})
	assert.Equal(t, rebuilt.VarNameCount(), 0)
	assert.Equal(t, rebuilt.CellVarCount(), 0)
	assert.Equal(t, rebuilt.FreeVarCount(), 0)

	instrs, err := bytecode.Decode(rebuilt.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs, []bytecode.Instruction{
		{Opcode: op.LoadName, Operand: 0},
		{Opcode: op.LoadName, Operand: 1},
		{Opcode: op.LoadName, Operand: 2},
		{Opcode: op.LoadName, Operand: 4},
		{Opcode: op.ReturnValue},
	})

	// Every rewritten operand resolves to the same identifier it named in
	// the original zones.
	assert.Equal(t, rebuilt.NameAt(int(instrs[0].Operand)), "helper")
	assert.Equal(t, rebuilt.NameAt(int(instrs[1].Operand)), "free")
	assert.Equal(t, rebuilt.NameAt(int(instrs[2].Operand)), "a")
	assert.Equal(t, rebuilt.NameAt(int(instrs[3].Operand)), "tmp")
}

func TestForContextMetadata(t *testing.T) {
	code := sampleCode([]bytecode.Instruction{
		{Opcode: op.LoadConst, Operand: 0},
		{Opcode: op.ReturnValue},
	})
	rebuilt, err := ForContext(code)
	assert.Nil(t, err)

	assert.Equal(t, rebuilt.ArgCount(), 0)
	assert.Equal(t, rebuilt.LocalCount(), 0)
	assert.False(t, rebuilt.Flags().Has(bytecode.FlagOptimized))
	assert.False(t, rebuilt.Flags().Has(bytecode.FlagNewLocals))
	assert.Equal(t, rebuilt.Constants(), code.Constants())
	assert.Equal(t, rebuilt.StackSize(), code.StackSize())
	assert.Equal(t, rebuilt.Filename(), "sample.ct")
	assert.Equal(t, rebuilt.FirstLine(), 3)
	assert.Equal(t, rebuilt.LineFor(0), 4)
	assert.Equal(t, rebuilt.Name(), "sample")
}

func TestForContextClearsCollectorFlags(t *testing.T) {
	code := bytecode.NewCode(bytecode.CodeParams{
		Name: "variadic",
		Instructions: bytecode.Encode([]bytecode.Instruction{
			{Opcode: op.Nil},
			{Opcode: op.ReturnValue},
		}),
		VarNames:   []string{"a", "rest", "kw"},
		ArgCount:   1,
		LocalCount: 3,
		Flags: bytecode.FlagOptimized | bytecode.FlagNewLocals |
			bytecode.FlagVarArgs | bytecode.FlagVarKwargs,
	})
	rebuilt, err := ForContext(code)
	assert.Nil(t, err)
	assert.Equal(t, rebuilt.Flags()&bytecode.CallingConventionFlags, bytecode.Flags(0))
}

func TestForContextRejectsClosure(t *testing.T) {
	code := bytecode.NewCode(bytecode.CodeParams{
		Name: "outer",
		Instructions: bytecode.Encode([]bytecode.Instruction{
			{Opcode: op.LoadClosure, Operand: 0},
			{Opcode: op.ReturnValue},
		}),
		CellVars: []string{"a"},
	})
	_, err := ForContext(code)
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrUnsupportedConstruct))

	// The original code object is untouched by the failed rewrite.
	instrs, decodeErr := bytecode.Decode(code.Instructions())
	assert.Nil(t, decodeErr)
	assert.Equal(t, instrs[0].Opcode, op.LoadClosure)
}

func TestForContextPropagatesDecodeErrors(t *testing.T) {
	code := bytecode.NewCode(bytecode.CodeParams{
		Name:         "bad",
		Instructions: []byte{250},
	})
	_, err := ForContext(code)
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrUnrecognizedInstruction))
}

// Jump operands are byte offsets into the encoded stream. Rewriting changes
// opcodes and name operands in place but never instruction widths, so a
// jump across rewritten instructions still lands on an instruction start.
func TestForContextPreservesJumpTargets(t *testing.T) {
	// 0: LOAD_FAST 0 / 3: POP_JUMP_IF_FALSE 12 / 6: LOAD_FAST 1
	// 9: JUMP 15 / 12: LOAD_CONST 0 / 15: RETURN_VALUE
	code := sampleCode([]bytecode.Instruction{
		{Opcode: op.LoadFast, Operand: 0},
		{Opcode: op.PopJumpIfFalse, Operand: 12},
		{Opcode: op.LoadFast, Operand: 1},
		{Opcode: op.Jump, Operand: 15},
		{Opcode: op.LoadConst, Operand: 0},
		{Opcode: op.ReturnValue},
	})
	rebuilt, err := ForContext(code)
	assert.Nil(t, err)
	assert.Equal(t, rebuilt.InstructionSize(), code.InstructionSize())

	instrs, err := bytecode.Decode(rebuilt.Instructions())
	assert.Nil(t, err)
	assert.Equal(t, instrs[1].Operand, int16(12))
	assert.Equal(t, instrs[3].Operand, int16(15))

	// Offset 12 is still the start of the rewritten LOAD_CONST
	assert.Equal(t, instrs[4], bytecode.Instruction{Opcode: op.LoadConst, Operand: 0})
}
