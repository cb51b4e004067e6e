// Package rewrite retargets a code object's variable access at a namespace.
//
// A normally-compiled function reads and writes locals through fast-indexed
// slots, globals through its global table, and captured variables through
// cells. Rewriting replaces every one of those accesses with a named access
// (LOAD_NAME, STORE_NAME, DELETE_NAME) into a single concatenated name
// table, so the rebuilt code can be evaluated against any mapping object in
// place of a local frame.
//
// The concatenated table is laid out as [names][cellvars][freevars][varnames]
// and every operand is shifted by the sizes of the zones that now precede
// its original zone. Jump operands are byte offsets into the encoded stream;
// because operands are fixed width, patching never moves an instruction and
// jump targets stay valid.
package rewrite

import (
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/op"
)

// PatchInstructions rewrites every local, global and cell variable access in
// the given instruction sequence to a named access, renumbering operands for
// a name table laid out as [names][cellvars][freevars][varnames].
//
// argCount, nNames and nCellAndFree describe the original code object:
// the declared parameter count, the size of its names zone, and the
// combined size of its cell and free variable zones. argCount is accepted
// for symmetry with the original zone layout; with the names zone first in
// the concatenated table, operands that already index it need no shift.
//
// A LOAD_CLOSURE instruction aborts the rewrite: a function that hands out
// cell references to a nested closure cannot have its storage relocated
// safely.
func PatchInstructions(instructions []bytecode.Instruction, argCount, nNames, nCellAndFree int) ([]bytecode.Instruction, error) {
	patched := make([]bytecode.Instruction, 0, len(instructions))
	for _, instr := range instructions {
		switch instr.Opcode {
		case op.LoadFast:
			instr.Opcode = op.LoadName
			instr.Operand += int16(nNames + nCellAndFree)
		case op.StoreFast:
			instr.Opcode = op.StoreName
			instr.Operand += int16(nNames + nCellAndFree)
		case op.DeleteFast:
			instr.Opcode = op.DeleteName
			instr.Operand += int16(nNames + nCellAndFree)
		case op.LoadGlobal:
			instr.Opcode = op.LoadName
		case op.StoreGlobal:
			instr.Opcode = op.StoreName
		case op.DeleteGlobal:
			instr.Opcode = op.DeleteName
		case op.LoadDeref:
			instr.Opcode = op.LoadName
			instr.Operand += int16(nNames)
		case op.StoreDeref:
			instr.Opcode = op.StoreName
			instr.Operand += int16(nNames)
		case op.LoadClosure:
			return nil, errz.New(errz.ErrUnsupportedConstruct,
				"cannot rewrite a function containing a closure")
		}
		patched = append(patched, instr)
	}
	return patched, nil
}

// ForContext rebuilds a code object so that all of its variable access goes
// through a namespace. The result has a single concatenated name table, no
// fast local slots, and the calling-convention flag bits cleared; the
// constant pool, stack size hint and source metadata are copied unchanged.
// The returned code is immutable and may be shared across concurrent calls.
func ForContext(code *bytecode.Code) (*bytecode.Code, error) {
	instructions, err := bytecode.Decode(code.Instructions())
	if err != nil {
		return nil, err
	}
	nNames := code.NameCount()
	nCellAndFree := code.CellVarCount() + code.FreeVarCount()
	patched, err := PatchInstructions(instructions, code.ArgCount(), nNames, nCellAndFree)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, nNames+nCellAndFree+code.VarNameCount())
	names = append(names, code.Names()...)
	names = append(names, code.CellAndFreeNames()...)
	names = append(names, code.VarNames()...)

	return bytecode.NewCode(bytecode.CodeParams{
		ID:           code.ID(),
		Name:         code.Name(),
		Instructions: bytecode.Encode(patched),
		Constants:    code.Constants(),
		Names:        names,
		ArgCount:     0,
		LocalCount:   0,
		Flags:        code.Flags() &^ bytecode.CallingConventionFlags,
		StackSize:    code.StackSize(),
		Filename:     code.Filename(),
		FirstLine:    code.FirstLine(),
		Lines:        code.Lines(),
	}), nil
}
