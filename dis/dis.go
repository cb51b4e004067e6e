// Package dis disassembles compiled code objects into a human readable
// instruction listing.
package dis

import (
	"fmt"
	"io"
	"strconv"

	"github.com/deepnoodle-ai/wonton/color"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/internal/table"
	"github.com/xmorgan/codetools/op"
)

// Instruction is one decoded instruction with its byte offset and, where the
// operand indexes a table of the code object, the resolved identifier or
// constant it refers to.
type Instruction struct {
	Offset   int
	Name     string
	Opcode   op.Code
	Operands []int
	Info     string
}

// Disassemble decodes a code object's instruction stream and annotates each
// instruction against the code's name tables and constant pool.
func Disassemble(code *bytecode.Code) ([]Instruction, error) {
	decoded, err := bytecode.Decode(code.Instructions())
	if err != nil {
		return nil, err
	}
	instructions := make([]Instruction, 0, len(decoded))
	offset := 0
	for _, instr := range decoded {
		out := Instruction{
			Offset: offset,
			Name:   op.GetInfo(instr.Opcode).Name,
			Opcode: instr.Opcode,
		}
		if instr.HasOperand() {
			out.Operands = []int{int(instr.Operand)}
			out.Info = annotate(code, instr)
		}
		instructions = append(instructions, out)
		offset += instr.Width()
	}
	return instructions, nil
}

// annotate resolves an operand to the identifier, constant or operator it
// denotes. Out-of-range operands annotate as "?" rather than failing, so a
// malformed code object can still be inspected.
func annotate(code *bytecode.Code, instr bytecode.Instruction) string {
	index := int(instr.Operand)
	switch {
	case instr.Opcode == op.LoadConst:
		if index < 0 || index >= code.ConstantCount() {
			return "?"
		}
		return repr(code.ConstantAt(index))
	case op.HasNameOperand(instr.Opcode):
		if index < 0 || index >= code.NameCount() {
			return "?"
		}
		return code.NameAt(index)
	case instr.Opcode == op.LoadFast || instr.Opcode == op.StoreFast ||
		instr.Opcode == op.DeleteFast:
		if index < 0 || index >= code.VarNameCount() {
			return "?"
		}
		return code.VarNameAt(index)
	case instr.Opcode == op.LoadDeref || instr.Opcode == op.StoreDeref ||
		instr.Opcode == op.LoadClosure:
		names := code.CellAndFreeNames()
		if index < 0 || index >= len(names) {
			return "?"
		}
		return names[index]
	case instr.Opcode == op.BinaryOp:
		return op.BinaryOpType(instr.Operand).String()
	case instr.Opcode == op.CompareOp:
		return op.CompareOpType(instr.Operand).String()
	case instr.Opcode == op.ContainsOp:
		if instr.Operand == 1 {
			return "not in"
		}
		return "in"
	}
	return ""
}

func repr(value any) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Print renders the instructions as a table.
func Print(instructions []Instruction, w io.Writer) {
	tbl := table.NewTable(w)
	tbl.WithHeader([]string{"OFFSET", "OPCODE", "OPERANDS", "INFO"})
	tbl.WithColumnAlignment([]table.Alignment{
		table.AlignRight,
		table.AlignLeft,
		table.AlignRight,
		table.AlignLeft,
	})
	for _, instr := range instructions {
		operands := ""
		for i, operand := range instr.Operands {
			if i > 0 {
				operands += " "
			}
			operands += strconv.Itoa(operand)
		}
		info := instr.Info
		if info != "" {
			info = color.Colorize(color.Green, info)
		}
		tbl.Append([]string{
			strconv.Itoa(instr.Offset),
			color.Colorize(color.Cyan, instr.Name),
			operands,
			info,
		})
	}
	tbl.Render()
}
