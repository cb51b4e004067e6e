package bytecode

import (
	"fmt"

	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/op"
)

// Instruction is a single decoded instruction: a symbolic opcode and its
// operand. The operand is meaningful only for opcodes whose Info reports
// HasOperand; it is interpreted per opcode (a name-table index, an absolute
// byte offset for jumps, a constant-pool index, an argument count, etc.).
type Instruction struct {
	Opcode  op.Code
	Operand int16
}

// HasOperand returns true if the instruction's opcode carries an operand.
func (i Instruction) HasOperand() bool {
	return op.GetInfo(i.Opcode).HasOperand
}

// Width returns the encoded size of the instruction in bytes.
func (i Instruction) Width() int {
	if i.HasOperand() {
		return 3
	}
	return 1
}

// String returns the symbolic form of the instruction, e.g. "LOAD_FAST 2".
func (i Instruction) String() string {
	info := op.GetInfo(i.Opcode)
	if info.Name == "" {
		return fmt.Sprintf("INVALID(%d)", i.Opcode)
	}
	if info.HasOperand {
		return fmt.Sprintf("%s %d", info.Name, i.Operand)
	}
	return info.Name
}

// Decode parses a raw instruction stream into a sequence of instructions.
// Each instruction is a one-byte opcode, followed by a little-endian int16
// operand when the opcode carries one. An opcode outside the supported
// instruction set is a structural error: the instruction set is closed, so
// an unknown opcode indicates a stream produced by an unsupported version.
func Decode(stream []byte) ([]Instruction, error) {
	var instructions []Instruction
	for i := 0; i < len(stream); {
		opcode := op.Code(stream[i])
		info := op.GetInfo(opcode)
		if info.Name == "" {
			return nil, errz.New(errz.ErrUnrecognizedInstruction,
				"opcode %d at offset %d", opcode, i)
		}
		i++
		var operand int16
		if info.HasOperand {
			if i+2 > len(stream) {
				return nil, errz.New(errz.ErrUnrecognizedInstruction,
					"truncated operand for %s at offset %d", info.Name, i-1)
			}
			operand = int16(stream[i]) | int16(stream[i+1])<<8
			i += 2
		}
		instructions = append(instructions, Instruction{Opcode: opcode, Operand: operand})
	}
	return instructions, nil
}

// Encode is the inverse of Decode: it packs a sequence of instructions back
// into a raw stream. Opcodes that carry an operand always emit the full
// fixed-width operand field, even when the operand is zero, so that
// Encode(Decode(stream)) reproduces the stream byte for byte.
func Encode(instructions []Instruction) []byte {
	size := 0
	for _, instr := range instructions {
		size += instr.Width()
	}
	stream := make([]byte, 0, size)
	for _, instr := range instructions {
		stream = append(stream, byte(instr.Opcode))
		if instr.HasOperand() {
			stream = append(stream, byte(instr.Operand), byte(uint16(instr.Operand)>>8))
		}
	}
	return stream
}
