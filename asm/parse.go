package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/op"
)

// Assembly is the result of parsing a textual listing: a code object plus
// the calling-convention values that cannot live inside the code itself.
type Assembly struct {
	Name     string
	Code     *bytecode.Code
	Defaults []any
}

// Function wraps the assembly in a Function bound to the given globals.
func (a *Assembly) Function(globals map[string]any) *bytecode.Function {
	return bytecode.NewFunction(bytecode.FunctionParams{
		ID:       uuid.New().String(),
		Name:     a.Name,
		Code:     a.Code,
		Defaults: a.Defaults,
		Globals:  globals,
	})
}

// Parse assembles a textual listing into a code object. The format is line
// oriented:
//
//	; running total accumulator
//	func accumulate(value, step=1)
//	.free bias
//
//	    LOAD_FAST value
//	    LOAD_FAST step
//	    BINARY_OP +
//	    POP_JUMP_IF_FALSE done
//	    LOAD_GLOBAL report
//	    CALL 0
//	    POP_TOP
//	done:
//	    NIL
//	    RETURN_VALUE
//
// A "func" header names the code and declares its parameters, with optional
// literal defaults. Directives declare the remaining name zones: ".vararg"
// and ".kwarg" add argument collectors, ".cell" and ".free" declare closure
// cells, ".file" and ".line" attach source locations. "label:" lines define
// jump targets. Everything after ";" or "#" on a line is a comment.
//
// Operand syntax follows the operand kind: LOAD_CONST takes a literal (int,
// float, quoted string, true, false or nil); fast and deref instructions
// take the variable's identifier; name-table instructions take the global or
// attribute identifier; jumps take a label; BINARY_OP and COMPARE_OP take
// the operator symbol; the remaining operands are integers.
func Parse(source string) (*Assembly, error) {
	p := &parser{
		builder: NewBuilder("<anonymous>"),
		cells:   map[string]int{},
	}
	for i, line := range strings.Split(source, "\n") {
		if err := p.line(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	code, err := p.builder.Build()
	if err != nil {
		return nil, err
	}
	return &Assembly{
		Name:     p.builder.name,
		Code:     code,
		Defaults: p.defaults,
	}, nil
}

type parser struct {
	builder   *Builder
	defaults  []any
	cells     map[string]int // declared cell and free variables
	sawHeader bool
	sawCode   bool
}

func (p *parser) line(raw string) error {
	line := raw
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(line, "func "):
		return p.header(strings.TrimSpace(strings.TrimPrefix(line, "func ")))
	case strings.HasPrefix(line, "."):
		return p.directive(line)
	case strings.HasSuffix(line, ":"):
		label := strings.TrimSpace(strings.TrimSuffix(line, ":"))
		if !isIdent(label) {
			return fmt.Errorf("invalid label %q", label)
		}
		p.builder.Label(label)
		return p.builder.err
	default:
		p.sawCode = true
		return p.instruction(line)
	}
}

func (p *parser) header(rest string) error {
	if p.sawHeader {
		return fmt.Errorf("duplicate func header")
	}
	if p.sawCode {
		return fmt.Errorf("func header must precede instructions")
	}
	p.sawHeader = true
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return fmt.Errorf("malformed func header %q", rest)
	}
	name := strings.TrimSpace(rest[:open])
	if !isIdent(name) {
		return fmt.Errorf("invalid function name %q", name)
	}
	p.builder.name = name
	params := strings.TrimSpace(rest[open+1 : len(rest)-1])
	if params == "" {
		return nil
	}
	for _, param := range strings.Split(params, ",") {
		param = strings.TrimSpace(param)
		ident, defaultText, hasDefault := strings.Cut(param, "=")
		ident = strings.TrimSpace(ident)
		if !isIdent(ident) {
			return fmt.Errorf("invalid parameter %q", param)
		}
		if hasDefault {
			value, err := parseLiteral(strings.TrimSpace(defaultText))
			if err != nil {
				return fmt.Errorf("parameter %s: %w", ident, err)
			}
			p.defaults = append(p.defaults, value)
		} else if len(p.defaults) > 0 {
			return fmt.Errorf("parameter %s without a default follows one with a default", ident)
		}
		p.builder.Param(ident)
	}
	return p.builder.err
}

func (p *parser) directive(line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case ".vararg":
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", name)
		}
		p.builder.VarArg(arg)
	case ".kwarg":
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", name)
		}
		p.builder.VarKwarg(arg)
	case ".cell":
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", name)
		}
		p.cells[arg] = p.builder.CellVar(arg)
	case ".free":
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", name)
		}
		p.cells[arg] = p.builder.FreeVar(arg)
	case ".file":
		if arg == "" {
			return fmt.Errorf(".file needs a filename")
		}
		p.builder.SetFilename(arg)
	case ".line":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf(".line needs a number: %w", err)
		}
		if p.builder.firstLine == 0 {
			p.builder.SetFirstLine(n)
		}
		p.builder.SetLine(n)
	default:
		return fmt.Errorf("unknown directive %s", name)
	}
	return p.builder.err
}

func (p *parser) instruction(line string) error {
	mnemonic, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	info, ok := op.ByName(mnemonic)
	if !ok {
		return fmt.Errorf("unknown instruction %q", mnemonic)
	}
	if !info.HasOperand {
		if arg != "" {
			return fmt.Errorf("%s takes no operand", info.Name)
		}
		p.builder.Emit(info.Code)
		return p.builder.err
	}
	if arg == "" {
		return fmt.Errorf("%s needs an operand", info.Name)
	}

	switch {
	case info.Code == op.Jump || info.Code == op.PopJumpIfFalse || info.Code == op.PopJumpIfTrue:
		if !isIdent(arg) {
			return fmt.Errorf("%s needs a label", info.Name)
		}
		p.builder.EmitJump(info.Code, arg)
	case info.Code == op.LoadConst:
		value, err := parseLiteral(arg)
		if err != nil {
			return err
		}
		p.builder.Emit(info.Code, p.builder.Constant(value))
	case op.HasNameOperand(info.Code):
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", info.Name)
		}
		p.builder.Emit(info.Code, p.builder.Name(arg))
	case info.Code == op.LoadFast || info.Code == op.StoreFast || info.Code == op.DeleteFast:
		if !isIdent(arg) {
			return fmt.Errorf("%s needs an identifier", info.Name)
		}
		p.builder.Emit(info.Code, p.builder.Local(arg))
	case info.Code == op.LoadDeref || info.Code == op.StoreDeref || info.Code == op.LoadClosure:
		index, declared := p.cells[arg]
		if !declared {
			return fmt.Errorf("%s references undeclared cell %q", info.Name, arg)
		}
		p.builder.Emit(info.Code, index)
	case info.Code == op.BinaryOp:
		opType, ok := binaryOpsBySymbol[arg]
		if !ok {
			return fmt.Errorf("unknown binary operator %q", arg)
		}
		p.builder.Emit(info.Code, int(opType))
	case info.Code == op.CompareOp:
		opType, ok := compareOpsBySymbol[arg]
		if !ok {
			return fmt.Errorf("unknown comparison operator %q", arg)
		}
		p.builder.Emit(info.Code, int(opType))
	default:
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%s needs an integer operand: %w", info.Name, err)
		}
		p.builder.Emit(info.Code, n)
	}
	return p.builder.err
}

var binaryOpsBySymbol = map[string]op.BinaryOpType{
	"+":  op.Add,
	"-":  op.Subtract,
	"*":  op.Multiply,
	"/":  op.Divide,
	"%":  op.Modulo,
	"**": op.Power,
}

var compareOpsBySymbol = map[string]op.CompareOpType{
	"<":  op.LessThan,
	"<=": op.LessThanOrEqual,
	"==": op.Equal,
	"!=": op.NotEqual,
	">":  op.GreaterThan,
	">=": op.GreaterThanOrEqual,
}

func parseLiteral(text string) (any, error) {
	switch text {
	case "nil":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if strings.HasPrefix(text, "\"") {
		value, err := strconv.Unquote(text)
		if err != nil {
			return nil, fmt.Errorf("invalid string literal %s: %w", text, err)
		}
		return value, nil
	}
	if i, err := strconv.ParseInt(text, 0, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("invalid literal %q", text)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !alpha && (i == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}
