package vm

import (
	"fmt"
	"math"
	"reflect"

	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/op"
)

// Truthy reports whether a value counts as true in a conditional jump.
// Nil, false, zero numbers and empty containers are false.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// TypeName returns a short name for a value's type, used in error messages.
func TypeName(value any) string {
	switch value.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case *Module:
		return "module"
	case Builtin:
		return "builtin"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func asInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func binaryOp(opType op.BinaryOpType, left, right any) (any, error) {
	if opType == op.Add {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				out := make([]any, 0, len(ll)+len(rl))
				out = append(out, ll...)
				return append(out, rl...), nil
			}
		}
	}

	li, lok := asInt(left)
	ri, rok := asInt(right)
	if lok && rok {
		switch opType {
		case op.Add:
			return li + ri, nil
		case op.Subtract:
			return li - ri, nil
		case op.Multiply:
			return li * ri, nil
		case op.Divide:
			if ri == 0 {
				return nil, errz.New(errz.ErrRuntime, "division by zero")
			}
			if li%ri == 0 {
				return li / ri, nil
			}
			return float64(li) / float64(ri), nil
		case op.Modulo:
			if ri == 0 {
				return nil, errz.New(errz.ErrRuntime, "division by zero")
			}
			return li % ri, nil
		case op.Power:
			return int64(math.Pow(float64(li), float64(ri))), nil
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch opType {
		case op.Add:
			return lf + rf, nil
		case op.Subtract:
			return lf - rf, nil
		case op.Multiply:
			return lf * rf, nil
		case op.Divide:
			if rf == 0 {
				return nil, errz.New(errz.ErrRuntime, "division by zero")
			}
			return lf / rf, nil
		case op.Modulo:
			return math.Mod(lf, rf), nil
		case op.Power:
			return math.Pow(lf, rf), nil
		}
	}

	return nil, errz.New(errz.ErrType, "unsupported operand types for %s: %s and %s",
		opType.String(), TypeName(left), TypeName(right))
}

func equals(left, right any) bool {
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		return lf == rf
	}
	return reflect.DeepEqual(left, right)
}

func compareOp(opType op.CompareOpType, left, right any) (any, error) {
	switch opType {
	case op.Equal:
		return equals(left, right), nil
	case op.NotEqual:
		return !equals(left, right), nil
	}

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch opType {
			case op.LessThan:
				return ls < rs, nil
			case op.LessThanOrEqual:
				return ls <= rs, nil
			case op.GreaterThan:
				return ls > rs, nil
			case op.GreaterThanOrEqual:
				return ls >= rs, nil
			}
		}
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch opType {
		case op.LessThan:
			return lf < rf, nil
		case op.LessThanOrEqual:
			return lf <= rf, nil
		case op.GreaterThan:
			return lf > rf, nil
		case op.GreaterThanOrEqual:
			return lf >= rf, nil
		}
	}

	return nil, errz.New(errz.ErrType, "cannot compare %s and %s",
		TypeName(left), TypeName(right))
}
