package codetools

import (
	"sort"

	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/errz"
)

// Binding is one name/value pair produced by argument binding. Bindings are
// ordered as they were established, so applying them in sequence reproduces
// the binding phase exactly.
type Binding struct {
	Name  string
	Value any
}

// BindArguments replicates a function's argument-binding rules, producing
// the bindings an ordinary call would establish in its local frame. It is
// pure: the function, args and kwargs are never modified, and no binding is
// produced on error.
//
// Positional arguments bind to parameters in order. When more positionals
// arrive than the function has parameters, the excess goes to the vararg
// collector if one is declared, otherwise binding fails with
// TooManyArguments; in that overflow case keyword arguments pass straight
// through to the keyword collector without being matched against
// parameters. Otherwise unfilled parameters are satisfied from keywords
// first, then declared defaults, and a parameter left unsatisfied fails
// with MissingArgument. Leftover keywords go to the keyword collector if
// one is declared and fail with UnexpectedKeyword if not.
func BindArguments(fn *bytecode.Function, args []any, kwargs map[string]any) ([]Binding, error) {
	params := fn.Parameters()
	k := len(params)

	if len(args) > k {
		if !fn.HasVarArgs() {
			return nil, errz.New(errz.ErrTooManyArguments,
				"%s() takes %d arguments but %d were given", fn.Name(), k, len(args))
		}
		bindings := make([]Binding, 0, k+2)
		for i, name := range params {
			bindings = append(bindings, Binding{Name: name, Value: args[i]})
		}
		excess := make([]any, len(args)-k)
		copy(excess, args[k:])
		bindings = append(bindings, Binding{Name: fn.VarArgName(), Value: excess})
		if fn.HasVarKwargs() {
			bindings = append(bindings, Binding{Name: fn.KwargName(), Value: copyKwargs(kwargs)})
		}
		return bindings, nil
	}

	bindings := make([]Binding, 0, k+2)
	for i := 0; i < len(args); i++ {
		bindings = append(bindings, Binding{Name: params[i], Value: args[i]})
	}

	if fn.HasVarArgs() {
		bindings = append(bindings, Binding{Name: fn.VarArgName(), Value: []any{}})
	}

	remaining := copyKwargs(kwargs)
	firstDefault := k - fn.DefaultCount()
	for i := len(args); i < k; i++ {
		name := params[i]
		if value, ok := remaining[name]; ok {
			bindings = append(bindings, Binding{Name: name, Value: value})
			delete(remaining, name)
		} else if i >= firstDefault {
			bindings = append(bindings, Binding{Name: name, Value: fn.Default(i - firstDefault)})
		} else {
			return nil, errz.New(errz.ErrMissingArgument,
				"%s() missing required argument: %q", fn.Name(), name)
		}
	}

	if len(remaining) > 0 && !fn.HasVarKwargs() {
		keys := make([]string, 0, len(remaining))
		for key := range remaining {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return nil, errz.New(errz.ErrUnexpectedKeyword,
			"%s() got an unexpected keyword argument: %q", fn.Name(), keys[0])
	}
	if fn.HasVarKwargs() {
		bindings = append(bindings, Binding{Name: fn.KwargName(), Value: remaining})
	}
	return bindings, nil
}

func copyKwargs(kwargs map[string]any) map[string]any {
	copied := make(map[string]any, len(kwargs))
	for key, value := range kwargs {
		copied[key] = value
	}
	return copied
}
