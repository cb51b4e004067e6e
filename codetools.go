// Package codetools lets a compiled function execute as if its local
// variable frame were a caller-supplied mapping object.
//
// Wrapping a function rewrites its instruction stream once, so that every
// local, global and cell variable access goes through a single named-storage
// addressing mode, then reuses that rewritten unit on every call. Each call
// asks a context factory for a namespace, seeds it with the function's
// captured values, binds the call arguments into it under their parameter
// names, and evaluates the rewritten unit against it.
//
// Uses include overriding a function's globals for one call (for example,
// substituting a stand-in module for a real one), observing every variable
// the function reads and writes, and sharing one namespace across calls as a
// poor man's closure.
//
// Functions that contain a closure cannot be wrapped; Wrap returns an
// UnsupportedConstruct error and leaves the function untouched.
package codetools

import (
	"context"

	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/namespace"
	"github.com/xmorgan/codetools/rewrite"
	"github.com/xmorgan/codetools/vm"
)

// RewriteForContext rewrites a function's code so all variable access is
// name-based. The transformation is pure: the input function is not
// modified, and the same input always yields the same rewritten code.
func RewriteForContext(fn *bytecode.Function) (*bytecode.Code, error) {
	return rewrite.ForContext(fn.Code())
}

// ContextFunc is a wrapped function. The rewritten code and the captured
// closure snapshot are computed once, at wrap time, and never mutated, so a
// ContextFunc may be called concurrently as long as the namespaces its
// factory produces tolerate it.
type ContextFunc struct {
	fn       *bytecode.Function
	code     *bytecode.Code
	captured map[string]any
	factory  namespace.Factory
}

// Wrap rewrites fn for namespace execution and returns a callable wrapper.
// The factory is invoked exactly once per call to produce the namespace the
// call executes against; a factory returning a fresh namespace isolates
// calls from each other, while one returning a shared namespace lets calls
// accumulate state.
func Wrap(fn *bytecode.Function, factory namespace.Factory) (*ContextFunc, error) {
	code, err := rewrite.ForContext(fn.Code())
	if err != nil {
		return nil, err
	}
	return &ContextFunc{
		fn:       fn,
		code:     code,
		captured: fn.Captured(),
		factory:  factory,
	}, nil
}

// WithContext curries Wrap for declarative use with a fixed factory.
func WithContext(factory namespace.Factory) func(*bytecode.Function) (*ContextFunc, error) {
	return func(fn *bytecode.Function) (*ContextFunc, error) {
		return Wrap(fn, factory)
	}
}

// Call invokes the wrapped function with positional arguments.
func (c *ContextFunc) Call(ctx context.Context, args ...any) (any, error) {
	return c.CallKeywords(ctx, args, nil)
}

// CallKeywords invokes the wrapped function with positional and keyword
// arguments. The namespace is fully populated before the body runs: factory
// product first, then the captured closure values, then the bound
// arguments. Binding errors surface before any body instruction executes.
// Errors raised by the body itself propagate unchanged.
func (c *ContextFunc) CallKeywords(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	ns := c.factory()
	for name, value := range c.captured {
		ns.Set(name, value)
	}
	bindings, err := BindArguments(c.fn, args, kwargs)
	if err != nil {
		return nil, err
	}
	for _, binding := range bindings {
		ns.Set(binding.Name, binding.Value)
	}
	globals := c.fn.Globals()
	if globals == nil {
		globals = map[string]any{}
	}
	return vm.Run(ctx, c.code, vm.WithGlobals(globals), vm.WithLocals(ns))
}

// Name returns the wrapped function's name.
func (c *ContextFunc) Name() string {
	return c.fn.Name()
}

// Code returns the rewritten code the wrapper evaluates.
func (c *ContextFunc) Code() *bytecode.Code {
	return c.code
}

// Unwrap returns the original, unmodified function.
func (c *ContextFunc) Unwrap() *bytecode.Function {
	return c.fn
}
