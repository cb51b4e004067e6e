package codetools

import (
	"bytes"
	"context"
	"testing"

	"github.com/deepnoodle-ai/wonton/assert"
	"github.com/xmorgan/codetools/asm"
	"github.com/xmorgan/codetools/bytecode"
	"github.com/xmorgan/codetools/errz"
	"github.com/xmorgan/codetools/namespace"
	"github.com/xmorgan/codetools/op"
	"github.com/xmorgan/codetools/vm"
)

func freshDicts() namespace.Factory {
	return func() namespace.Namespace { return namespace.NewDict() }
}

// A global override placed in the call namespace substitutes for the real
// global binding for that call only.
func TestNamespaceSubstitution(t *testing.T) {
	// f(x) { return math.double(x) }
	b := asm.NewBuilder("f")
	b.Param("x")
	b.Emit(op.LoadGlobal, b.Name("math"))
	b.Emit(op.LoadAttr, b.Name("double"))
	b.Emit(op.LoadFast, 0)
	b.Emit(op.Call, 1)
	b.Emit(op.ReturnValue)

	realMath := vm.NewModule("math", map[string]any{
		"double": vm.Builtin(func(ctx context.Context, args ...any) (any, error) {
			return args[0].(int64) * 2, nil
		}),
	})
	globals := map[string]any{"math": realMath}
	fn, err := b.BuildFunction(asm.FunctionParams{Globals: globals})
	assert.Nil(t, err)

	replacement := vm.NewModule("math", map[string]any{
		"double": vm.Builtin(func(ctx context.Context, args ...any) (any, error) {
			return args[0].(int64) * 10, nil
		}),
	})
	wrapped, err := Wrap(fn, func() namespace.Namespace {
		ns := namespace.NewDict()
		ns.Set("math", replacement)
		return ns
	})
	assert.Nil(t, err)

	result, err := wrapped.Call(context.Background(), int64(3))
	assert.Nil(t, err)
	assert.Equal(t, result, int64(30))

	// The function's real global namespace is unaffected
	assert.Equal(t, globals["math"], realMath)
}

// A factory returning the same namespace on every call turns local writes
// into durable state: the accumulator pattern.
func TestSharedNamespaceAccumulation(t *testing.T) {
	// accumulate(value) { total = total + value }
	b := asm.NewBuilder("accumulate")
	b.Param("value")
	b.Emit(op.LoadFast, b.Local("total"))
	b.Emit(op.LoadFast, 0)
	b.Emit(op.BinaryOp, int(op.Add))
	b.Emit(op.StoreFast, b.Local("total"))
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	shared := namespace.NewDict()
	shared.Set("total", int64(0))
	wrapped, err := Wrap(fn, func() namespace.Namespace { return shared })
	assert.Nil(t, err)

	for i := 0; i < 10; i++ {
		_, err := wrapped.Call(context.Background(), int64(i))
		assert.Nil(t, err)
	}
	total, ok := shared.Get("total")
	assert.True(t, ok)
	assert.Equal(t, total, int64(45))
}

// With a fresh namespace per call, values written by one call are invisible
// to the next.
func TestNoCrossCallLeakage(t *testing.T) {
	factory := freshDicts()

	wb := asm.NewBuilder("writer")
	wb.Param("value")
	wb.Emit(op.LoadFast, 0)
	wb.Emit(op.StoreFast, wb.Local("leftover"))
	wb.Emit(op.Nil)
	wb.Emit(op.ReturnValue)
	writerFn, err := wb.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)
	writer, err := Wrap(writerFn, factory)
	assert.Nil(t, err)

	rb := asm.NewBuilder("reader")
	rb.Emit(op.LoadFast, rb.Local("leftover"))
	rb.Emit(op.ReturnValue)
	readerFn, err := rb.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)
	reader, err := Wrap(readerFn, factory)
	assert.Nil(t, err)

	_, err = writer.Call(context.Background(), int64(1))
	assert.Nil(t, err)

	_, err = reader.Call(context.Background())
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrName))
	assert.Contains(t, err.Error(), "leftover")
}

func TestFactoryCalledOncePerCall(t *testing.T) {
	b := asm.NewBuilder("noop")
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	calls := 0
	wrapped, err := Wrap(fn, func() namespace.Namespace {
		calls++
		return namespace.NewDict()
	})
	assert.Nil(t, err)
	assert.Equal(t, calls, 0)

	for i := 1; i <= 3; i++ {
		_, err := wrapped.Call(context.Background())
		assert.Nil(t, err)
		assert.Equal(t, calls, i)
	}
}

func TestArgumentBindingObservedInNamespace(t *testing.T) {
	b := asm.NewBuilder("f")
	b.Param("a")
	b.Param("b")
	b.VarArg("c")
	b.VarKwarg("d")
	b.Emit(op.Nil)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{Defaults: []any{int64(2)}})
	assert.Nil(t, err)

	var last *namespace.Dict
	wrapped, err := Wrap(fn, func() namespace.Namespace {
		last = namespace.NewDict()
		return last
	})
	assert.Nil(t, err)

	_, err = wrapped.Call(context.Background(), int64(1))
	assert.Nil(t, err)
	assert.Equal(t, last.Map(), map[string]any{
		"a": int64(1),
		"b": int64(2),
		"c": []any{},
		"d": map[string]any{},
	})

	_, err = wrapped.CallKeywords(context.Background(),
		[]any{int64(1), int64(2), int64(3), int64(4)},
		map[string]any{"x": int64(5)})
	assert.Nil(t, err)
	assert.Equal(t, last.Map(), map[string]any{
		"a": int64(1),
		"b": int64(2),
		"c": []any{int64(3), int64(4)},
		"d": map[string]any{"x": int64(5)},
	})
}

// Captured closure values are seeded into the namespace on every call, from
// a snapshot frozen at wrap time.
func TestCapturedValuesSeeded(t *testing.T) {
	b := asm.NewBuilder("addbias")
	b.Param("x")
	bias := b.FreeVar("bias")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.LoadDeref, bias)
	b.Emit(op.BinaryOp, int(op.Add))
	b.Emit(op.ReturnValue)

	captured := map[string]any{"bias": int64(40)}
	fn, err := b.BuildFunction(asm.FunctionParams{Captured: captured})
	assert.Nil(t, err)

	wrapped, err := Wrap(fn, freshDicts())
	assert.Nil(t, err)

	// Mutating the source map after wrapping has no effect: the snapshot
	// was taken by value.
	captured["bias"] = int64(0)

	result, err := wrapped.Call(context.Background(), int64(2))
	assert.Nil(t, err)
	assert.Equal(t, result, int64(42))
}

func TestWrapRejectsClosure(t *testing.T) {
	b := asm.NewBuilder("outer")
	b.CellVar("a")
	b.Emit(op.LoadClosure, 0)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)
	before := fn.Code().Instructions()

	_, err = Wrap(fn, freshDicts())
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrUnsupportedConstruct))

	// The original function is unmodified by the failed wrap
	assert.True(t, bytes.Equal(fn.Code().Instructions(), before))
}

// A binding failure is per-call: the reusable rewritten unit is not
// corrupted and later calls succeed.
func TestBindingErrorDoesNotCorruptUnit(t *testing.T) {
	b := asm.NewBuilder("id")
	b.Param("x")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	wrapped, err := Wrap(fn, freshDicts())
	assert.Nil(t, err)

	_, err = wrapped.Call(context.Background(), int64(1), int64(2))
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrTooManyArguments))

	result, err := wrapped.Call(context.Background(), int64(7))
	assert.Nil(t, err)
	assert.Equal(t, result, int64(7))
}

func TestBodyErrorPropagates(t *testing.T) {
	b := asm.NewBuilder("explode")
	b.Param("x")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.LoadConst, b.Constant(int64(0)))
	b.Emit(op.BinaryOp, int(op.Divide))
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	wrapped, err := Wrap(fn, freshDicts())
	assert.Nil(t, err)

	_, err = wrapped.Call(context.Background(), int64(1))
	assert.NotNil(t, err)
	assert.True(t, errz.IsKind(err, errz.ErrRuntime))
	assert.Contains(t, err.Error(), "division by zero")
}

func TestWithContextDecorator(t *testing.T) {
	b := asm.NewBuilder("id")
	b.Param("x")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	decorate := WithContext(freshDicts())
	wrapped, err := decorate(fn)
	assert.Nil(t, err)
	assert.Equal(t, wrapped.Name(), "id")
	assert.Equal(t, wrapped.Unwrap(), fn)

	result, err := wrapped.Call(context.Background(), "hello")
	assert.Nil(t, err)
	assert.Equal(t, result, "hello")
}

func TestRewriteForContextDeterministic(t *testing.T) {
	b := asm.NewBuilder("f")
	b.Param("x")
	b.Emit(op.LoadFast, 0)
	b.Emit(op.ReturnValue)
	fn, err := b.BuildFunction(asm.FunctionParams{})
	assert.Nil(t, err)

	first, err := RewriteForContext(fn)
	assert.Nil(t, err)
	second, err := RewriteForContext(fn)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(first.Instructions(), second.Instructions()))
	assert.Equal(t, first.Names(), second.Names())
	assert.Equal(t, first.Flags(), second.Flags())
	assert.Equal(t, first.Flags()&bytecode.CallingConventionFlags, bytecode.Flags(0))
}
