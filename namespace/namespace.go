// Package namespace defines the mapping abstraction that substitutes for a
// function's local variable storage, along with Dict, a reference
// implementation carrying the full mapping protocol.
package namespace

// Namespace is the capability set a context must provide for rewritten code
// to use it as variable storage. Set must overwrite independent of prior
// membership, so that rebinding a variable behaves like a plain assignment.
//
// Namespace implementations are not required to be safe for concurrent use.
// When a factory hands the same namespace to concurrent calls, ordering
// guarantees are the factory's responsibility.
type Namespace interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string) bool
	Contains(key string) bool
	Len() int
	Keys() []string
}

// Factory produces the namespace used for a single call of a wrapped
// function. It is invoked exactly once per call. A factory may return a
// fresh namespace every time, or a shared one to accumulate state across
// calls.
type Factory func() Namespace
