// Package conformance is a reusable contract checker for namespace
// implementations. Any type satisfying namespace.Namespace can be validated
// against the core mapping contract the context engine relies on; types
// that implement the extended capability interfaces below are additionally
// checked against those behaviors.
package conformance

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/xmorgan/codetools/namespace"
)

// Factory produces a fresh, empty mapping under test. Each check receives
// its own instances.
type Factory func() namespace.Namespace

// Extended capabilities, detected per instance. A mapping that does not
// implement one simply skips its checks.
type (
	// Updater merges another namespace's bindings.
	Updater interface {
		Update(other namespace.Namespace)
	}

	// Defaulter reads a key, binding a fallback first when absent.
	Defaulter interface {
		SetDefault(key string, fallback any) any
	}

	// Popper removes and returns a binding.
	Popper interface {
		Pop(key string, fallback any) (any, bool)
	}

	// ItemPopper removes and returns the most recently inserted pair.
	ItemPopper interface {
		PopItem() (namespace.Item, bool)
	}

	// Lister enumerates bindings as ordered pairs.
	Lister interface {
		Items() []namespace.Item
	}

	// Clearer removes all bindings.
	Clearer interface {
		Clear()
	}
)

type check struct {
	name string
	run  func(Factory) error
}

var checks = []check{
	{"empty", checkEmpty},
	{"set-get", checkSetGet},
	{"overwrite", checkOverwrite},
	{"delete", checkDelete},
	{"keys", checkKeys},
	{"update", checkUpdate},
	{"setdefault", checkSetDefault},
	{"pop", checkPop},
	{"popitem", checkPopItem},
	{"items", checkItems},
	{"clear", checkClear},
}

// Run exercises the mapping contract as named subtests.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if err := c.run(factory); err != nil {
				t.Error(err)
			}
		})
	}
}

// Check exercises the mapping contract outside a test context, returning
// all failures aggregated into one error.
func Check(factory Factory) error {
	var result *multierror.Error
	for _, c := range checks {
		if err := c.run(factory); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return result.ErrorOrNil()
}

func reference() []namespace.Item {
	return []namespace.Item{
		{Key: "one", Value: int64(1)},
		{Key: "name", Value: "value"},
		{Key: "triple", Value: []any{int64(1), int64(2), int64(3)}},
	}
}

func fill(ns namespace.Namespace, items []namespace.Item) {
	for _, item := range items {
		ns.Set(item.Key, item.Value)
	}
}

func checkEmpty(factory Factory) error {
	ns := factory()
	if n := ns.Len(); n != 0 {
		return fmt.Errorf("fresh mapping has length %d, want 0", n)
	}
	if keys := ns.Keys(); len(keys) != 0 {
		return fmt.Errorf("fresh mapping has keys %v, want none", keys)
	}
	if ns.Contains("absent") {
		return fmt.Errorf("fresh mapping claims to contain %q", "absent")
	}
	if _, ok := ns.Get("absent"); ok {
		return fmt.Errorf("fresh mapping returned a value for %q", "absent")
	}
	if ns.Delete("absent") {
		return fmt.Errorf("deleting an absent key reported success")
	}
	return nil
}

func checkSetGet(factory Factory) error {
	ns := factory()
	items := reference()
	fill(ns, items)
	if n := ns.Len(); n != len(items) {
		return fmt.Errorf("length is %d after %d sets", n, len(items))
	}
	for _, item := range items {
		got, ok := ns.Get(item.Key)
		if !ok {
			return fmt.Errorf("key %q missing after set", item.Key)
		}
		if !equal(got, item.Value) {
			return fmt.Errorf("key %q has value %v, want %v", item.Key, got, item.Value)
		}
		if !ns.Contains(item.Key) {
			return fmt.Errorf("Contains(%q) is false for a bound key", item.Key)
		}
	}
	return nil
}

func checkOverwrite(factory Factory) error {
	ns := factory()
	ns.Set("key", int64(1))
	ns.Set("key", int64(2))
	got, ok := ns.Get("key")
	if !ok || !equal(got, int64(2)) {
		return fmt.Errorf("rebinding produced %v, want 2", got)
	}
	if n := ns.Len(); n != 1 {
		return fmt.Errorf("rebinding changed length to %d", n)
	}
	return nil
}

func checkDelete(factory Factory) error {
	ns := factory()
	fill(ns, reference())
	for _, item := range reference() {
		if !ns.Delete(item.Key) {
			return fmt.Errorf("deleting bound key %q reported failure", item.Key)
		}
		if ns.Contains(item.Key) {
			return fmt.Errorf("key %q still present after delete", item.Key)
		}
		if ns.Delete(item.Key) {
			return fmt.Errorf("second delete of %q reported success", item.Key)
		}
	}
	if n := ns.Len(); n != 0 {
		return fmt.Errorf("length is %d after deleting every key", n)
	}
	return nil
}

func checkKeys(factory Factory) error {
	ns := factory()
	items := reference()
	fill(ns, items)
	keys := ns.Keys()
	if len(keys) != len(items) {
		return fmt.Errorf("Keys() returned %d keys, want %d", len(keys), len(items))
	}
	seen := map[string]bool{}
	for _, key := range keys {
		if !ns.Contains(key) {
			return fmt.Errorf("Keys() includes unbound key %q", key)
		}
		if seen[key] {
			return fmt.Errorf("Keys() includes %q twice", key)
		}
		seen[key] = true
	}
	return nil
}

func checkUpdate(factory Factory) error {
	ns := factory()
	updater, ok := ns.(Updater)
	if !ok {
		return nil
	}
	ns.Set("kept", int64(1))
	ns.Set("replaced", int64(2))

	other := factory()
	other.Set("replaced", int64(20))
	other.Set("added", int64(30))
	updater.Update(other)

	want := map[string]any{"kept": int64(1), "replaced": int64(20), "added": int64(30)}
	for key, value := range want {
		got, ok := ns.Get(key)
		if !ok || !equal(got, value) {
			return fmt.Errorf("after update, key %q has %v, want %v", key, got, value)
		}
	}
	if n := ns.Len(); n != len(want) {
		return fmt.Errorf("after update, length is %d, want %d", n, len(want))
	}
	return nil
}

func checkSetDefault(factory Factory) error {
	ns := factory()
	defaulter, ok := ns.(Defaulter)
	if !ok {
		return nil
	}
	if got := defaulter.SetDefault("fresh", int64(1)); !equal(got, int64(1)) {
		return fmt.Errorf("SetDefault on absent key returned %v, want the fallback", got)
	}
	if got, ok := ns.Get("fresh"); !ok || !equal(got, int64(1)) {
		return fmt.Errorf("SetDefault did not bind the fallback: %v", got)
	}
	if got := defaulter.SetDefault("fresh", int64(2)); !equal(got, int64(1)) {
		return fmt.Errorf("SetDefault on bound key returned %v, want the existing value", got)
	}
	return nil
}

func checkPop(factory Factory) error {
	ns := factory()
	popper, ok := ns.(Popper)
	if !ok {
		return nil
	}
	ns.Set("key", int64(7))
	got, found := popper.Pop("key", nil)
	if !found || !equal(got, int64(7)) {
		return fmt.Errorf("Pop of bound key returned (%v, %v)", got, found)
	}
	if ns.Contains("key") {
		return fmt.Errorf("key still present after Pop")
	}
	got, found = popper.Pop("key", "fallback")
	if found || !equal(got, "fallback") {
		return fmt.Errorf("Pop of absent key returned (%v, %v), want the fallback", got, found)
	}
	return nil
}

func checkPopItem(factory Factory) error {
	ns := factory()
	popper, ok := ns.(ItemPopper)
	if !ok {
		return nil
	}
	items := reference()
	fill(ns, items)
	for i := 0; i < len(items); i++ {
		item, found := popper.PopItem()
		if !found {
			return fmt.Errorf("PopItem reported empty with %d bindings left", ns.Len())
		}
		if ns.Contains(item.Key) {
			return fmt.Errorf("key %q still present after PopItem", item.Key)
		}
	}
	if _, found := popper.PopItem(); found {
		return fmt.Errorf("PopItem on an empty mapping reported success")
	}
	return nil
}

func checkItems(factory Factory) error {
	ns := factory()
	lister, ok := ns.(Lister)
	if !ok {
		return nil
	}
	fill(ns, reference())
	items := lister.Items()
	if len(items) != ns.Len() {
		return fmt.Errorf("Items() returned %d pairs, want %d", len(items), ns.Len())
	}
	for _, item := range items {
		got, ok := ns.Get(item.Key)
		if !ok || !equal(got, item.Value) {
			return fmt.Errorf("Items() pair %q=%v disagrees with Get: %v", item.Key, item.Value, got)
		}
	}
	return nil
}

func checkClear(factory Factory) error {
	ns := factory()
	clearer, ok := ns.(Clearer)
	if !ok {
		return nil
	}
	fill(ns, reference())
	clearer.Clear()
	if n := ns.Len(); n != 0 {
		return fmt.Errorf("length is %d after Clear", n)
	}
	if keys := ns.Keys(); len(keys) != 0 {
		return fmt.Errorf("keys %v remain after Clear", keys)
	}
	ns.Set("key", int64(1))
	if n := ns.Len(); n != 1 {
		return fmt.Errorf("mapping unusable after Clear: length %d", n)
	}
	return nil
}

func equal(a, b any) bool {
	if as, ok := a.([]any); ok {
		bs, ok := b.([]any)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
