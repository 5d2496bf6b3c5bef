// Package guard owns the conflict-guard invariant: no task may read
// memory whose conflicts are unresolved (spec.md §3 "SafeMemoryContext",
// §4.3 "conflict guard"). Grounded on
// _examples/original_source/cis-core/src/memory/guard/compilation_test.rs,
// whose own comments state the Rust original's SafeMemoryContext::new()
// is pub(crate) precisely so nothing outside the guard module can
// construct one.
//
// Go has no pub(crate) visibility modifier, so this package reproduces the
// guarantee the way Go idiom allows: SafeMemoryContext's fields are
// unexported and the type has no exported constructor anywhere in the
// module. The only way to obtain one is ConflictGuard.CheckAndCreateContext,
// defined in this same package — any other package can hold and pass a
// SafeMemoryContext by value (it has no methods that mutate shared state)
// but can never build or clone one standalone, which is the property
// spec.md §8's property 5 requires "by module privacy, friend-class,
// unexported constructor, etc."
package guard

import "github.com/cis-project/cis/internal/domain/memory"

// SafeMemoryContext is an opaque snapshot of memory entries proved free of
// unresolved conflicts for the keys it covers. There is deliberately no
// exported field, constructor, or Clone method on this type.
type SafeMemoryContext struct {
	snapshot map[string]memory.Entry
}

// Get reads key from the snapshot taken when this context was created.
// Reading here can never observe a conflict that existed at snapshot
// time, and cannot observe writes made after snapshot time either — this
// context is a point-in-time view, not a live cursor.
func (c SafeMemoryContext) Get(key string) (memory.Entry, bool) {
	e, ok := c.snapshot[key]
	return e, ok
}

// Keys lists every key covered by this context.
func (c SafeMemoryContext) Keys() []string {
	keys := make([]string, 0, len(c.snapshot))
	for k := range c.snapshot {
		keys = append(keys, k)
	}
	return keys
}
