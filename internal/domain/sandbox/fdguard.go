package sandbox

import (
	"sync/atomic"

	cerr "github.com/cis-project/cis/pkg/errors"
)

// FDGuard is a scoped, atomic file-descriptor accounting token. It is
// acquired via TryAllocateFD and released exactly once, including on
// panic — grounded on
// _examples/original_source/cis-core/src/wasm/file_descriptor_guard.rs,
// translated from Rust's Drop into a Go defer-friendly Release method.
//
// Double-release is made impossible by construction: Release nils out the
// guard's back-reference to the counter after firing once, so a second
// call is a no-op rather than an under-count.
type FDGuard struct {
	count *atomic.Uint32
}

// TryAllocateFD increments count and returns a guard if the result is
// within max; otherwise it rolls the increment back and returns
// ExhaustedFD.
func TryAllocateFD(count *atomic.Uint32, max uint32) (*FDGuard, error) {
	current := count.Add(1)
	if current > max {
		count.Add(^uint32(0)) // rollback: subtract 1
		return nil, cerr.Sandbox("file descriptor limit exceeded")
	}
	return &FDGuard{count: count}, nil
}

// Release frees the file descriptor slot. Safe to call multiple times or
// under defer after a panic; only the first call has effect.
func (g *FDGuard) Release() {
	if g == nil || g.count == nil {
		return
	}
	g.count.Add(^uint32(0))
	g.count = nil
}
