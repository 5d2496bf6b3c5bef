package sandbox

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePathRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	p := &Policy{WritableRoots: []string{dir}}

	_, err := p.ValidatePath(filepath.Join(dir, "../../etc/passwd"), Write)
	require.Error(t, err)

	_, err = p.ValidatePath("a/../../b", Write)
	require.Error(t, err)
}

func TestValidatePathAdmitsDescendant(t *testing.T) {
	dir := t.TempDir()
	p := &Policy{WritableRoots: []string{dir}, ReadableRoots: []string{dir}}

	target := filepath.Join(dir, "out.bin")
	resolved, err := p.ValidatePath(target, Write)
	require.NoError(t, err)
	require.Equal(t, target, resolved)
}

func TestValidatePathDeniesEscape(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	p := &Policy{WritableRoots: []string{dirA}}

	_, err := p.ValidatePath(filepath.Join(dirB, "x"), Write)
	require.Error(t, err)
}

func TestValidatePathDeniesSymlinkWhenDisallowed(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	p := &Policy{WritableRoots: []string{dir}, AllowSymlinks: false}
	_, err := p.ValidatePath(filepath.Join(link, "f.txt"), Write)
	require.Error(t, err)
}

func TestValidatePathReadOnlyRootDeniesWrite(t *testing.T) {
	dir := t.TempDir()
	p := &Policy{ReadableRoots: []string{dir}}
	_, err := p.ValidatePath(filepath.Join(dir, "f.txt"), Write)
	require.Error(t, err)
}

// spec.md §8 property 7: FD accounting never exceeds max, and returns to
// its prior value after scope exit, including under panic.
func TestFDGuardAccounting(t *testing.T) {
	var count atomic.Uint32
	g1, err := TryAllocateFD(&count, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), count.Load())

	g2, err := TryAllocateFD(&count, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), count.Load())

	_, err = TryAllocateFD(&count, 2)
	require.Error(t, err)
	require.Equal(t, uint32(2), count.Load(), "rejected allocation must not leak a count")

	g1.Release()
	require.Equal(t, uint32(1), count.Load())
	g2.Release()
	require.Equal(t, uint32(0), count.Load())
}

func TestFDGuardDoubleReleaseIsNoop(t *testing.T) {
	var count atomic.Uint32
	g, err := TryAllocateFD(&count, 1)
	require.NoError(t, err)
	g.Release()
	g.Release()
	require.Equal(t, uint32(0), count.Load())
}

func TestFDGuardReleasesUnderPanic(t *testing.T) {
	var count atomic.Uint32
	func() {
		g, err := TryAllocateFD(&count, 1)
		require.NoError(t, err)
		defer g.Release()
		defer func() { recover() }()
		panic("boom")
	}()
	require.Equal(t, uint32(0), count.Load())
}
