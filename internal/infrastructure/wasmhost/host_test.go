package wasmhost

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cis-project/cis/internal/domain/memory"
)

func TestValidateMagicAcceptsWasmHeader(t *testing.T) {
	require.NoError(t, ValidateMagic([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}))
}

func TestValidateMagicRejectsGarbage(t *testing.T) {
	require.Error(t, ValidateMagic([]byte("not wasm")))
	require.Error(t, ValidateMagic([]byte{0x00, 0x61}))
}

func TestPackPtrLenRoundTrips(t *testing.T) {
	word := packPtrLen(0x1000, 42)
	require.Equal(t, uint32(0x1000), uint32(word))
	require.Equal(t, uint32(42), uint32(word>>32))
}

func TestStoreWriterSetThenDelete(t *testing.T) {
	store := memory.NewStore("node-a")
	w := StoreWriter{Store: store, Domain: memory.Public}

	require.NoError(t, w.Set("k1", []byte("v1")))
	entry, ok := store.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), entry.Value)

	existed, err := w.Delete("k1")
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = w.Delete("k1")
	require.NoError(t, err)
	require.False(t, existed)
}
