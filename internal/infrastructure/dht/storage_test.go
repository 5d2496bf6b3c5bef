package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageBasicPutGet(t *testing.T) {
	s := NewLocalStorage(time.Hour)
	s.Put("key1", []byte("value1"), 0)

	v, ok := s.Get("key1")
	require.True(t, ok)
	require.Equal(t, []byte("value1"), v)

	_, ok = s.Get("nonexistent")
	require.False(t, ok)
}

func TestLocalStorageExpiration(t *testing.T) {
	s := NewLocalStorage(100 * time.Millisecond)
	s.Put("key1", []byte("value1"), 10*time.Millisecond)
	require.True(t, s.Contains("key1"))

	time.Sleep(30 * time.Millisecond)
	require.False(t, s.Contains("key1"))
	_, ok := s.Get("key1")
	require.False(t, ok)
}

func TestLocalStorageCleanupAndStats(t *testing.T) {
	s := NewLocalStorage(50 * time.Millisecond)
	s.Put("key1", []byte("value1"), 0)
	s.Put("key2", []byte("value2"), time.Hour)

	time.Sleep(100 * time.Millisecond)

	removed := s.Cleanup()
	require.Equal(t, 1, removed)

	stats := s.StatsSnapshot()
	require.Equal(t, 1, stats.TotalKeys)
	require.Equal(t, 0, stats.ExpiredKeys)
	require.Equal(t, 1, stats.ActiveKeys)
}

func TestLocalStorageDelete(t *testing.T) {
	s := NewLocalStorage(time.Hour)
	s.Put("key1", []byte("value1"), 0)
	require.True(t, s.Delete("key1"))
	require.False(t, s.Delete("key1"))
}

func TestLocalStorageKeysWithPrefix(t *testing.T) {
	s := NewLocalStorage(time.Hour)
	s.Put("task/a", []byte("1"), 0)
	s.Put("task/b", []byte("2"), 0)
	s.Put("other", []byte("3"), 0)

	require.ElementsMatch(t, []string{"task/a", "task/b"}, s.KeysWithPrefix("task/"))
}
