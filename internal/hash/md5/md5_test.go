package md5

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestHasherRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := New().Hash(nil)
	require.Error(t, err)
}

func TestShort(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5eb63bbb", Short("hello world", 8))
	require.Len(t, Short("hello world", 0), 32)
	require.Len(t, Short("hello world", 99), 32)
}
