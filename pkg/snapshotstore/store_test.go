package snapshotstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitMakesSnapshotVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Begin("kv", 10))
	require.NoError(t, s.WriteChunk("kv", 10, 0, []byte("chunk-0")))
	require.NoError(t, s.WriteChunk("kv", 10, 1, []byte("chunk-1")))

	_, ok, err := s.Latest("kv")
	require.NoError(t, err)
	assert.False(t, ok, "uncommitted snapshot must not be visible")

	require.NoError(t, s.Commit("kv", 10, 2))

	meta, ok, err := s.Latest("kv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(10), meta.Index)
	assert.Equal(t, 2, meta.Chunks)

	c0, err := s.ReadChunk("kv", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk-0"), c0)
}

func TestLatestPicksHighestCommittedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, idx := range []uint64{5, 20, 10} {
		require.NoError(t, s.Begin("kv", idx))
		require.NoError(t, s.WriteChunk("kv", idx, 0, []byte("x")))
		require.NoError(t, s.Commit("kv", idx, 1))
	}

	meta, ok, err := s.Latest("kv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(20), meta.Index)
}

func TestReopenDiscardsUnlockedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Begin("kv", 1))
	require.NoError(t, s.WriteChunk("kv", 1, 0, []byte("partial")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Latest("kv")
	require.NoError(t, err)
	assert.False(t, ok, "unlocked snapshot from a crashed write must be discarded on open")
}

func TestDifferentStateMachinesAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Begin("kv-a", 1))
	require.NoError(t, s.WriteChunk("kv-a", 1, 0, []byte("a")))
	require.NoError(t, s.Commit("kv-a", 1, 1))

	_, ok, err := s.Latest("kv-b")
	require.NoError(t, err)
	assert.False(t, ok)
}
