package meta

import (
	"path/filepath"
	"testing"

	"github.com/atomix/catalog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshStoreHasNoTermOrVote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	term, err := s.Term()
	require.NoError(t, err)
	assert.Equal(t, types.Term(0), term)

	_, ok, err := s.VotedFor()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetTermAndVoteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetTerm(5))
	require.NoError(t, s.SetVotedFor("node-2"))

	term, err := s.Term()
	require.NoError(t, err)
	assert.Equal(t, types.Term(5), term)

	id, ok, err := s.VotedFor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-2", id)
}

func TestClearVoteOnNewTerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetVotedFor("node-1"))
	require.NoError(t, s.SetTerm(2))
	require.NoError(t, s.ClearVote())

	_, ok, err := s.VotedFor()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfigurationPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	s, err := Open(path)
	require.NoError(t, err)

	cfg := types.Configuration{
		Version: 7,
		Members: []types.Member{
			{ID: "a", Type: types.MemberActive, ServerAddress: "127.0.0.1:9000"},
			{ID: "b", Type: types.MemberPassive, ServerAddress: "127.0.0.1:9001"},
		},
	}
	require.NoError(t, s.SetConfiguration(cfg))
	require.NoError(t, s.SetTerm(3))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Configuration()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)

	term, err := reopened.Term()
	require.NoError(t, err)
	assert.Equal(t, types.Term(3), term)
}

func TestVoteSurvivesConfigurationUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetVotedFor("node-9"))
	require.NoError(t, s.SetConfiguration(types.Configuration{Version: 1}))

	id, ok, err := s.VotedFor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node-9", id)
}
