package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/logstore"
	"github.com/atomix/catalog/pkg/meta"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/statemachine"
	"github.com/stretchr/testify/require"
)

func TestRandomizedElectionTimeoutStaysWithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := randomizedElectionTimeout()
		require.GreaterOrEqual(t, d, 150*time.Millisecond)
		require.Less(t, d, 300*time.Millisecond)
	}
}

type noopTransport struct{}

func (noopTransport) SendVote(string, consensus.VoteRequest) (consensus.VoteResponse, error) {
	return consensus.VoteResponse{}, nil
}
func (noopTransport) SendPoll(string, consensus.PollRequest) (consensus.PollResponse, error) {
	return consensus.PollResponse{}, nil
}
func (noopTransport) SendAppendEntries(string, consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error) {
	return consensus.AppendEntriesResponse{}, nil
}
func (noopTransport) SendInstallSnapshot(string, consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
	return consensus.InstallSnapshotResponse{}, nil
}

func TestDriverAppliesCommittedEntriesOnATick(t *testing.T) {
	l := logstore.New(0, 0)
	m, err := meta.Open(filepath.Join(t.TempDir(), "n1.meta"))
	require.NoError(t, err)
	reg := session.NewRegistry(kvAdapter{kv: statemachine.NewKV()})
	s, err := consensus.New("n1", l, m, reg, nil, noopTransport{})
	require.NoError(t, err)
	require.NoError(t, s.Bootstrap())

	d := NewDriver(s)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		return s.Status().LastApplied > 0 && s.Role() == consensus.RoleLeader
	}, time.Second, 5*time.Millisecond)
}
