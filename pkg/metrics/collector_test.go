package metrics

import (
	"path/filepath"
	"testing"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/logstore"
	metastore "github.com/atomix/catalog/pkg/meta"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/statemachine"
	"github.com/atomix/catalog/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

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

type kvAdapter struct{ kv *statemachine.KV }

func (a kvAdapter) Apply(index types.Index, payload []byte) session.Result {
	r := a.kv.Apply(index, payload)
	return session.Result{Payload: r.Payload, Err: r.Err, Events: r.Events}
}

func (a kvAdapter) Query(payload []byte) session.Result {
	r := a.kv.Query(payload)
	return session.Result{Payload: r.Payload, Err: r.Err}
}

func (a kvAdapter) Snapshot() ([]byte, error) { return a.kv.Snapshot() }

func (a kvAdapter) Restore(data []byte) error { return a.kv.Restore(data) }

func newTestServer(t *testing.T) (*consensus.Server, *session.Registry) {
	t.Helper()
	l := logstore.New(0, 0)
	m, err := metastore.Open(filepath.Join(t.TempDir(), "n1.meta"))
	require.NoError(t, err)
	reg := session.NewRegistry(kvAdapter{kv: statemachine.NewKV()})
	s, err := consensus.New("n1", l, m, reg, nil, noopTransport{})
	require.NoError(t, err)
	return s, reg
}

func TestCollectorSetsConsensusGaugesFromStatus(t *testing.T) {
	s, reg := newTestServer(t)
	require.NoError(t, s.Bootstrap())

	c := NewCollector(s, reg)
	c.collect()

	status := s.Status()
	require.Equal(t, float64(status.Term), testutil.ToFloat64(Term))
	require.Equal(t, float64(1), testutil.ToFloat64(IsLeader))
}

func TestCollectorReportsActiveSessionCount(t *testing.T) {
	s, reg := newTestServer(t)
	require.NoError(t, s.Bootstrap())

	c := NewCollector(s, reg)
	c.collect()
	before := testutil.ToFloat64(SessionsActive)

	reg.Register(&types.RegisterEntry{Header: types.Header{Index: 99, Term: 1}, ClientID: "c1"})
	c.collect()
	after := testutil.ToFloat64(SessionsActive)

	require.Equal(t, before+1, after)
}
