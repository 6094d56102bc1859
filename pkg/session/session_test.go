package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/atomix/catalog/pkg/statemachine"
	"github.com/atomix/catalog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvAdapter bridges statemachine.KV (which returns statemachine.Result)
// to this package's local StateMachine interface.
type kvAdapter struct{ kv *statemachine.KV }

func (a kvAdapter) Apply(index types.Index, payload []byte) Result {
	r := a.kv.Apply(index, payload)
	return Result{Payload: r.Payload, Err: r.Err, Events: r.Events}
}

func (a kvAdapter) Query(payload []byte) Result {
	r := a.kv.Query(payload)
	return Result{Payload: r.Payload, Err: r.Err}
}

func (a kvAdapter) Snapshot() ([]byte, error) { return a.kv.Snapshot() }

func (a kvAdapter) Restore(data []byte) error { return a.kv.Restore(data) }

func setCmd(t *testing.T, key, value string) []byte {
	t.Helper()
	b, err := json.Marshal(statemachine.KVCommand{Op: "set", Key: key, Value: value})
	require.NoError(t, err)
	return b
}

func getCmd(t *testing.T, key string) []byte {
	t.Helper()
	b, err := json.Marshal(statemachine.KVCommand{Op: "get", Key: key})
	require.NoError(t, err)
	return b
}

func newTestRegistry() (*Registry, *statemachine.KV) {
	kv := statemachine.NewKV()
	return NewRegistry(kvAdapter{kv: kv}), kv
}

func TestRegisterAssignsSessionIDFromEntryIndex(t *testing.T) {
	r, _ := newTestRegistry()
	s := r.Register(&types.RegisterEntry{
		Header:        types.Header{Index: 7, Term: 1},
		ClientID:      "client-a",
		Timestamp:     time.Unix(0, 0),
		TimeoutMillis: 5000,
	})
	assert.Equal(t, types.Index(7), s.ID)
	assert.Equal(t, types.SessionOpen, s.State)

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestCommandInOrderAppliesAndCaches(t *testing.T) {
	r, kv := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	outcome, err := r.ApplyCommand(&types.CommandEntry{
		Header: types.Header{Index: 2}, Session: 1, Sequence: 1,
		Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "v"),
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	require.NoError(t, outcome.Result.Err)

	v, ok := kv.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestDuplicateCommandServedFromCacheWithoutReapplying(t *testing.T) {
	r, kv := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	entry := &types.CommandEntry{
		Header: types.Header{Index: 2}, Session: 1, Sequence: 1,
		Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "v1"),
	}
	_, err := r.ApplyCommand(entry)
	require.NoError(t, err)

	// Resubmit the same sequence with a different payload; it must be
	// served from cache, not reapplied (at-most-once semantics).
	dup := &types.CommandEntry{
		Header: types.Header{Index: 3}, Session: 1, Sequence: 1,
		Timestamp: time.Unix(2, 0), Payload: setCmd(t, "k", "v2"),
	}
	outcome, err := r.ApplyCommand(dup)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	v, _ := kv.Get("k")
	assert.Equal(t, "v1", v, "duplicate must not re-invoke the state machine")
}

func TestOutOfOrderCommandIsQueuedNotApplied(t *testing.T) {
	r, kv := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	future := &types.CommandEntry{
		Header: types.Header{Index: 2}, Session: 1, Sequence: 2,
		Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "v2"),
	}
	outcome, err := r.ApplyCommand(future)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)

	_, ok := kv.Get("k")
	assert.False(t, ok, "out-of-order command must not reach the state machine")
}

func TestFillingSequenceGapDrainsPendingCommands(t *testing.T) {
	r, kv := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	_, err := r.ApplyCommand(&types.CommandEntry{
		Header: types.Header{Index: 3}, Session: 1, Sequence: 2,
		Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "second"),
	})
	require.NoError(t, err)

	_, err = r.ApplyCommand(&types.CommandEntry{
		Header: types.Header{Index: 2}, Session: 1, Sequence: 1,
		Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "first"),
	})
	require.NoError(t, err)

	v, ok := kv.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", v, "queued sequence 2 must drain once sequence 1 fills the gap")

	s, _ := r.Get(1)
	assert.Equal(t, uint64(3), s.NextSequence)
}

func TestKeepAliveTrimsResponseCache(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})
	_, err := r.ApplyCommand(&types.CommandEntry{Header: types.Header{Index: 2}, Session: 1, Sequence: 1, Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "v")})
	require.NoError(t, err)

	s, _ := r.Get(1)
	require.Len(t, s.ResponseCache, 1)

	_, err = r.KeepAlive(&types.KeepAliveEntry{
		Header: types.Header{Index: 3}, Session: 1, CommandSeqAck: 1, Timestamp: time.Unix(2, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, s.ResponseCache)
}

func TestSweepSuspectsMarksExpiredSessions(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 1000, Timestamp: time.Unix(0, 0)})

	// Advance the deterministic clock well past the timeout via a
	// committed entry's timestamp.
	_, err := r.ApplyCommand(&types.CommandEntry{
		Header: types.Header{Index: 2}, Session: 1, Sequence: 1,
		Timestamp: time.Unix(0, 0), Payload: setCmd(t, "k", "v"),
	})
	require.NoError(t, err)
	r.advanceClock(time.Unix(10, 0))

	newly, already := r.SweepSuspects()
	require.Len(t, newly, 1)
	assert.Empty(t, already)
	assert.Equal(t, types.SessionSuspect, newly[0].State)

	newly2, already2 := r.SweepSuspects()
	assert.Empty(t, newly2)
	require.Len(t, already2, 1)
}

func TestUnregisterRemovesSession(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	require.NoError(t, r.Unregister(&types.UnregisterEntry{Header: types.Header{Index: 2}, Session: 1, Expired: true, Timestamp: time.Unix(1, 0)}))

	_, ok := r.Get(1)
	assert.False(t, ok)
}

func TestQueryCausalReturnsImmediately(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})
	_, err := r.ApplyCommand(&types.CommandEntry{Header: types.Header{Index: 2}, Session: 1, Sequence: 1, Timestamp: time.Unix(1, 0), Payload: setCmd(t, "k", "v")})
	require.NoError(t, err)

	outcome, err := r.ApplyQuery(types.QueryRequest{
		Session: 1, Sequence: 1, Version: 0, Payload: getCmd(t, "k"), Consistency: types.ConsistencyCausal,
	}, 2, false)
	require.NoError(t, err)
	assert.True(t, outcome.Ready)
	assert.Equal(t, "v", string(outcome.Result.Payload))
}

func TestQuerySequentialWaitsForVersion(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	outcome, err := r.ApplyQuery(types.QueryRequest{
		Session: 1, Sequence: 0, Version: 100, Payload: getCmd(t, "k"), Consistency: types.ConsistencySequential,
	}, 0, false)
	require.NoError(t, err)
	assert.False(t, outcome.Ready, "query must wait until the state machine reaches the requested version")
}

func TestQueryBoundedLinearizableRequiresRecentMajorityContact(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	outcome, err := r.ApplyQuery(types.QueryRequest{
		Session: 1, Payload: getCmd(t, "k"), Consistency: types.ConsistencyBoundedLinearizable,
	}, 0, false)
	require.NoError(t, err)
	assert.False(t, outcome.Ready)

	outcome, err = r.ApplyQuery(types.QueryRequest{
		Session: 1, Payload: getCmd(t, "k"), Consistency: types.ConsistencyBoundedLinearizable,
	}, 0, true)
	require.NoError(t, err)
	assert.True(t, outcome.Ready)
}

func TestEventQueueOrdersAndAcksByVersion(t *testing.T) {
	r, _ := newTestRegistry()
	s := r.Register(&types.RegisterEntry{Header: types.Header{Index: 1}, ClientID: "a", TimeoutMillis: 5000, Timestamp: time.Unix(0, 0)})

	s.PublishEvent(5, []byte("e1"))
	s.PublishEvent(3, []byte("e2"))

	events := s.Events()
	require.Len(t, events, 2)
	assert.LessOrEqual(t, events[0].Version, events[1].Version)

	s.events.ack(3)
	remaining := s.Events()
	require.Len(t, remaining, 1)
	assert.Equal(t, uint64(5), remaining[0].Version)
}
