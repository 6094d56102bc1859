package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/atomix/catalog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveToApplied advances commit_index to the leader's own log tail and
// applies everything committed so far, standing in for the background
// replication/apply loop a running node would have. It polls briefly
// since a concurrently running proposal may not have appended its entry
// yet.
func driveToApplied(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		before := s.commitIndex
		s.advanceCommitIndexLocked()
		after := s.commitIndex
		s.mu.Unlock()
		require.NoError(t, s.ApplyCommitted())
		if after > before || time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProposeRegisterThenCommandRoundTrips(t *testing.T) {
	transport := newFakeTransport()
	s := newTestServer(t, "n1", transport)
	transport.register("n1", s)
	require.NoError(t, s.Bootstrap())
	driveToApplied(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	regCh := make(chan error, 1)
	var sessionID types.Index
	go func() {
		sess, err := s.ProposeRegister(ctx, "client-1", time.Minute)
		if err == nil {
			sessionID = sess.ID
		}
		regCh <- err
	}()
	driveToApplied(t, s)
	require.NoError(t, <-regCh)
	assert.NotZero(t, sessionID)

	payload := []byte(`{"op":"set","key":"k","value":"v"}`)
	cmdCh := make(chan error, 1)
	go func() {
		_, err := s.ProposeCommand(ctx, sessionID, 1, payload, types.ConsistencyCausal, false)
		cmdCh <- err
	}()
	driveToApplied(t, s)
	require.NoError(t, <-cmdCh)
}

func TestQueryCausalReturnsImmediatelyAfterApply(t *testing.T) {
	transport := newFakeTransport()
	s := newTestServer(t, "n1", transport)
	transport.register("n1", s)
	require.NoError(t, s.Bootstrap())
	driveToApplied(t, s)

	ctx := context.Background()
	regCh := make(chan types.Index, 1)
	errCh := make(chan error, 1)
	go func() {
		sess, err := s.ProposeRegister(ctx, "client-1", time.Minute)
		if err != nil {
			errCh <- err
			return
		}
		regCh <- sess.ID
		errCh <- nil
	}()
	driveToApplied(t, s)
	require.NoError(t, <-errCh)
	sessionID := <-regCh

	out, err := s.Query(types.QueryRequest{
		Session:     sessionID,
		Sequence:    0,
		Consistency: types.ConsistencyCausal,
		Payload:     []byte(`{"op":"get","key":"missing"}`),
	})
	require.NoError(t, err)
	assert.True(t, out.Ready)
}

func TestProposeCommandFailsWhenNotLeader(t *testing.T) {
	transport := newFakeTransport()
	s := newTestServer(t, "n2", transport)
	transport.register("n2", s)

	_, err := s.ProposeCommand(context.Background(), 1, 1, nil, types.ConsistencyCausal, false)
	assert.Error(t, err)
}
