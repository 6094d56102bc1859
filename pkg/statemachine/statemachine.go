// Package statemachine defines the contract the replicated log applies
// committed entries against. Per §1 of the spec the state machine's
// semantics are opaque to the core: the core only needs Apply, Snapshot,
// and Restore. The shape follows Warren's poc/raft/fsm.go FSM
// pattern, generalized from hashicorp/raft's *raft.Log to catalog's own
// entry model.
package statemachine

import (
	"github.com/atomix/catalog/pkg/types"
)

// Result is what a state machine returns for one applied operation: an
// opaque success payload, or an application-level error that the
// session layer reports back to the client as COMMAND_ERROR without
// treating it as a consensus failure.
type Result struct {
	Payload []byte
	Err     error
	// Events are opaque notifications produced while applying this
	// command, delivered to the originating session's current connection
	// (§4.5 "Events"). Nil unless the implementation has something to
	// publish.
	Events [][]byte
}

// StateMachine is the contract the session layer drives. Command and
// Query payloads are opaque byte strings the core never inspects;
// interpreting them is entirely up to the implementation.
type StateMachine interface {
	// Apply executes a committed command against state and returns its
	// result. Called strictly in log order on the apply goroutine.
	Apply(index types.Index, payload []byte) Result
	// Query executes a read-only operation against a consistent view of
	// state without mutating it or advancing any index.
	Query(payload []byte) Result
	// Snapshot captures the state machine's entire state as of the last
	// applied index, for persistence via pkg/snapshotstore.
	Snapshot() ([]byte, error)
	// Restore replaces the state machine's state with a previously
	// captured snapshot.
	Restore(data []byte) error
}
