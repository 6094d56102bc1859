package statemachine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atomix/catalog/pkg/types"
)

// KVCommand is the opaque payload carried by CommandEntry/QueryRequest
// for the reference key-value machine, mirroring Warren's
// poc/raft/fsm.go Command shape ({Op, Key, Value}) generalized with a
// "get" query op.
type KVCommand struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KV is a reference StateMachine implementation used by catalog's tests
// and examples. Set/Delete are commands; Get is a query.
type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewKV creates an empty key-value state machine.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (f *KV) Apply(_ types.Index, payload []byte) Result {
	var cmd KVCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Result{Err: fmt.Errorf("kv: decode command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "set":
		f.data[cmd.Key] = cmd.Value
		return Result{Events: [][]byte{payload}}
	case "delete":
		delete(f.data, cmd.Key)
		return Result{}
	default:
		return Result{Err: fmt.Errorf("kv: unknown operation %q", cmd.Op)}
	}
}

func (f *KV) Query(payload []byte) Result {
	var cmd KVCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Result{Err: fmt.Errorf("kv: decode query: %w", err)}
	}
	if cmd.Op != "get" {
		return Result{Err: fmt.Errorf("kv: unknown query %q", cmd.Op)}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.data[cmd.Key]
	if !ok {
		return Result{}
	}
	return Result{Payload: []byte(v)}
}

func (f *KV) Snapshot() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return json.Marshal(f.data)
}

func (f *KV) Restore(data []byte) error {
	m := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("kv: restore: %w", err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = m
	return nil
}

// Get is a test convenience that bypasses the Query path.
func (f *KV) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

// IsTombstone reports whether a KV command cancels an earlier command's
// effect (a delete), for callers building CommandEntry.Tombstone at the
// session boundary.
func (c KVCommand) IsTombstone() bool { return c.Op == "delete" }
