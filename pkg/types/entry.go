// Package types defines the domain model shared by catalog's storage,
// consensus, and session layers: log entry variants, cluster
// configuration, member and session state.
package types

import "time"

// Index identifies a position in the replicated log. The first valid
// index is 1; 0 means "no entry".
type Index uint64

// Term identifies a leadership epoch.
type Term uint64

// EntryType tags the concrete variant of a logged Entry.
type EntryType uint16

const (
	EntryNoOp EntryType = iota + 1
	EntryConfiguration
	EntryRegister
	EntryConnect
	EntryKeepAlive
	EntryUnregister
	EntryCommand
	EntryHeartbeat
)

func (t EntryType) String() string {
	switch t {
	case EntryNoOp:
		return "NoOp"
	case EntryConfiguration:
		return "Configuration"
	case EntryRegister:
		return "Register"
	case EntryConnect:
		return "Connect"
	case EntryKeepAlive:
		return "KeepAlive"
	case EntryUnregister:
		return "Unregister"
	case EntryCommand:
		return "Command"
	case EntryHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// Header is embedded by every entry variant that can be appended to the
// segmented log.
type Header struct {
	Index Index
	Term  Term
}

// Entry is the tagged-variant contract for everything the log stores.
// Query is deliberately not an Entry: §3 of the spec requires it never be
// logged, so it is represented by QueryRequest instead.
type Entry interface {
	EntryHeader() Header
	EntryType() EntryType
	// IsTombstone reports whether this entry cancels the semantic effect
	// of an earlier entry. Tombstones may only be removed from the log
	// once their index is at or below the cluster's major-compact index.
	IsTombstone() bool
	// IsSnapshottable reports whether this entry's contribution to state
	// is fully captured by a state-machine snapshot, and so may be
	// removed unconditionally once its index is at or below the
	// snapshot index.
	IsSnapshottable() bool
}

// NoOpEntry is appended once per term by a newly elected leader to
// establish leader-completeness and reset session timers.
type NoOpEntry struct {
	Header
	Timestamp time.Time
}

func (e *NoOpEntry) EntryHeader() Header   { return e.Header }
func (e *NoOpEntry) EntryType() EntryType  { return EntryNoOp }
func (e *NoOpEntry) IsTombstone() bool     { return false }
func (e *NoOpEntry) IsSnapshottable() bool { return true }

// ConfigurationEntry captures a full membership snapshot. Its
// ConfigVersion is the Configuration.Version it carries, not
// Header.Index.
type ConfigurationEntry struct {
	Header
	ConfigVersion uint64
	Members       []Member
}

func (e *ConfigurationEntry) EntryHeader() Header   { return e.Header }
func (e *ConfigurationEntry) EntryType() EntryType  { return EntryConfiguration }
func (e *ConfigurationEntry) IsTombstone() bool     { return false }
func (e *ConfigurationEntry) IsSnapshottable() bool { return true }

// RegisterEntry is a session's birth certificate; its commit index
// becomes the session id.
type RegisterEntry struct {
	Header
	ClientID      string
	Timestamp     time.Time
	TimeoutMillis int64
}

func (e *RegisterEntry) EntryHeader() Header   { return e.Header }
func (e *RegisterEntry) EntryType() EntryType  { return EntryRegister }
func (e *RegisterEntry) IsTombstone() bool     { return false }
func (e *RegisterEntry) IsSnapshottable() bool { return true }

// ConnectEntry pins a session to the server address the client is
// currently talking to, so that session events are routed correctly
// after a client reconnects to a different member.
type ConnectEntry struct {
	Header
	Session   Index
	Address   string
	Timestamp time.Time
}

func (e *ConnectEntry) EntryHeader() Header   { return e.Header }
func (e *ConnectEntry) EntryType() EntryType  { return EntryConnect }
func (e *ConnectEntry) IsTombstone() bool     { return false }
func (e *ConnectEntry) IsSnapshottable() bool { return true }

// KeepAliveEntry refreshes session liveness and acknowledges delivered
// responses/events up to the carried watermarks.
type KeepAliveEntry struct {
	Header
	Session         Index
	CommandSeqAck   uint64
	EventVersionAck uint64
	Timestamp       time.Time
}

func (e *KeepAliveEntry) EntryHeader() Header   { return e.Header }
func (e *KeepAliveEntry) EntryType() EntryType  { return EntryKeepAlive }
func (e *KeepAliveEntry) IsTombstone() bool     { return false }
func (e *KeepAliveEntry) IsSnapshottable() bool { return true }

// UnregisterEntry ends a session, either by client request or leader-
// driven expiration. It is a tombstone: it cancels the Register entry and
// every Command/Connect/KeepAlive entry belonging to the session, so it
// may only be discarded once the cluster-wide major-compact index has
// passed it.
type UnregisterEntry struct {
	Header
	Session   Index
	Expired   bool
	Timestamp time.Time
}

func (e *UnregisterEntry) EntryHeader() Header   { return e.Header }
func (e *UnregisterEntry) EntryType() EntryType  { return EntryUnregister }
func (e *UnregisterEntry) IsTombstone() bool     { return true }
func (e *UnregisterEntry) IsSnapshottable() bool { return false }

// CommandEntry is a state-changing operation submitted by a session.
// Tombstone is set by the caller (the session/state-machine boundary)
// when the opaque payload is known to cancel the effect of an earlier
// entry (e.g. a delete); the log itself never inspects the payload.
type CommandEntry struct {
	Header
	Session     Index
	Sequence    uint64
	Timestamp   time.Time
	Payload     []byte
	Consistency ConsistencyLevel
	Tombstone   bool
}

func (e *CommandEntry) EntryHeader() Header   { return e.Header }
func (e *CommandEntry) EntryType() EntryType  { return EntryCommand }
func (e *CommandEntry) IsTombstone() bool     { return e.Tombstone }
func (e *CommandEntry) IsSnapshottable() bool { return true }

// HeartbeatEntry is a periodic availability signal from a stateful
// member, logged by the leader and applied to update member status.
type HeartbeatEntry struct {
	Header
	Member      string
	CommitIndex Index
	Timestamp   time.Time
}

func (e *HeartbeatEntry) EntryHeader() Header   { return e.Header }
func (e *HeartbeatEntry) EntryType() EntryType  { return EntryHeartbeat }
func (e *HeartbeatEntry) IsTombstone() bool     { return false }
func (e *HeartbeatEntry) IsSnapshottable() bool { return true }

// SetHeader assigns the index/term header on an entry in place. The log
// manager calls this once it has decided the entry's final index, since
// callers build entries without knowing their eventual position.
func SetHeader(e Entry, h Header) {
	switch v := e.(type) {
	case *NoOpEntry:
		v.Header = h
	case *ConfigurationEntry:
		v.Header = h
	case *RegisterEntry:
		v.Header = h
	case *ConnectEntry:
		v.Header = h
	case *KeepAliveEntry:
		v.Header = h
	case *UnregisterEntry:
		v.Header = h
	case *CommandEntry:
		v.Header = h
	case *HeartbeatEntry:
		v.Header = h
	}
}

// QueryRequest materializes a read-only operation for apply. Per §3 it is
// never appended to the log.
type QueryRequest struct {
	Session     Index
	Sequence    uint64
	Version     uint64
	Timestamp   time.Time
	Payload     []byte
	Consistency ConsistencyLevel
}

// ConsistencyLevel orders the read guarantees a Command or Query may ask for.
type ConsistencyLevel uint8

const (
	ConsistencyCausal ConsistencyLevel = iota
	ConsistencySequential
	ConsistencyBoundedLinearizable
	ConsistencyLinearizable
)

func (c ConsistencyLevel) String() string {
	switch c {
	case ConsistencyCausal:
		return "CAUSAL"
	case ConsistencySequential:
		return "SEQUENTIAL"
	case ConsistencyBoundedLinearizable:
		return "BOUNDED_LINEARIZABLE"
	case ConsistencyLinearizable:
		return "LINEARIZABLE"
	default:
		return "UNKNOWN"
	}
}
