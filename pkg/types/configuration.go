package types

// MemberType classifies how a cluster member participates in consensus.
// catalog follows the three-tier model (Active/Passive/Reserve) rather
// than the older Active/Passive-only scheme; see DESIGN.md.
type MemberType uint8

const (
	MemberActive MemberType = iota
	MemberPassive
	MemberReserve
	MemberInactive
)

func (t MemberType) String() string {
	switch t {
	case MemberActive:
		return "active"
	case MemberPassive:
		return "passive"
	case MemberReserve:
		return "reserve"
	case MemberInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Stateful members hold replicated log and state-machine state and so
// participate in global-index computation: Active and Passive members,
// the same set StatefulMembers returns.
func (t MemberType) Stateful() bool { return t == MemberActive || t == MemberPassive }

// Member describes one server in the cluster configuration.
type Member struct {
	ID            string
	Type          MemberType
	ServerAddress string
	ClientAddress string
}

// Configuration is a cluster membership snapshot. Version is a counter
// that WithMember and WithoutMember raise by one per change (Bootstrap
// starts it at 1); it is not the log index of the ConfigurationEntry
// that carries it.
type Configuration struct {
	Version uint64
	Members []Member
}

// Get returns the member with the given id, if present.
func (c Configuration) Get(id string) (Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// VotingMembers returns the Active members that participate in elections
// and form the commit quorum.
func (c Configuration) VotingMembers() []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Type == MemberActive {
			out = append(out, m)
		}
	}
	return out
}

// StatefulMembers returns every member (Active or Passive) that holds
// replicated state and therefore bounds the global index and tombstone
// removal. Reserve members have not yet received a log; Inactive members
// have left the cluster.
func (c Configuration) StatefulMembers() []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Type == MemberActive || m.Type == MemberPassive {
			out = append(out, m)
		}
	}
	return out
}

// Quorum is the number of Active votes required for a majority.
func (c Configuration) Quorum() int {
	return len(c.VotingMembers())/2 + 1
}

// WithMember returns a copy of the configuration with the given member
// added or replaced, at the next version.
func (c Configuration) WithMember(m Member) Configuration {
	members := make([]Member, 0, len(c.Members)+1)
	replaced := false
	for _, existing := range c.Members {
		if existing.ID == m.ID {
			members = append(members, m)
			replaced = true
			continue
		}
		members = append(members, existing)
	}
	if !replaced {
		members = append(members, m)
	}
	return Configuration{Version: c.Version + 1, Members: members}
}

// WithoutMember returns a copy of the configuration with the given
// member id removed, at the next version.
func (c Configuration) WithoutMember(id string) Configuration {
	members := make([]Member, 0, len(c.Members))
	for _, existing := range c.Members {
		if existing.ID != id {
			members = append(members, existing)
		}
	}
	return Configuration{Version: c.Version + 1, Members: members}
}
