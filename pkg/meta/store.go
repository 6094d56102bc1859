// Package meta implements the server's persistent metadata: the current
// term, the candidate voted for this term, and the last configuration
// installed from the log (§6 meta file format). These three fields must
// survive a crash and be fsynced before the RPC responses that depend on
// them (a vote grant, an applied ConfigurationEntry) are sent.
package meta

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/atomix/catalog/pkg/buffer"
	"github.com/atomix/catalog/pkg/types"
)

// Fixed header layout (§6): term occupies the first 8 bytes, voted_for
// the next 4. Everything from headerSize onward is a length-prefixed
// JSON encoding of the configuration, so the file never needs a fixed
// ceiling on member-list size.
const (
	termOffset      = 0
	votedForOffset  = 8
	configLenOffset = 12
	headerSize      = 16

	noVote = ^uint32(0)
)

// Store persists term, voted_for and the current Configuration.
type Store struct {
	mu  sync.Mutex
	buf buffer.Buffer
}

// Open loads or initializes a meta store at path.
func Open(path string) (*Store, error) {
	isNew := true
	if info, err := os.Stat(path); err == nil && info.Size() >= headerSize {
		isNew = false
	}

	buf, err := buffer.Allocate(path, headerSize)
	if err != nil {
		return nil, fmt.Errorf("meta: open: %w", err)
	}
	s := &Store{buf: buf}
	if isNew {
		if err := s.buf.WriteUint32(votedForOffset, uint32(noVote)); err != nil {
			return nil, fmt.Errorf("meta: init voted_for: %w", err)
		}
		if err := s.buf.Flush(); err != nil {
			return nil, fmt.Errorf("meta: init flush: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying buffer.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Close()
}

// Term returns the persisted current term (0 if never set).
func (s *Store) Term() (types.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.buf.ReadUint64(termOffset)
	if err != nil {
		return 0, fmt.Errorf("meta: read term: %w", err)
	}
	return types.Term(v), nil
}

// SetTerm persists a new current term and flushes before returning, so
// that no RPC depending on the new term can be acknowledged before it is
// durable.
func (s *Store) SetTerm(term types.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.WriteUint64(termOffset, uint64(term)); err != nil {
		return fmt.Errorf("meta: write term: %w", err)
	}
	return s.buf.Flush()
}

// VotedFor returns the candidate id voted for in the current term, or
// ("", false) if no vote has been cast.
func (s *Store) VotedFor() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.buf.ReadUint32(votedForOffset)
	if err != nil {
		return "", false, fmt.Errorf("meta: read voted_for: %w", err)
	}
	if v == uint32(noVote) {
		return "", false, nil
	}
	// voted_for stores an index into the candidate table appended after
	// the configuration; see voteTable below.
	table, err := s.readVoteTableLocked()
	if err != nil {
		return "", false, err
	}
	if int(v) >= len(table) {
		return "", false, nil
	}
	return table[v], true, nil
}

// SetVotedFor persists the candidate voted for in the current term and
// flushes before returning (a vote grant must be durable before the
// response is sent, §7).
func (s *Store) SetVotedFor(candidateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := s.readVoteTableLocked()
	if err != nil {
		return err
	}
	idx := -1
	for i, id := range table {
		if id == candidateID {
			idx = i
			break
		}
	}
	if idx < 0 {
		table = append(table, candidateID)
		idx = len(table) - 1
	}
	if err := s.writeVoteTableLocked(table); err != nil {
		return err
	}
	if err := s.buf.WriteUint32(votedForOffset, uint32(idx)); err != nil {
		return fmt.Errorf("meta: write voted_for: %w", err)
	}
	return s.buf.Flush()
}

// ClearVote resets voted_for for a new term.
func (s *Store) ClearVote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.WriteUint32(votedForOffset, uint32(noVote)); err != nil {
		return fmt.Errorf("meta: clear voted_for: %w", err)
	}
	return s.buf.Flush()
}

// persisted is the on-disk representation of everything beyond the fixed
// header: the vote table (so VotedFor survives across runs without
// re-resolving ids to offsets) and the latest configuration.
type persisted struct {
	VoteTable []string             `json:"vote_table,omitempty"`
	Config    *types.Configuration `json:"configuration,omitempty"`
}

func (s *Store) readBodyLocked() (persisted, error) {
	n, err := s.buf.ReadUint32(configLenOffset)
	if err != nil {
		return persisted{}, fmt.Errorf("meta: read body length: %w", err)
	}
	if n == 0 {
		return persisted{}, nil
	}
	raw, err := s.buf.ReadBytes(headerSize, int(n))
	if err != nil {
		return persisted{}, fmt.Errorf("meta: read body: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return persisted{}, fmt.Errorf("meta: decode body: %w", err)
	}
	return p, nil
}

func (s *Store) writeBodyLocked(p persisted) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("meta: encode body: %w", err)
	}
	if err := s.buf.WriteUint32(configLenOffset, uint32(len(raw))); err != nil {
		return fmt.Errorf("meta: write body length: %w", err)
	}
	if err := s.buf.WriteBytes(headerSize, raw); err != nil {
		return fmt.Errorf("meta: write body: %w", err)
	}
	return nil
}

func (s *Store) readVoteTableLocked() ([]string, error) {
	p, err := s.readBodyLocked()
	if err != nil {
		return nil, err
	}
	return p.VoteTable, nil
}

func (s *Store) writeVoteTableLocked(table []string) error {
	p, err := s.readBodyLocked()
	if err != nil {
		return err
	}
	p.VoteTable = table
	return s.writeBodyLocked(p)
}

// Configuration returns the last configuration persisted via
// SetConfiguration, or the zero Configuration if none has been set.
func (s *Store) Configuration() (types.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.readBodyLocked()
	if err != nil {
		return types.Configuration{}, err
	}
	if p.Config == nil {
		return types.Configuration{}, nil
	}
	return *p.Config, nil
}

// SetConfiguration persists cfg and flushes before returning. Called
// whenever a ConfigurationEntry is applied to the state machine (§4.4),
// so that on restart a server can recover its last known membership
// without replaying the full log.
func (s *Store) SetConfiguration(cfg types.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.readBodyLocked()
	if err != nil {
		return err
	}
	p.Config = &cfg
	if err := s.writeBodyLocked(p); err != nil {
		return err
	}
	return s.buf.Flush()
}
