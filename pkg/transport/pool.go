package transport

import (
	"sync"

	"github.com/atomix/catalog/pkg/consensus"
)

// Pool lazily dials and caches one Client per peer address, and itself
// implements consensus.Transport by routing each call to the right
// connection — the seam pkg/consensus.Server's Transport field is bound
// to in production. Grounded on the same lazy-connection-cache shape as
// Warren's pkg/manager dialing out to worker nodes by address.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.clients, addr)
	}
	return firstErr
}

func (p *Pool) get(addr string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[addr]; ok {
		return c, nil
	}
	c, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	p.clients[addr] = c
	return c, nil
}

func (p *Pool) SendVote(addr string, req consensus.VoteRequest) (consensus.VoteResponse, error) {
	c, err := p.get(addr)
	if err != nil {
		return consensus.VoteResponse{}, err
	}
	return c.SendVote(addr, req)
}

func (p *Pool) SendPoll(addr string, req consensus.PollRequest) (consensus.PollResponse, error) {
	c, err := p.get(addr)
	if err != nil {
		return consensus.PollResponse{}, err
	}
	return c.SendPoll(addr, req)
}

func (p *Pool) SendAppendEntries(addr string, req consensus.AppendEntriesRequest) (consensus.AppendEntriesResponse, error) {
	c, err := p.get(addr)
	if err != nil {
		return consensus.AppendEntriesResponse{}, err
	}
	return c.SendAppendEntries(addr, req)
}

func (p *Pool) SendInstallSnapshot(addr string, req consensus.InstallSnapshotRequest) (consensus.InstallSnapshotResponse, error) {
	c, err := p.get(addr)
	if err != nil {
		return consensus.InstallSnapshotResponse{}, err
	}
	return c.SendInstallSnapshot(addr, req)
}
