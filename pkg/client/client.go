package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/transport"
	"github.com/atomix/catalog/pkg/types"
	"github.com/google/uuid"
)

// DefaultSessionTimeout bounds how long a session survives without a
// keep-alive before the cluster expires it (§4.5 "Session lifecycle").
const DefaultSessionTimeout = 30 * time.Second

// keepAliveInterval is how often the background loop refreshes session
// liveness and drains pending events, a fraction of DefaultSessionTimeout
// so a single missed round trip does not expire the session.
const keepAliveInterval = 5 * time.Second

// Client wraps a catalog client session: a single logical connection
// to the cluster that survives the current member losing leadership.
// Grounded on Warren's pkg/client.Client "wraps the gRPC client
// for easy CLI usage" shape, generalized from one fixed manager address
// to a rotating list of cluster members.
type Client struct {
	mu sync.Mutex

	addrs   []string
	cur     int
	conn    *transport.Client
	curAddr string

	clientID  string
	sessionID types.Index
	seq       uint64

	events    chan session.Event
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New registers a new session against the first reachable member in
// addrs, falling back to the next address if a dial or register fails.
func New(addrs []string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("client: at least one member address is required")
	}
	c := &Client{
		addrs:    addrs,
		clientID: uuid.New().String(),
		events:   make(chan session.Event, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := c.register(); err != nil {
		return nil, err
	}
	go c.keepAliveLoop()
	return c, nil
}

// Close stops the keep-alive loop and releases the session.
func (c *Client) Close() error {
	close(c.stopCh)
	<-c.doneCh

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.conn.Unregister(ctx, c.sessionID)
	close(c.events)
	return c.conn.Close()
}

// Events returns the channel events are delivered on, in ascending
// (version, sequence) order per §4.5 "Events".
func (c *Client) Events() <-chan session.Event {
	return c.events
}

// register dials the current address, opens a session, and pins it to
// that connection, rotating through addrs until one succeeds.
func (c *Client) register() error {
	var lastErr error
	for i := 0; i < len(c.addrs); i++ {
		addr := c.addrs[c.cur]
		conn, err := transport.Dial(addr)
		if err != nil {
			lastErr = err
			c.advance()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp, err := conn.Register(ctx, c.clientID, DefaultSessionTimeout)
		cancel()
		if err != nil || resp.Status != consensus.StatusOK {
			conn.Close()
			lastErr = registerErr(err, resp.Error)
			c.advance()
			continue
		}
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		connResp, err := conn.Connect(ctx, resp.SessionID, addr)
		cancel()
		if err != nil || connResp.Status != consensus.StatusOK {
			conn.Close()
			lastErr = registerErr(err, connResp.Error)
			c.advance()
			continue
		}
		c.conn = conn
		c.curAddr = addr
		c.sessionID = resp.SessionID
		c.seq = 0
		return nil
	}
	return fmt.Errorf("client: could not register a session against any of %v: %w", c.addrs, lastErr)
}

func registerErr(err error, kind types.ErrorKind) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("client: %s", kind)
}

func (c *Client) advance() {
	c.cur = (c.cur + 1) % len(c.addrs)
}

// reconnect drops the current connection and registers a fresh session
// against the next known address, used when the dialed member reports
// it has no leader or the session has been forgotten.
func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.advance()
	return c.register()
}

// Command submits a state-changing operation under this session's
// sequence discipline, transparently reconnecting if the current member
// is not the leader (§6 "Command").
func (c *Client) Command(ctx context.Context, payload []byte, consistency types.ConsistencyLevel) (transport.CommandResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < len(c.addrs)+1; attempt++ {
		c.seq++
		resp, err := c.conn.Command(ctx, c.sessionID, c.seq, payload, consistency, false)
		if err == nil && !needsReconnect(resp.Status, resp.Error) {
			c.deliverLocked(resp.Events)
			return resp, nil
		}
		c.seq--
		if rerr := c.reconnect(); rerr != nil {
			return transport.CommandResponse{}, rerr
		}
	}
	return transport.CommandResponse{}, fmt.Errorf("client: command failed against every known member")
}

// Query evaluates a read-only request at the requested consistency
// level (§6 "Query").
func (c *Client) Query(ctx context.Context, payload []byte, consistency types.ConsistencyLevel) (transport.QueryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := types.QueryRequest{Session: c.sessionID, Payload: payload, Consistency: consistency}
	for attempt := 0; attempt < len(c.addrs)+1; attempt++ {
		resp, err := c.conn.Query(ctx, req)
		if err == nil && !needsReconnect(resp.Status, resp.Error) {
			return resp, nil
		}
		if rerr := c.reconnect(); rerr != nil {
			return transport.QueryResponse{}, rerr
		}
	}
	return transport.QueryResponse{}, fmt.Errorf("client: query failed against every known member")
}

func needsReconnect(status consensus.Status, kind types.ErrorKind) bool {
	return status != consensus.StatusOK && (kind == types.ErrorNoLeader || kind == types.ErrorUnknownSession)
}

// deliverLocked pushes newly-seen events onto the events channel. The
// caller must hold c.mu.
func (c *Client) deliverLocked(wire []transport.WireEvent) {
	for _, w := range wire {
		select {
		case c.events <- session.Event{Version: w.Version, Sequence: w.Sequence, Payload: w.Payload}:
		default:
			// A full channel means the application isn't draining
			// Events(); keep-alive acks still advance on the server
			// side, so drop rather than block the command path.
		}
	}
}

// keepAliveLoop refreshes session liveness and drains any events the
// last command or keep-alive did not already deliver (§4.5 "Keep-alive").
func (c *Client) keepAliveLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var eventAck uint64
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			resp, err := c.conn.KeepAlive(ctx, c.sessionID, c.seq, eventAck)
			cancel()
			if err != nil || needsReconnect(resp.Status, resp.Error) {
				_ = c.reconnect()
				c.mu.Unlock()
				continue
			}
			c.deliverLocked(resp.Events)
			for _, w := range resp.Events {
				if w.Version > eventAck {
					eventAck = w.Version
				}
			}
			c.mu.Unlock()
		}
	}
}
