/*
Package client provides a Go client library for catalog clusters.

The client package wraps pkg/transport's wire client with session
lifecycle management: registering a session, pinning it to the member
currently being talked to, keeping it alive, retrying commands against a
different known address when the one dialed is not the leader, and
delivering events in (version, sequence) order (§4.5, §6).

# Architecture

	┌──────────────────── APPLICATION CODE ────────────────────────┐
	│                                                                │
	│  import "github.com/atomix/catalog/pkg/client"                │
	│                                                                │
	│  c, err := client.New([]string{"node1:8100", "node2:8100"})   │
	│  resp, err := c.Command(ctx, payload, types.ConsistencyLinearizable) │
	│                                                                │
	└──────────────────┬─────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ────────────────────────────┐
	│                                                                 │
	│  ┌────────────────────────────────────────────────┐           │
	│  │            Client                               │           │
	│  │  - session register/connect/keep-alive          │           │
	│  │  - command sequence tracking, at-most-once       │           │
	│  │  - leader rediscovery across known addresses     │           │
	│  │  - ordered event delivery                        │           │
	│  └──────────────────┬──────────────────────────────┘           │
	│                     │                                           │
	│  ┌──────────────────▼──────────────────────────────┐           │
	│  │        pkg/transport.Client (gRPC, JSON codec)    │           │
	│  └──────────────────┬──────────────────────────────┘           │
	└─────────────────────┼──────────────────────────────────────────┘
	                      │
	                      ▼
	               catalog cluster member

Grounded on Warren's pkg/client.Client ("wraps the Warren gRPC
client for easy CLI usage"), generalized from Warren's single-manager
mTLS dial to a multi-address session client that rotates across members
to find the current leader, since a catalog client has no fixed manager
address to dial and no certificate bootstrap step.

# Usage

Creating a client and registering a session:

	c, err := client.New([]string{"node1:8100", "node2:8100", "node3:8100"})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

Submitting a command:

	resp, err := c.Command(ctx, []byte("set foo bar"), types.ConsistencyLinearizable)
	if err != nil {
		log.Fatal(err)
	}

Running a query:

	resp, err := c.Query(ctx, []byte("get foo"), types.ConsistencySequential)

Receiving events:

	for ev := range c.Events() {
		fmt.Printf("event v=%d seq=%d: %s\n", ev.Version, ev.Sequence, ev.Payload)
	}

# Leader rediscovery

Every RPC carries consensus.Status; a StatusError paired with
types.ErrorNoLeader means the dialed member either isn't the leader or
doesn't know who is. The client rotates to the next address in its list
and retries, the same "not the leader, current leader is at: X" recovery
Warren's client documents, generalized from a single redirect hint
to address rotation since catalog's wire protocol does not echo the
leader's address back on rejection.

# Thread safety

A Client is safe for concurrent Command/Query calls; the session's
sequence counter and keep-alive loop are guarded by an internal mutex.
*/
package client
