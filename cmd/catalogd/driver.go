package main

import (
	"math/rand"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	catalog_log "github.com/atomix/catalog/pkg/log"
	"github.com/rs/zerolog"
)

// Driver owns the background goroutines a consensus.Server needs but
// does not schedule itself: the replication heartbeat, the apply pump,
// the election timer, compaction, session expiration, and snapshotting.
// pkg/consensus exposes only the algorithmic steps (ReplicateToPeer,
// ApplyCommitted, StartElection, RunCompaction, SweepExpiredSessions,
// TakeSnapshot); ticking them
// is the node process's job, kept separate from the algorithm itself
// the same way a reconciler loop is kept separate from the state it
// reconciles.
type Driver struct {
	server *consensus.Server
	logger zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDriver creates a Driver for server. Call Start to begin ticking.
func NewDriver(server *consensus.Server) *Driver {
	return &Driver{
		server: server,
		logger: catalog_log.WithComponent("driver"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches all of the driver's tickers in one goroutine and
// returns immediately.
func (d *Driver) Start() {
	go d.run()
}

// Stop signals the driver to exit and waits for it to do so.
func (d *Driver) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Driver) run() {
	defer close(d.doneCh)

	applyTicker := time.NewTicker(10 * time.Millisecond)
	defer applyTicker.Stop()
	heartbeatTicker := time.NewTicker(50 * time.Millisecond)
	defer heartbeatTicker.Stop()
	electionTicker := time.NewTicker(25 * time.Millisecond)
	defer electionTicker.Stop()
	compactionTicker := time.NewTicker(500 * time.Millisecond)
	defer compactionTicker.Stop()
	expirationTicker := time.NewTicker(100 * time.Millisecond)
	defer expirationTicker.Stop()
	snapshotTicker := time.NewTicker(5 * time.Second)
	defer snapshotTicker.Stop()

	electionTimeout := randomizedElectionTimeout()

	for {
		select {
		case <-d.stopCh:
			return
		case <-applyTicker.C:
			if err := d.server.ApplyCommitted(); err != nil {
				d.logger.Error().Err(err).Msg("apply committed entries")
			}
		case <-heartbeatTicker.C:
			if d.server.Role() != consensus.RoleLeader {
				continue
			}
			for _, peerID := range d.server.PeerIDs() {
				go func(id string) {
					if err := d.server.ReplicateToPeer(id); err != nil {
						d.logger.Warn().Err(err).Str("peer", id).Msg("replicate to peer")
					}
				}(peerID)
			}
			// A single-member cluster has no peer RPCs to advance
			// commit_index from; recompute it directly every tick.
			d.server.AdvanceCommitIndex()
		case <-electionTicker.C:
			role := d.server.Role()
			if role == consensus.RoleLeader || role == consensus.RolePassive ||
				role == consensus.RoleReserve || role == consensus.RoleInactive {
				continue
			}
			if time.Since(d.server.LastContact()) < electionTimeout {
				continue
			}
			electionTimeout = randomizedElectionTimeout()
			won, err := d.server.StartElection()
			if err != nil {
				d.logger.Error().Err(err).Msg("start election")
				continue
			}
			if won {
				d.logger.Info().Uint64("term", uint64(d.server.Term())).Msg("won election, became leader")
			}
		case <-compactionTicker.C:
			if err := d.server.RunCompaction(); err != nil {
				d.logger.Warn().Err(err).Msg("run compaction")
			}
		case <-expirationTicker.C:
			if err := d.server.SweepExpiredSessions(); err != nil {
				d.logger.Warn().Err(err).Msg("sweep expired sessions")
			}
		case <-snapshotTicker.C:
			if err := d.server.TakeSnapshot(); err != nil {
				d.logger.Warn().Err(err).Msg("take snapshot")
			}
		}
	}
}

// randomizedElectionTimeout staggers election timers across members
// (§4.4 "Election") so a single partition doesn't make every follower
// become a candidate at once.
func randomizedElectionTimeout() time.Duration {
	const base = 150 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(150 * time.Millisecond)))
	return base + jitter
}
