package metrics

import (
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/session"
)

// Collector periodically samples a consensus server and session registry
// into the package's gauges, grounded on Warren's metrics.Collector
// ticking against a manager.Manager.
type Collector struct {
	server   *consensus.Server
	sessions *session.Registry
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector for one node.
func NewCollector(server *consensus.Server, sessions *session.Registry) *Collector {
	return &Collector{
		server:   server,
		sessions: sessions,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection on a 15 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectConsensusMetrics()
	c.collectSessionMetrics()
}

func (c *Collector) collectConsensusMetrics() {
	status := c.server.Status()
	Term.Set(float64(status.Term))
	CommitIndex.Set(float64(status.CommitIndex))
	LastApplied.Set(float64(status.LastApplied))
	GlobalIndex.Set(float64(status.GlobalIndex))
	if status.Role == "leader" {
		IsLeader.Set(1)
	} else {
		IsLeader.Set(0)
	}

	for memberType, count := range c.server.MemberCounts() {
		MembersTotal.WithLabelValues(memberType).Set(float64(count))
	}
}

func (c *Collector) collectSessionMetrics() {
	SessionsActive.Set(float64(len(c.sessions.Sessions())))
}
