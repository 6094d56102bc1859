package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/atomix/catalog/pkg/config"
	catalog_log "github.com/atomix/catalog/pkg/log"
	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/logstore"
	"github.com/atomix/catalog/pkg/meta"
	"github.com/atomix/catalog/pkg/metrics"
	"github.com/atomix/catalog/pkg/session"
	"github.com/atomix/catalog/pkg/snapshotstore"
	"github.com/atomix/catalog/pkg/statemachine"
	"github.com/atomix/catalog/pkg/transport"
	"github.com/atomix/catalog/pkg/types"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node; --bootstrap makes it a brand-new single-node cluster",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("node-id", "", "This node's member id (overrides config)")
	startCmd.Flags().String("bind-addr", "", "Address to accept peer RPCs on (overrides config)")
	startCmd.Flags().String("data-dir", "", "Directory for meta and snapshot state (overrides config)")
	startCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-node cluster")
}

// kvAdapter narrows statemachine.KV to the session.StateMachine
// interface, the same adaptation pkg/metrics' collector tests use,
// since the two packages declare structurally-identical but distinct
// Result types to avoid a dependency cycle.
type kvAdapter struct{ kv *statemachine.KV }

func (a kvAdapter) Apply(index types.Index, payload []byte) session.Result {
	r := a.kv.Apply(index, payload)
	return session.Result{Payload: r.Payload, Err: r.Err, Events: r.Events}
}

func (a kvAdapter) Query(payload []byte) session.Result {
	r := a.kv.Query(payload)
	return session.Result{Payload: r.Payload, Err: r.Err}
}

func (a kvAdapter) Snapshot() ([]byte, error) { return a.kv.Snapshot() }

func (a kvAdapter) Restore(data []byte) error { return a.kv.Restore(data) }

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v, _ := cmd.Flags().GetString("bind-addr"); v != "" {
		cfg.BindAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	logger := catalog_log.WithComponent("catalogd").With().Str("node_id", cfg.NodeID).Logger()
	logger.Info().Str("bind_addr", cfg.BindAddr).Str("data_dir", cfg.DataDir).Msg("starting node")

	metaStore, err := meta.Open(filepath.Join(cfg.DataDir, "meta.db"))
	if err != nil {
		return fmt.Errorf("catalogd: open meta store: %w", err)
	}
	defer metaStore.Close()

	snapStore, err := snapshotstore.Open(filepath.Join(cfg.DataDir, "snapshots.db"))
	if err != nil {
		return fmt.Errorf("catalogd: open snapshot store: %w", err)
	}
	defer snapStore.Close()

	log := logstore.New(cfg.MaxSegment.MaxSize, cfg.MaxSegment.MaxEntries)

	kv := statemachine.NewKV()
	sessions := session.NewRegistry(kvAdapter{kv: kv})

	pool := transport.NewPool()
	defer pool.Close()

	server, err := consensus.New(cfg.NodeID, log, metaStore, sessions, snapStore, pool)
	if err != nil {
		return fmt.Errorf("catalogd: create consensus server: %w", err)
	}
	server.SetTimeouts(time.Duration(cfg.Election), time.Duration(cfg.Heartbeat))

	if bootstrap {
		if err := server.Bootstrap(); err != nil {
			return fmt.Errorf("catalogd: bootstrap: %w", err)
		}
		logger.Info().Msg("bootstrapped new single-node cluster")
	}

	driver := NewDriver(server)
	driver.Start()

	rpcServer := transport.NewServer(server)
	errCh := make(chan error, 1)
	go func() {
		if err := rpcServer.Serve(cfg.BindAddr); err != nil {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	collector := metrics.NewCollector(server, sessions)
	collector.Start()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("consensus", true, "started")
	metrics.RegisterComponent("logstore", true, "started")
	metrics.RegisterComponent("transport", true, "listening")
	serveMetrics(cfg.MetricsAddr, metrics.Handler(), metrics.HealthHandler(), metrics.ReadyHandler(), metrics.LivenessHandler())
	logger.Info().Str("metrics_addr", cfg.MetricsAddr).Msg("metrics and health endpoints listening")

	logger.Info().Msg("node running, press Ctrl+C to stop")
	select {
	case <-shutdownSignal():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("rpc server error")
	}

	driver.Stop()
	collector.Stop()
	rpcServer.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}

func shutdownSignal() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		waitForShutdown()
		close(ch)
	}()
	return ch
}
