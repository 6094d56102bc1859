package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	catalog_log "github.com/atomix/catalog/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "catalogd",
	Short: "catalogd runs one member of a catalog replicated state-machine cluster",
	Long: `catalogd is a single-binary node in a catalog cluster: a Raft-derived
consensus engine with three-tier membership, session-scoped linearizable
commands, and tunable-consistency queries.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("catalogd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	catalog_log.Init(catalog_log.Config{
		Level:      catalog_log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func serveMetrics(addr string, metricsHandler, healthHandler, readyHandler, liveHandler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/health", healthHandler)
	mux.Handle("/ready", readyHandler)
	mux.Handle("/live", liveHandler)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			catalog_log.WithComponent("metrics").Error().Err(err).Msg("metrics server exited")
		}
	}()
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
