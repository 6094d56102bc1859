/*
Package log provides structured logging for catalog using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level for production
debugging.

# Usage

Initializing the Logger:

	import "github.com/atomix/catalog/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component Loggers:

	consensusLog := log.WithComponent("consensus")
	consensusLog.Info().Msg("became leader")

	memberLog := log.WithMember("n1")
	memberLog.Warn().Msg("missed heartbeat")

	sessionLog := log.WithSession(42)
	sessionLog.Debug().Msg("command applied")

# Integration Points

This package integrates with:

  - pkg/consensus: election, replication, membership, and apply events
  - pkg/transport: the RPC server's listen address at startup
  - cmd/catalogd: startup and shutdown logging
*/
package log
