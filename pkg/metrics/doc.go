/*
Package metrics defines and registers catalog's Prometheus metrics:
consensus state, replication and compaction latency, session lifecycle,
and RPC throughput. Metrics are package-level variables registered at
init time against the default Prometheus registry and exposed over
HTTP via Handler.

# Catalog

catalog_term, catalog_is_leader, catalog_commit_index,
catalog_last_applied, catalog_global_index, catalog_members_total{type}:
	gauges reflecting consensus.Server.Status(), updated by a periodic
	Collector.

catalog_sessions_active:
	gauge of registered sessions, also set by the Collector.

catalog_elections_total{outcome}, catalog_append_entries_duration_seconds{peer},
catalog_apply_duration_seconds, catalog_compaction_duration_seconds,
catalog_snapshot_size_bytes, catalog_sessions_expired_total,
catalog_commands_total{outcome}, catalog_queries_total{consistency},
catalog_rpc_requests_total{method,status}, catalog_rpc_request_duration_seconds{method}:
	registered and exported for elections, replication and apply
	latency, compaction and snapshots, session expiry, command and query
	outcomes, and per-RPC traffic. No code in this repository increments
	or observes them (pkg/transport's server installs no interceptor), so
	they stay at zero.

# Usage

	timer := metrics.NewTimer()
	err := server.ReplicateToPeer(peerID)
	timer.ObserveDurationVec(metrics.AppendEntriesDuration, peerID)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
