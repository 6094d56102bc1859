/*
Package logstore implements catalog's replicated log: segments, the
clean bitmap, and the minor/major compaction passes.

A Log owns an ordered slice of Segments. Appends land in the trailing
segment or trigger a rollover once that segment's entry count or byte
budget is exhausted. Entries are immutable once appended; the only ways
an entry leaves the log are truncation (followers resolving a
divergent suffix) and compaction (space reclamation once the state
machine has marked an entry clean).

Minor compaction rewrites a single segment, dropping cleaned entries
that are safe to discard. Major compaction merges a contiguous run of
segments into one, additionally discarding snapshotted entries and
retiring tombstones once the cluster-wide major-compact index has
passed them. Both passes snapshot their clean predicates before
touching any entry, so a clean that lands mid-compaction cannot change
the outcome of the run already in flight.
*/
package logstore
