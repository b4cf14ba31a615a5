/*
Package metrics defines DRMS's Prometheus metrics and exposes them over HTTP.

Metrics cover the manager's Raft position and storage-unit/session/tape-group
counts (polled by Collector in collector.go), plus API request counts and
durations, storage-unit allocation duration, archive queue depth, Raft commit
duration, and session reaper duration and counts, recorded directly by the
packages that perform those operations. The catalog query duration, record
open/commit counters and link resolution counts are registered, but nothing
records them.

Handler returns the promhttp handler cmd/drmsd mounts at /metrics. Timer is a
small helper around time.Now for recording a duration into a Histogram or
HistogramVec with ObserveDuration/ObserveDurationVec.

health.go tracks a separate, coarser component registry (raft, catalog,
archive-manager) fed by cmd/drmsd's pkg/health checkers and served at
/health, /ready and /live — distinct from /healthz's per-checker detail.
*/
package metrics
