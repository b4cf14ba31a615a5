/*
Package types defines the core data structures shared by the record/series
runtime and the storage-unit service.

It contains the domain model used throughout drms: series templates,
records, keywords, links, segments, storage units and sessions. These types
carry no behavior beyond small invariant helpers (HasFullSlot, SUNUM
encoding) — the operations that act on them (caching, link resolution,
allocation, wire encoding) live in the packages that use them.

# Scalar universe

ValueType is fixed: Char, Short, Int, Long, Float, Double, Time, String.
Value is a tagged union over that universe (see pkg/value for conversion,
equality and formatting). Keeping Value here rather than in pkg/value avoids
an import cycle: pkg/value imports pkg/types, not the other way around.

# Series template

A Template aggregates a SeriesInfo header with three named collections —
Keywords, Links, Segments — plus the ordered PrimeKeys/DBIndex key sets. The
JSD parser (pkg/jsd) builds a Template from a textual series definition; the
session cache (pkg/session) builds one from catalog query results.

# Storage units

A StorageUnit holds parallel State/Recnum arrays, one entry per slot,
0-indexed. The invariant NFree + |{slot : State != Free}| == len(State)
(i.e. == unit size) is maintained by the allocator (pkg/sums) as it
hands out slots; nothing checks or enforces it.
*/
package types
