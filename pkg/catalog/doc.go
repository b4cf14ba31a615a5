// Package catalog is the session-scoped transactional contract over the
// relational backend (the relational database itself is
// issued through an opaque SQL channel"). It never assumes a concrete
// schema or driver beyond the bootstrap tables (drms_series, drms_segment,
// drms_link, drms_keyword, drms_prime_key) that describe templates, and one per-series data
// table, following the "namespace.series" naming convention; everything else a real
// deployment adds (grants, partitioning, archival tables) is outside this
// package's contract.
package catalog
