/*
Package health provides readiness checks for drmsd's process health endpoint.

Checker is implemented by CatalogChecker (pings the Postgres-backed catalog
through the Pinger interface), HTTPChecker, TCPChecker (used to probe the
archive manager's address), and ExecChecker (runs a command and checks its
exit code). cmd/drmsd builds a small slice of Checkers at startup and serves
them from its HTTP status endpoint alongside /metrics, so an operator or
orchestrator can tell whether a replica can still reach the catalog and the
archive manager without querying either directly.

Each checker exposes WithTimeout and returns a Result carrying a Healthy
flag, a Message (with the error text, if any), and when and how long the
check ran. Config and Status track consecutive pass/fail
counts against StartPeriod/Interval/Retries the way a liveness probe does,
for callers that want to debounce a single bad check rather than act on it
immediately.
*/
package health
