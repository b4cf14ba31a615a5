package sums

import "errors"

// Sentinel errors of the dispatcher and archive worker. These map onto
// distinct wire statuses rather than collapsing everything into one
// generic error. The archive worker returns the first three; the last
// three name outcomes the dispatcher sends only as wire statuses.
var (
	// ErrRetryLater is returned when a pending archive GET's wait call
	// times out: the caller should retry the whole call rather than
	// treat this as a hard failure.
	ErrRetryLater = errors.New("sums: archive fetch not ready, retry later")

	// ErrTapeReadPending is the distinct back-pressure status for a PUT
	// that collides with an in-progress tape read.
	ErrTapeReadPending = errors.New("sums: archive has a tape read pending")

	// ErrBadQueryResult is returned when the archive manager's inventory
	// reply is still short after the bounded retry budget — the
	// retry-on-partial-inventory behavior carried over from the
	// original storage-unit service implementation.
	ErrBadQueryResult = errors.New("sums: archive manager returned a partial inventory after exhausting retries")

	// ErrNotHandledHere names the outcome for wire opcodes that belong to
	// the catalog-query-passthrough family (see doc.go): this architecture
	// answers those directly through pkg/catalog, not through the
	// storage-unit dispatcher, which replies StatusNotHandled.
	ErrNotHandledHere = errors.New("sums: opcode not handled by the storage-unit service")

	// ErrCapabilityRequired names the protocol-level capability rejection:
	// GETUNIT/GETUNITS on an offline unit when the session didn't
	// advertise CapOfflineRetrieve on OPEN. The dispatcher replies
	// StatusCapability.
	ErrCapabilityRequired = errors.New("sums: session lacks CapOfflineRetrieve")

	// ErrUnknownSession names the outcome of a call carrying a session id
	// the dispatcher's authenticated-open table doesn't recognize. The
	// dispatcher replies StatusUnauthorized.
	ErrUnknownSession = errors.New("sums: unknown or unauthenticated session")
)

// infoRetryBudget is how many times the archive worker re-issues a GET
// or INFO call when the archive manager's reply is short of the
// requested sunums, before giving up with ErrBadQueryResult.
const infoRetryBudget = 6
