/*
Package sums implements the SUMS storage-unit service: the server tier
that hands out storage-unit slots to DRMS sessions and owns the single
connection to the external archive manager.

	┌───────────── SUMS storage-unit service ─────────────┐
	│ │
	│ net.Listener │
	│ │ one goroutine per accepted call │
	│ ▼ │
	│ Dispatcher ── server_lock ──▶ Allocator │
	│ │ │ │
	│ │ enqueue (tag, req) │ cache of units │
	│ ▼ │ per series │
	│ ArchiveWorker in-box ▼ │
	│ │ manager.Manager │
	│ │ (owns the one (Raft-replicated │
	│ │ archive-manager storage-unit/session │
	│ ▼ connection) metadata) │
	│ archiveclient.Client │
	│ │ │
	│ ▼ │
	│ per-job reply channel ──▶ reply to caller │
	└───────────────────────────────────────────────────────┘

Dispatcher implements: one goroutine per accepted connection,
a lock over its open-session table (the Allocator holds its own lock
over the unit cache), and delegation to the archive worker for anything
that talks to the external archive manager. ArchiveWorker implements: a
single goroutine, one in-box channel of tagged jobs that each carry their
own reply channel, and a lazily-opened
archiveclient.Client. Allocator implements: per-series
storage-unit cache and FREE/TEMP/FULL slot-state transitions.

The wire protocol (protocol.go) is the bespoke opcode-plus-typed-KV
framing of — not gRPC/protobuf. gRPC is reserved for the
archive-manager leg (pkg/archiveclient) because that manager's wire
format is external and unspecified; the session-to-dispatcher protocol
is fully specified here and gets the custom framing the protocol describes.

Dispatcher handles the storage-unit-management opcodes (NEWSLOTS,
GETUNIT(S), GETSUDIR(S), GETSUINFO, SETRETENTION, SLOT_SETSTATE, COMMIT,
ROLLBACK, DISCONNECT) directly. The catalog-query-passthrough opcodes in
its registry (TXTQUERY, BINQUERY, DMS, DMS_ARRAY, BINQUERY_ARRAY,
NEWSERIES, DROPSERIES, BULK_INSERT_ARRAY, ALLOC_RECNUM) are accepted on
the wire for registry fidelity but answered with the StatusNotHandled
wire status: in
this architecture a session reaches the relational catalog directly
through pkg/catalog's database/sql channel (including its own recnum
sequence, pkg/catalog.Session.NextRecnum) rather than proxying queries
through the storage-unit service, so those opcodes have no handler to
dispatch to here. SLOT_SETSTATE is the one opcode in that numeric
neighborhood that isn't a catalog operation at all — it mutates the
unit cache's own slot-state array — so it gets a real handler that
promotes a TEMP slot to FULL once a session's close_records(INSERT) has
a real recnum for it. MAKESESSIONWRITABLE is likewise not handled: this
architecture has no read-only-by-default session mode to switch out of
— a session's write capability is fixed at OPEN time by its
Capabilities bitset, not toggled later.
*/
package sums
