/*
Package client is the DRMS record runtime: the library linked into a user
module in place of the original C `DRMS_Env_t`/`drms_open` pair. One Client
is one session's worth of state — a catalog connection, a dispatcher
connection, and the three caches (templates, records, storage units) that
pkg/session already maintains; this package only adds the parts a session
object itself has no opinion about: which catalog and which dispatcher to
dial, the session's retention/archive overrides, and a method surface named
the way record-runtime callers expect (CreateRecord, Retrieve, CloseRecords, Close)
rather than pkg/session's lower-level cache-oriented names.

# Architecture

	┌──────────────────── USER MODULE ──────────────────────┐
	│ │
	│ import "github.com/suncumby/drms/pkg/client" │
	│ │
	│ drms, err:= client.Open(ctx, client.Config{...}) │
	│ rec, err:= drms.CreateRecord(ctx, "hmi.v_45s") │
	│ │
	└──────────────────┬───────────────────────────────────┘
 │
	┌──────────────────▼──── pkg/client ─────────────────────┐
	│ │
	│ Client: retention/archive overrides, touched-series │
	│ bookkeeping for commit-time archive submission │
	│ │ │
	│ ┌──────────────────▼──────────┐ ┌───────────────────┐ │
	│ │ pkg/session.Session │ │ pkg/sums.Client │ │
	│ │ (template/record/unit │ │ (Commit/Rollback/ │ │
	│ │ caches, temp registry) │ │ SetRetention) │ │
	│ └──────────────┬───────────────┘ └─────────┬──────────┘ │
	└─────────────────┼────────────────────────────┼───────────┘
 database/sql │ wire protocol │
 ▼ ▼
 catalog (Postgres/…) SUMS dispatcher

# Connection modes

Open dials the catalog directly via database/sql (pkg/catalog.Open) and
dials the storage-unit service either in the clear or over mTLS
(NewClientWithTLS, pkg/security certificates loaded from CertDir) depending
on whether Config.TLSCertDir is set. The catalog handle is held for the
Client's lifetime; the dispatcher client dials a fresh connection per call.
Close sends DISCONNECT so the manager drops its session record, then
releases the session's reserved catalog connection; it does not close the
underlying *sql.DB.

# Commit and archive submission

A session's temp records span any number of series. Client tracks which
series it has allocated slots in; CloseRecords("commit") first lets
pkg/session.Session.CloseAll assign real record numbers and INSERT them,
then — for each touched series — calls the dispatcher's COMMIT opcode so
the storage-unit service submits that series' READWRITE units to the
archive manager. CloseRecords("abort") skips the archive
submission and tells the dispatcher to ROLLBACK instead.
*/
package client
