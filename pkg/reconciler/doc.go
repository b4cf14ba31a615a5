/*
Package reconciler reaps sessions abandoned by a crashed or partitioned
client.

A DRMS client that dies without calling its session's close path (crash,
kill -9, network partition) leaves its session row in the manager's store
forever, and any storage units it was holding open for write stay pinned.
The reconciler runs a 10-second tick, and on the manager leader only,
expires any session older than MaxSessionAge through the normal
DeleteSession Raft command — the same path a well-behaved client's close
would take.

This is a correctness backstop, not the archive worker: it never touches
storage-unit slot contents or decides what to do with a half-written
segment. That recovery decision belongs to pkg/sums's archive worker,
which owns the storage unit's lifecycle end to end.
*/
package reconciler
