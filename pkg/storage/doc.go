/*
Package storage provides BoltDB-backed persistence for the SUMS manager's
own metadata: storage units, open sessions, and tape-group allocation
state. It is the manager-side analogue of pkg/catalog — but where the
catalog is the client tier's opaque relational backend (explicitly out of
scope), this package is the manager's private bookkeeping for
the storage units and sessions it itself owns.

# Buckets

	storage_units  (SUNUM, decimal string)
	sessions       (session id)
	tape_groups    (tape-group number, decimal string)
	ca             (fixed key, manager-replica mTLS root)

Each value is JSON. Writes go through db.Update, reads through db.View;
BoltStore gives the same MVCC read / serialized-write guarantees the
teacher's cluster-state store did, just over a different entity set.

# Relationship to pkg/manager

pkg/manager's raft FSM writes the storage-unit, session and tape-group
buckets in a replicated deployment: every such mutating call first goes
through raft.Apply, and the FSM applies the resulting log entry to
BoltStore on every replica. The ca bucket is the exception: the Manager's
initializeCA writes it to its local store directly (CertAuthority.SaveToStore). A
non-replicated, single-manager deployment can use BoltStore directly.

# Usage

	store, err := storage.NewBoltStore("/var/lib/drms/manager-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreateStorageUnit(&types.StorageUnit{
		Sunum:  types.MakeSUNUM(1, 1001),
		Series: "hmi.v_45s",
		Dir:    "/SUM1/D00001001",
		Mode:   types.SUReadWrite,
		NFree:  8,
	})

	su, err := store.GetStorageUnit(types.MakeSUNUM(1, 1001))
	units, err := store.ListStorageUnitsBySeries("hmi.v_45s")
*/
package storage
