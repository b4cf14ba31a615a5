/*
Package manager implements a SUMS manager replica: the storage-unit
allocation and session bookkeeping service that sits behind the client
record/session runtime (pkg/session) and in front of the archive worker
(pkg/sums).

# Architecture

A SUMS deployment runs 1-5 manager replicas forming a Raft quorum:

	┌────────────────────── MANAGER REPLICA ──────────────────────┐
	│                                                               │
	│  ┌─────────────────────────────────────────────────┐        │
	│  │         Session RPC listener (cmd/drmsd)         │        │
	│  └──────────────────────┬────────────────────────────┘        │
	│                         │                                      │
	│  ┌──────────────────────▼────────────────────────────┐        │
	│  │                   Manager                          │        │
	│  │  - serves GetStorageUnit/ListStorageUnitsBySeries   │        │
	│  │    reads directly from the local store              │        │
	│  │  - proposes CreateStorageUnit/UpdateTapeGroup/...    │        │
	│  │    writes through Raft                               │        │
	│  └──────────────────────┬────────────────────────────┘        │
	│                         │                                      │
	│  ┌──────────────────────▼────────────────────────────┐        │
	│  │              Raft Consensus Layer                   │        │
	│  │  - leader election, log replication                 │        │
	│  └──────────────────────┬────────────────────────────┘        │
	│                         │                                      │
	│  ┌──────────────────────▼────────────────────────────┐        │
	│  │                     FSM                             │        │
	│  │  - Apply/Snapshot/Restore against storage.Store     │        │
	│  └──────────────────────┬────────────────────────────┘        │
	│                         │                                      │
	│  ┌──────────────────────▼────────────────────────────┐        │
	│  │                 BoltDB Store                        │        │
	│  │  - storage units, sessions, tape-group state, CA    │        │
	│  └─────────────────────────────────────────────────────┘        │
	└───────────────────────────────────────────────────────────────┘

Reads (GetStorageUnit, ListStorageUnitsBySeries, GetTapeGroup) are served
from the local store without going through Raft: any replica's applied
state is fresh enough to answer a storage-unit lookup. Writes
(CreateStorageUnit, UpdateStorageUnit, DeleteStorageUnit, CreateSession,
DeleteSession, UpdateTapeGroup) are submitted as Command{Op,Data} entries
via Apply and only the Raft leader can submit them.

# Quorum sizing

	1 manager: development only, no HA
	3 managers: tolerates 1 failure
	5 managers: tolerates 2 failures

# Joining a quorum

	cfg := &manager.Config{NodeID: "m1", BindAddr: "10.0.0.1:7700", DataDir: "/var/lib/drms/m1"}
	mgr, err := manager.NewManager(cfg)
	err = mgr.Bootstrap() // first replica

	cfg2 := &manager.Config{NodeID: "m2", BindAddr: "10.0.0.2:7700", DataDir: "/var/lib/drms/m2"}
	mgr2, err := manager.NewManager(cfg2)
	token, err := mgr.GenerateJoinToken(time.Hour)
	err = mgr2.Join("10.0.0.1:7700", token.Token)

# Security

Each replica initializes its CertAuthority (pkg/security) in initializeCA,
loading it from the local store when one is saved there. cmd/drmsd uses it
to mint the certificate for the dispatcher's mTLS listener. Raft traffic
between replicas runs over a plain TCP transport.
*/
package manager
