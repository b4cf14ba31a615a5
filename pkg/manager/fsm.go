package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/suncumby/drms/pkg/storage"
	"github.com/suncumby/drms/pkg/types"
)

// FSM implements the Raft finite state machine for the SUMS manager's own
// metadata (storage units, sessions, tape-group allocation state). It is
// the replicated analogue of a single BoltStore: every manager replica
// applies the same committed log to its own storage.Store, so a replica
// that loses leadership still has an up to date view of every storage
// unit's state array.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command is one state-change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_storage_unit":
		var su types.StorageUnit
		if err := json.Unmarshal(cmd.Data, &su); err != nil {
			return err
		}
		return f.store.CreateStorageUnit(&su)

	case "update_storage_unit":
		var su types.StorageUnit
		if err := json.Unmarshal(cmd.Data, &su); err != nil {
			return err
		}
		return f.store.UpdateStorageUnit(&su)

	case "delete_storage_unit":
		var sunum types.SUNUM
		if err := json.Unmarshal(cmd.Data, &sunum); err != nil {
			return err
		}
		return f.store.DeleteStorageUnit(sunum)

	case "create_session":
		var sess types.Session
		if err := json.Unmarshal(cmd.Data, &sess); err != nil {
			return err
		}
		return f.store.CreateSession(&sess)

	case "delete_session":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteSession(id)

	case "update_tape_group":
		var state storage.TapeGroupState
		if err := json.Unmarshal(cmd.Data, &state); err != nil {
			return err
		}
		return f.store.UpdateTapeGroup(&state)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot takes a point-in-time copy of the FSM's state for Raft log
// compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	units, err := f.store.ListStorageUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to list storage units: %v", err)
	}
	sessions, err := f.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %v", err)
	}
	tapeGroups, err := f.store.ListTapeGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list tape groups: %v", err)
	}

	return &Snapshot{
		StorageUnits: units,
		Sessions:     sessions,
		TapeGroups:   tapeGroups,
	}, nil
}

// Restore rebuilds the FSM's store from a snapshot taken on another
// replica (or an earlier point of this one).
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, su := range snap.StorageUnits {
		if err := f.store.CreateStorageUnit(su); err != nil {
			return fmt.Errorf("failed to restore storage unit: %v", err)
		}
	}
	for _, sess := range snap.Sessions {
		if err := f.store.CreateSession(sess); err != nil {
			return fmt.Errorf("failed to restore session: %v", err)
		}
	}
	for _, tg := range snap.TapeGroups {
		if err := f.store.UpdateTapeGroup(tg); err != nil {
			return fmt.Errorf("failed to restore tape group: %v", err)
		}
	}
	return nil
}

// Snapshot is the point-in-time state Persist writes to the SnapshotSink.
type Snapshot struct {
	StorageUnits []*types.StorageUnit
	Sessions     []*types.Session
	TapeGroups   []*storage.TapeGroupState
}

func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *Snapshot) Release() {}
