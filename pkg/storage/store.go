package storage

import (
	"github.com/suncumby/drms/pkg/types"
)

// TapeGroupState is the manager's own round-robin bookkeeping for one
// tape-group allocation target; it is not part of the
// scientific record model in pkg/types, so it lives here rather than there.
type TapeGroupState struct {
	Group        int
	LastSunum    types.SUNUM
	UnitCount    int
	BytesWritten int64
}

// Store is the SUMS manager's own metadata persistence: storage units,
// sessions, and tape-group allocation state. This is explicitly distinct
// from pkg/catalog's relational database — the catalog is external and out
// of scope, while this is the manager's private bookkeeping for
// the data it itself hands out.
type Store interface {
	// Storage units
	CreateStorageUnit(su *types.StorageUnit) error
	GetStorageUnit(sunum types.SUNUM) (*types.StorageUnit, error)
	ListStorageUnits() ([]*types.StorageUnit, error)
	ListStorageUnitsBySeries(series string) ([]*types.StorageUnit, error)
	UpdateStorageUnit(su *types.StorageUnit) error
	DeleteStorageUnit(sunum types.SUNUM) error

	// Sessions
	CreateSession(sess *types.Session) error
	GetSession(id string) (*types.Session, error)
	ListSessions() ([]*types.Session, error)
	DeleteSession(id string) error

	// Tape-group allocation state
	GetTapeGroup(group int) (*TapeGroupState, error)
	UpdateTapeGroup(state *TapeGroupState) error
	ListTapeGroups() ([]*TapeGroupState, error)

	// Manager cluster CA, for inter-manager-replica mTLS
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
