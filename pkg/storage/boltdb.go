package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/suncumby/drms/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStorageUnits = []byte("storage_units")
	bucketSessions     = []byte("sessions")
	bucketTapeGroups   = []byte("tape_groups")
	bucketCA           = []byte("ca")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the manager's metadata
// database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "sums-manager.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStorageUnits, bucketSessions, bucketTapeGroups, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sunumKey(sunum types.SUNUM) []byte {
	return []byte(strconv.FormatInt(int64(sunum), 10))
}

// Storage units

func (s *BoltStore) CreateStorageUnit(su *types.StorageUnit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(su)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStorageUnits).Put(sunumKey(su.Sunum), data)
	})
}

func (s *BoltStore) GetStorageUnit(sunum types.SUNUM) (*types.StorageUnit, error) {
	var su types.StorageUnit
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStorageUnits).Get(sunumKey(sunum))
		if data == nil {
			return fmt.Errorf("storage unit not found: %d", sunum)
		}
		return json.Unmarshal(data, &su)
	})
	if err != nil {
		return nil, err
	}
	return &su, nil
}

func (s *BoltStore) ListStorageUnits() ([]*types.StorageUnit, error) {
	var units []*types.StorageUnit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorageUnits).ForEach(func(k, v []byte) error {
			var su types.StorageUnit
			if err := json.Unmarshal(v, &su); err != nil {
				return err
			}
			units = append(units, &su)
			return nil
		})
	})
	return units, err
}

func (s *BoltStore) ListStorageUnitsBySeries(series string) ([]*types.StorageUnit, error) {
	all, err := s.ListStorageUnits()
	if err != nil {
		return nil, err
	}
	var filtered []*types.StorageUnit
	for _, su := range all {
		if su.Series == series {
			filtered = append(filtered, su)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateStorageUnit(su *types.StorageUnit) error {
	return s.CreateStorageUnit(su)
}

func (s *BoltStore) DeleteStorageUnit(sunum types.SUNUM) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStorageUnits).Delete(sunumKey(sunum))
	})
}

// Sessions

func (s *BoltStore) CreateSession(sess *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSessions).Put([]byte(sess.ID), data)
	})
}

func (s *BoltStore) GetSession(id string) (*types.Session, error) {
	var sess types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("session not found: %s", id)
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) ListSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	return sessions, err
}

func (s *BoltStore) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

// Tape groups

func (s *BoltStore) GetTapeGroup(group int) (*TapeGroupState, error) {
	var state TapeGroupState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTapeGroups).Get([]byte(strconv.Itoa(group)))
		if data == nil {
			state = TapeGroupState{Group: group}
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) UpdateTapeGroup(state *TapeGroupState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTapeGroups).Put([]byte(strconv.Itoa(state.Group)), data)
	})
}

func (s *BoltStore) ListTapeGroups() ([]*TapeGroupState, error) {
	var out []*TapeGroupState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTapeGroups).ForEach(func(k, v []byte) error {
			var state TapeGroupState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			out = append(out, &state)
			return nil
		})
	})
	return out, err
}

// Certificate authority

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCA).Get([]byte("ca"))
		if raw == nil {
			return fmt.Errorf("CA not found")
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, err
}
