// Package checkpoint persists periodic snapshots of simulator state to a
// BoltDB file so a crashed or interrupted run can be audited after the
// fact. It is a supplement beyond spec.md (which is silent on
// persistence), adapted from the teacher's BoltDB-backed Store: one
// bucket per entity kind, JSON-marshaled values keyed by id.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/batsim-go/batsim/pkg/model"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMachines = []byte("machines")
	bucketJobs     = []byte("jobs")
	bucketCounters = []byte("counters")
)

// Store is a BoltDB-backed checkpoint writer.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMachines, bucketJobs, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot is the state saved on each checkpoint tick.
type Snapshot struct {
	SimulatedTime float64
	Machines      []*model.Machine
	Jobs          []*model.Job
	Counters      model.Counters
}

// Save writes one checkpoint. Machines and jobs are keyed by id, so each
// save overwrites what a prior checkpoint stored for the same ids; the
// counters record is keyed by simulated time, so every save adds one.
func (s *Store) Save(snap Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(bucketMachines)
		for _, m := range snap.Machines {
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := mb.Put([]byte(strconv.Itoa(m.ID)), data); err != nil {
				return err
			}
		}

		jb := tx.Bucket(bucketJobs)
		for _, j := range snap.Jobs {
			data, err := json.Marshal(j)
			if err != nil {
				return err
			}
			if err := jb.Put([]byte(j.ID.String()), data); err != nil {
				return err
			}
		}

		cb := tx.Bucket(bucketCounters)
		data, err := json.Marshal(snap.Counters)
		if err != nil {
			return err
		}
		key := strconv.FormatFloat(snap.SimulatedTime, 'f', -1, 64)
		return cb.Put([]byte(key), data)
	})
}

// LoadMachines returns every machine persisted in the latest checkpoint.
func (s *Store) LoadMachines() ([]*model.Machine, error) {
	var out []*model.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(_, v []byte) error {
			var m model.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}
