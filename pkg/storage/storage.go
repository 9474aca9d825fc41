package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketIncidents   = []byte("incidents")
	bucketDeployments = []byte("deployments")
)

// Store is the on-disk archive of incidents and deployments. Writes are
// best-effort from callers' perspectives; the live system never depends
// on the archive.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the archive at path
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketIncidents, bucketDeployments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// archiveKey orders records chronologically within a bucket
func archiveKey(ts time.Time, id string) []byte {
	return []byte(ts.UTC().Format(time.RFC3339Nano) + "/" + id)
}

// PutIncident archives a heal incident
func (s *Store) PutIncident(incident *types.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to encode incident %s: %w", incident.ID, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIncidents).Put(archiveKey(incident.Timestamp, incident.ID), data)
	})
	if err != nil {
		logger := log.WithComponent("storage")
		logger.Warn().Err(err).Str("incident", incident.ID).Msg("incident archive failed")
		return err
	}
	return nil
}

// PutDeployment archives a deployment record
func (s *Store) PutDeployment(d *types.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode deployment %s: %w", d.ID, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).Put(archiveKey(d.StartedAt, d.ID), data)
	})
	if err != nil {
		logger := log.WithComponent("storage")
		logger.Warn().Err(err).Str("deployment", d.ID).Msg("deployment archive failed")
		return err
	}
	return nil
}

// RecentIncidents returns up to limit incidents, newest first
func (s *Store) RecentIncidents(limit int) ([]*types.Incident, error) {
	var out []*types.Incident

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIncidents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var incident types.Incident
			if err := json.Unmarshal(v, &incident); err != nil {
				continue
			}
			out = append(out, &incident)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncidentsSince returns incidents recorded at or after cutoff, oldest
// first. Feeds the daily and weekly reports.
func (s *Store) IncidentsSince(cutoff time.Time) ([]*types.Incident, error) {
	var out []*types.Incident

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIncidents).Cursor()
		seek := []byte(cutoff.UTC().Format(time.RFC3339Nano))
		for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
			var incident types.Incident
			if err := json.Unmarshal(v, &incident); err != nil {
				continue
			}
			out = append(out, &incident)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentDeployments returns up to limit deployments, newest first
func (s *Store) RecentDeployments(limit int) ([]*types.Deployment, error) {
	var out []*types.Deployment

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeployments).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
