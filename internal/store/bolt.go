// Package store persists the controller's two pieces of reconstructible
// cache state, both keyed by CN: the last-seen host record (facts plus
// connection timestamp) and the known[CN] file fingerprint map used to
// decide which blobs a reconnecting agent actually needs resent. Neither
// bucket is a system of record — a missing or corrupt database file just
// means every agent looks "new" on the next apply (spec.md's "no
// persistence of past applies" Non-goal), so this package has none of the
// history/snapshot/notification machinery a long-lived fleet dashboard
// would otherwise need.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sentineld/autocracy/internal/repository"
)

var (
	bucketHosts        = []byte("hosts")
	bucketFingerprints = []byte("fingerprints")
)

// HostRecord is the last-seen snapshot of one agent, refreshed every time
// its facts change (see internal/cluster/server's pretenses handler).
type HostRecord struct {
	CN         string         `json:"cn"`
	LastSeen   time.Time      `json:"last_seen"`
	Facts      map[string]any `json:"facts"`
}

// Store wraps a BoltDB database holding the controller's cache state.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at path and ensures its buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHosts, bucketFingerprints} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveHost records the most recent facts seen for CN.
func (s *Store) SaveHost(cn string, facts map[string]any) error {
	rec := HostRecord{CN: cn, LastSeen: time.Now().UTC(), Facts: facts}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal host record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).Put([]byte(cn), data)
	})
}

// Host returns the last-seen record for CN, or ok=false if none exists.
func (s *Store) Host(cn string) (HostRecord, bool, error) {
	var rec HostRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHosts).Get([]byte(cn))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return HostRecord{}, false, fmt.Errorf("store: read host %s: %w", cn, err)
	}
	return rec, found, nil
}

// KnownFingerprints returns the path→fingerprint map last recorded for CN,
// i.e. spec.md §4.3's known[CN]. A CN with no prior apply returns an empty
// map, so every referenced path is treated as fresh.
func (s *Store) KnownFingerprints(cn string) (map[string]repository.Fingerprint, error) {
	out := map[string]repository.Fingerprint{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFingerprints).Get([]byte(cn))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("store: read fingerprints %s: %w", cn, err)
	}
	return out, nil
}

// SetKnownFingerprints overwrites known[CN] after a successful apply pass
// (spec.md §4.3 step 5).
func (s *Store) SetKnownFingerprints(cn string, known map[string]repository.Fingerprint) error {
	data, err := json.Marshal(known)
	if err != nil {
		return fmt.Errorf("store: marshal fingerprints: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFingerprints).Put([]byte(cn), data)
	})
}
