package backup

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Logical stores kept in the backup file, one bolt bucket each.
const (
	NodesStore    = "oncotree_nodes"
	VersionsStore = "oncotree_versions"
	ConceptsStore = "msk_concepts"
)

// Store is keyed snapshot storage on a bolt file. Reads and writes on one
// logical store are serialized by a per-store lock; different stores do not
// block each other.
type Store struct {
	fileName string
	db       *bolt.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (or creates) the backup file at fileName.
func Open(fileName string) (*Store, error) {
	log.Infof("Opening backup cache '%v'.", fileName)
	db, err := bolt.Open(fileName, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		log.Errorf("ERROR opening backup cache file: %v.", err.Error())
		return nil, errors.Wrapf(err, "opening backup cache %s", fileName)
	}
	return &Store{fileName: fileName, db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lock(store string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[store]
	if !ok {
		l = &sync.Mutex{}
		s.locks[store] = l
	}
	return l
}

// Read decodes the snapshot stored under key into dst. found is false when
// the store or key does not exist.
func (s *Store) Read(store, key string, dst interface{}) (found bool, err error) {
	l := s.lock(store)
	l.Lock()
	defer l.Unlock()

	var cachedValue []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(store))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(key)); v != nil {
			cachedValue = make([]byte, len(v))
			copy(cachedValue, v)
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "reading %s/%s from backup cache", store, key)
	}
	if len(cachedValue) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(cachedValue, dst); err != nil {
		log.Errorf("ERROR unmarshalling backup value for [%v/%v]: %v.", store, key, err.Error())
		return true, errors.Wrapf(err, "decoding %s/%s from backup cache", store, key)
	}
	return true, nil
}

// Write replaces the snapshot stored under key with v encoded as JSON.
func (s *Store) Write(store, key string, v interface{}) error {
	marshalled, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s for backup cache", store, key)
	}

	l := s.lock(store)
	l.Lock()
	defer l.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(store))
		if err != nil {
			return fmt.Errorf("cache bucket [%v] could not be created: %v", store, err)
		}
		return bucket.Put([]byte(key), marshalled)
	})
}

// Keys returns the keys held in store.
func (s *Store) Keys(store string) ([]string, error) {
	l := s.lock(store)
	l.Lock()
	defer l.Unlock()

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(store))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}
