// Package inventory is a bbolt-backed record of the certificates this
// client has saved and the hierarchy artifacts it has generated. It exists
// so operators can answer "what did this host provision, and when" without
// trawling the filesystem.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when no record exists for the requested name.
var ErrNotFound = errors.New("inventory record not found")

// Bucket names. Certificates saved by the provisioning workflow go to
// bucketCertificates; hierarchy artifacts written by setup go to
// bucketAuthority.
var (
	bucketCertificates = []byte("certificates")
	bucketAuthority    = []byte("authority")
)

// Record describes one saved certificate or hierarchy artifact.
type Record struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	SerialNumber      string    `json:"serial_number"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	NotBefore         time.Time `json:"not_before"`
	NotAfter          time.Time `json:"not_after"`
	SavedAt           time.Time `json:"saved_at"`
}

// Store is a single-file bbolt inventory.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the inventory database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening inventory db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketCertificates, bucketAuthority} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing inventory buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutCertificate records a saved certificate, keyed by its name. An
// existing record for the same name is replaced.
func (s *Store) PutCertificate(rec Record) error {
	return s.put(bucketCertificates, rec)
}

// PutAuthority records a generated hierarchy artifact, keyed by its name.
func (s *Store) PutAuthority(rec Record) error {
	return s.put(bucketAuthority, rec)
}

func (s *Store) put(bucket []byte, rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("inventory record requires a name")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding inventory record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(rec.Name), data)
	})
}

// GetCertificate returns the record for a saved certificate.
func (s *Store) GetCertificate(name string) (*Record, error) {
	return s.get(bucketCertificates, name)
}

// GetAuthority returns the record for a hierarchy artifact.
func (s *Store) GetAuthority(name string) (*Record, error) {
	return s.get(bucketAuthority, name)
}

func (s *Store) get(bucket []byte, name string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListCertificates returns every saved-certificate record in key order.
func (s *Store) ListCertificates() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCertificates).ForEach(func(_, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decoding inventory record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
