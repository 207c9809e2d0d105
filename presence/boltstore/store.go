// Package boltstore keeps the presence table in an embedded bbolt file so it
// can be inspected after a crash. The bucket is wiped whenever the file is
// opened; presence never survives a restart.
package boltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/jrsteele09/go-call-relay/presence"
)

var bucketName = []byte("presence")

var _ presence.Store = (*Store)(nil)

// entryValue is the CBOR value stored under each user id key.
type entryValue struct {
	SessionID   string `cbor:"s"`
	InstanceID  string `cbor:"i"`
	ConnectedAt int64  `cbor:"c"` // unix millis
}

// Store is a presence.Store backed by bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt file at path and resets its presence bucket.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create presence dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open presence db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketName) != nil {
			if err := tx.DeleteBucket(bucketName); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reset presence bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(_ context.Context, entry presence.Entry) error {
	value, err := cbor.Marshal(entryValue{
		SessionID:   entry.SessionID,
		InstanceID:  entry.InstanceID,
		ConnectedAt: entry.ConnectedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode presence entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(entry.UserID), value)
	})
}

func (s *Store) Get(_ context.Context, userID string) (presence.Entry, bool, error) {
	var (
		entry presence.Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(userID))
		if raw == nil {
			return nil
		}
		e, err := decode(userID, raw)
		if err != nil {
			return err
		}
		entry, found = e, true
		return nil
	})
	return entry, found, err
}

func (s *Store) Delete(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(userID))
	})
}

func (s *Store) DeleteIfSession(_ context.Context, userID, sessionID string) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(userID))
		if raw == nil {
			return nil
		}
		e, err := decode(userID, raw)
		if err != nil {
			return err
		}
		if e.SessionID != sessionID {
			return nil
		}
		removed = true
		return b.Delete([]byte(userID))
	})
	return removed, err
}

func (s *Store) List(_ context.Context) ([]presence.Entry, error) {
	var entries []presence.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			e, err := decode(string(k), v)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

func decode(userID string, raw []byte) (presence.Entry, error) {
	var v entryValue
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return presence.Entry{}, fmt.Errorf("decode presence entry for %s: %w", userID, err)
	}
	return presence.Entry{
		UserID:      userID,
		SessionID:   v.SessionID,
		InstanceID:  v.InstanceID,
		ConnectedAt: time.UnixMilli(v.ConnectedAt),
	}, nil
}
