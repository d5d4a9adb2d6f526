// Package store is the persistence collaborator: a string-keyed key-value
// handoff used to carry game settings, questions, scores and the player
// name across page transitions. Callers treat it as an opaque blocking
// get/set.
package store

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Well-known handoff keys.
const (
	KeySettings   = "gameSettings"
	KeyQuestions  = "gameQuestions"
	KeyScores     = "gameScores"
	KeyPlayerName = "playerName"
)

var ErrNotFound = errors.New("key not found")

var bucketName = []byte("session")

type Store struct {
	db *bolt.DB
}

// Open opens or creates the backing database file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		value = string(raw)
		return nil
	})
	return value, err
}

func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
