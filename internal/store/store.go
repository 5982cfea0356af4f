/*
Package store caches fetched candidate lists in a bbolt database, so a remote source stays
usable when its host is unreachable. Each list is keyed by its source URL; the raw body and
its metadata live in separate buckets and are written in one transaction.
*/
package store

/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
	bolt "go.etcd.io/bbolt"
)

// Bucket keys
var (
	bucketLists = []byte("lists")
	bucketMeta  = []byte("meta")
)

// ErrNotFound is returned by Load for a source that was never cached.
var ErrNotFound = errors.New("source not cached")

// Meta describes one cached list.
type Meta struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Size      int       `json:"size"`
	Checksum  uint64    `json:"checksum"`
}

// Age returns how long ago the list was fetched.
func (m Meta) Age(now time.Time) time.Duration {
	return now.Sub(m.FetchedAt)
}

// Store is a bbolt-backed cache of fetched lists. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLists); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bbolt init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores body as the current copy of source.
func (s *Store) Save(source string, body []byte, fetchedAt time.Time) (Meta, error) {
	m := Meta{
		Source:    source,
		FetchedAt: fetchedAt.UTC(),
		Size:      len(body),
		Checksum:  xxh3.Hash(body),
	}
	metaJSON, err := json.Marshal(m)
	if err != nil {
		return Meta{}, fmt.Errorf("marshal meta: %w", err)
	}

	key := []byte(source)
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketLists).Put(key, body); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(key, metaJSON)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("save %s: %w", source, err)
	}
	return m, nil
}

// Load returns the cached body of source and its metadata, or ErrNotFound.
func (s *Store) Load(source string) ([]byte, Meta, error) {
	var (
		body []byte
		m    Meta
	)
	key := []byte(source)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLists).Get(key)
		if v == nil {
			return ErrNotFound
		}
		// bbolt slices are only valid within the transaction.
		body = make([]byte, len(v))
		copy(body, v)

		if mv := tx.Bucket(bucketMeta).Get(key); mv != nil {
			if err := json.Unmarshal(mv, &m); err != nil {
				return fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, Meta{}, err
	}
	if m.Checksum != 0 && m.Checksum != xxh3.Hash(body) {
		return nil, Meta{}, fmt.Errorf("cached copy of %s is corrupt", source)
	}
	return body, m, nil
}

// List returns the metadata of every cached list, sorted by source.
func (s *Store) List() ([]Meta, error) {
	var out []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var m Meta
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshal meta of %s: %w", k, err)
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// Delete removes source from the cache. Deleting a missing source is not an error.
func (s *Store) Delete(source string) error {
	key := []byte(source)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketLists).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(key)
	})
}
