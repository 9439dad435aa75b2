// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package rules

import (
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rule not found")

const (
	rulePrefix = "rule:"
	seqKey     = "seq:rules"
)

// Store persists rules in Badger. Rules are keyed by id; a monotonic
// sequence preserves creation order for listing.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenStore opens (or creates) the rule store at path. With inMemory set,
// nothing touches disk; used in tests.
func OpenStore(path string, inMemory bool) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 16)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open rule sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// Save inserts or updates a rule. New rules (empty id) get an id, a
// creation sequence number, and timestamps. The rule is validated first.
func (s *Store) Save(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.New().String()
		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("next rule sequence: %w", err)
		}
		r.Seq = n + 1
		r.CreatedAt = now
	} else {
		existing, err := s.Get(r.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			r.Seq = existing.Seq
			r.CreatedAt = existing.CreatedAt
		} else {
			n, seqErr := s.seq.Next()
			if seqErr != nil {
				return fmt.Errorf("next rule sequence: %w", seqErr)
			}
			r.Seq = n + 1
			r.CreatedAt = now
		}
	}
	r.UpdatedAt = now

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rulePrefix+r.ID), data)
	})
}

// Get returns the rule with the given id.
func (s *Store) Get(id string) (*Rule, error) {
	var rule *Rule
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rulePrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rule = &Rule{}
			return json.Unmarshal(val, rule)
		})
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Delete removes the rule with the given id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(rulePrefix + id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// List returns all rules in creation order.
func (s *Store) List() ([]*Rule, error) {
	var out []*Rule
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(rulePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r := &Rule{}
				if err := json.Unmarshal(val, r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
